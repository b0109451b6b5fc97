package main

import (
	"permitinfo-backend/internal/browser"
	"permitinfo-backend/internal/components/configutil"
	"permitinfo-backend/internal/notify"
	"permitinfo-backend/internal/scrapers/permitinfo"
	"time"
)

const defaultPort = 3000

type PortalConfig struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username" env:"PERMITINFO_USERNAME"`
	Password string `json:"password" env:"PERMITINFO_PASSWORD"`
}

type BrowserConfig struct {
	// Headless defaults to true.
	Headless  *bool  `json:"headless"`
	RemoteUrl string `json:"remote_url"`
	ExecPath  string `json:"exec_path"`
	UserAgent string `json:"user_agent"`
}

// TimeoutsConfig is in milliseconds, zero picks the default.
type TimeoutsConfig struct {
	Default    int `json:"default"`
	LoginField int `json:"login_field"`
	DetailLink int `json:"detail_link"`
	IdleWindow int `json:"idle_window"`
}

type Config struct {
	Port              int            `json:"port" env:"PORT"`
	// Debug is a pointer so that config.local.json5 can turn it off.
	Debug             *bool          `json:"debug"`
	Portal            PortalConfig   `json:"portal"`
	Browser           BrowserConfig  `json:"browser"`
	Timeouts          TimeoutsConfig `json:"timeouts"`
	EnrichConcurrency int            `json:"enrich_concurrency"`
	Notify            notify.Config  `json:"notify"`
}

// LoadConfig reads config.json5 (and config.local.json5) if there is one,
// then applies the PORT, PERMITINFO_USERNAME and PERMITINFO_PASSWORD
// environment variables.
func LoadConfig(name string) (Config, error) {
	cfg, err := configutil.Load[Config](name)
	if err != nil {
		return Config{}, err
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	return cfg, nil
}

func (c Config) DebugEnabled() bool {
	return c.Debug != nil && *c.Debug
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (c Config) Permitinfo() permitinfo.Config {
	return permitinfo.Config{
		BaseUrl: c.Portal.BaseUrl,
		Credentials: permitinfo.Credentials{
			Username: c.Portal.Username,
			Password: c.Portal.Password,
		},
		Debug:             c.DebugEnabled(),
		EnrichConcurrency: c.EnrichConcurrency,
		Timeouts: permitinfo.Timeouts{
			Default:    millis(c.Timeouts.Default),
			LoginField: millis(c.Timeouts.LoginField),
			DetailLink: millis(c.Timeouts.DetailLink),
			IdleWindow: millis(c.Timeouts.IdleWindow),
		},
	}
}

func (c Config) BrowserOptions() browser.Options {
	headless := true
	if c.Browser.Headless != nil {
		headless = *c.Browser.Headless
	}
	return c.Permitinfo().BrowserOptions(browser.Options{
		Headless:  headless,
		RemoteURL: c.Browser.RemoteUrl,
		ExecPath:  c.Browser.ExecPath,
		UserAgent: c.Browser.UserAgent,
	})
}
