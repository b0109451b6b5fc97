package main

import (
	"flag"
	"permitinfo-backend/internal/browser"
	"permitinfo-backend/internal/components/chrono"
	"permitinfo-backend/internal/components/serviceutil"
	"permitinfo-backend/internal/components/telemetry"
	"permitinfo-backend/internal/notify"
	"permitinfo-backend/internal/progress"
	"permitinfo-backend/internal/scrapers/permitinfo"
	"permitinfo-backend/internal/service"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the config file.")
	flag.Parse()

	ctx := serviceutil.SignalContext()
	tel := telemetry.SlogAPI{}

	InitTelemetry(ctx, *verbose, tel)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	clock, err := chrono.NewStandardImpl()
	if err != nil {
		serviceutil.Fatal("load timezone", err)
	}

	launcher := browser.NewChromeLauncher(cfg.BrowserOptions(), tel)
	driver := permitinfo.NewDriver(cfg.Permitinfo(), launcher, tel)
	formLogin := permitinfo.NewFormLogin(cfg.Portal.BaseUrl, restyDump(cfg.DebugEnabled(), tel), tel)

	svc, err := service.NewService(service.Options{
		Automation: driver,
		Checker:    formLogin,
		Notifier:   notify.NewMailer(cfg.Notify, tel),
		Registry:   progress.NewRegistry(clock, tel),
		Clock:      clock,
		Credentials: permitinfo.Credentials{
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
		},
	}, tel)
	if err != nil {
		serviceutil.Fatal("init service", err)
	}

	serviceutil.StartHttpServer(ctx, cfg.Port, svc.Router())
}
