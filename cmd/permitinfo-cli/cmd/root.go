package cmd

import (
	"fmt"
	"os"
	"permitinfo-backend/internal/browser"
	"permitinfo-backend/internal/components/serviceutil"
	"permitinfo-backend/internal/components/telemetry"
	"permitinfo-backend/internal/scrapers/permitinfo"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	baseUrl     string
	username    string
	password    string
	debug       bool
	verbose     bool
	headful     bool
	remoteUrl   string
	snapshotDir string
)

var tel telemetry.API = telemetry.SlogAPI{}

var rootCmd = &cobra.Command{
	Use:   "permitinfo-cli",
	Short: "permitinfo-cli drives the columbus.permitinfo.net portal from the command line.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&baseUrl, "base-url", permitinfo.DefaultBaseUrl, "Base url of the portal.")
	flags.StringVarP(&username, "username", "u", os.Getenv("PERMITINFO_USERNAME"), "Portal username, defaults to $PERMITINFO_USERNAME.")
	flags.StringVarP(&password, "password", "p", os.Getenv("PERMITINFO_PASSWORD"), "Portal password, defaults to $PERMITINFO_PASSWORD.")
	flags.BoolVar(&debug, "debug", false, "Capture a screenshot whenever a step fails.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	flags.BoolVar(&headful, "headful", false, "Show the browser window.")
	flags.StringVar(&remoteUrl, "remote-url", "", "Devtools url of an already running browser.")
	flags.StringVar(&snapshotDir, "snapshot-dir", ".", "Where screenshots from the progress stream are saved.")
}

func credentials() permitinfo.Credentials {
	return permitinfo.Credentials{Username: username, Password: password}
}

func newDriver() permitinfo.Driver {
	cfg := permitinfo.Config{
		BaseUrl:     baseUrl,
		Credentials: credentials(),
		Debug:       debug,
	}
	launcher := browser.NewChromeLauncher(cfg.BrowserOptions(browser.Options{
		Headless:  !headful,
		RemoteURL: remoteUrl,
	}), tel)
	return permitinfo.NewDriver(cfg, launcher, tel)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func Execute() {
	if err := rootCmd.ExecuteContext(serviceutil.SignalContext()); err != nil {
		fatal(err)
	}
}
