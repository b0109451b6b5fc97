package main

import (
	"context"
	"log/slog"
	"permitinfo-backend/internal/components/telemetry"
	"permitinfo-backend/pkg/restyutil"
)

const report_telemetry_setup = "telemetry.setup"

// InitTelemetry installs logging and, when a telemetry.json5 can be found,
// the otlp exporters.
func InitTelemetry(ctx context.Context, verbose bool, tel telemetry.API) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	t, err := telemetry.SetupFromEnv(ctx, "permitinfo-server")
	if err != nil {
		tel.ReportWarning(report_telemetry_setup, err)
	} else {
		go func() {
			<-ctx.Done()
			t.Shutdown(context.Background())
		}()
	}
	telemetry.InstrumentPerfStats(ctx, tel)
}

// restyDump returns where the form login client dumps its http messages, nil
// unless debugging.
func restyDump(debug bool, tel telemetry.API) restyutil.Output {
	if !debug {
		return nil
	}
	out, err := restyutil.NewFilesystemOutput(".dev/resty/permitinfo")
	if err != nil {
		tel.ReportWarning(report_telemetry_setup, err)
		return nil
	}
	return out
}
