package cmd

import (
	"context"
	"permitinfo-backend/internal/progress"
	"permitinfo-backend/internal/scrapers/permitinfo"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

// readDashboard reads every row of the dashboard, unlike Driver.Scrape it
// keeps inactive permits and does not open any detail page.
func readDashboard(ctx context.Context) ([]permitinfo.Permit, error) {
	id, err := progress.NewID()
	if err != nil {
		return nil, err
	}
	session, err := newDriver().Begin(ctx, id, newPrintSink())
	if err != nil {
		return nil, err
	}
	defer session.End()

	err = session.Authenticate(ctx, credentials())
	if err != nil {
		return nil, err
	}
	return session.ReadDashboard(ctx)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every permit on the dashboard, whatever its status.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		permits, err := readDashboard(cmd.Context())
		if err != nil {
			fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Permit", "Status", "Description", "Valid from", "Valid to", "Vehicle"})
		for _, p := range permits {
			t.AppendRow(table.Row{p.PermitNo, p.Status, p.Description, p.ValidFrom, p.ValidTo, p.Vehicle})
		}
		t.Render()
	},
}
