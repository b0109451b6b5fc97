package cmd

import (
	"permitinfo-backend/internal/progress"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "List the active permits along with the plates that can be assigned to each.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		id, err := progress.NewID()
		if err != nil {
			fatal(err)
		}
		permits, err := newDriver().Scrape(cmd.Context(), id, newPrintSink())
		if err != nil {
			fatal(err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Permit", "Description", "Plate", "Vehicle", "Active"})
		for _, p := range permits {
			if len(p.AvailablePlates) == 0 {
				t.AppendRow(table.Row{p.PermitNo, p.Description, "", "", ""})
			}
			for _, plate := range p.AvailablePlates {
				active := ""
				if plate.Selected {
					active = "*"
				}
				t.AppendRow(table.Row{p.PermitNo, p.Description, plate.Plate, plate.Name, active})
			}
			t.AppendSeparator()
		}
		t.Render()
	},
}
