package cmd

import (
	"fmt"
	"permitinfo-backend/internal/progress"
	"permitinfo-backend/internal/scrapers/permitinfo"

	"github.com/spf13/cobra"
)

var currentPlate string

func init() {
	updateCmd.Flags().StringVar(&currentPlate, "current", "", "Plate that is active right now, if any.")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update <detail page url> <plate>",
	Short: "Make <plate> the active plate of the permit at <detail page url>.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := progress.NewID()
		if err != nil {
			fatal(err)
		}
		err = newDriver().Update(cmd.Context(), id, newPrintSink(), permitinfo.UpdateRequest{
			DetailPageUrl:   args[0],
			CurrentPlate:    currentPlate,
			PlateToActivate: args[1],
		})
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s is now the active plate\n", args[1])
	},
}
