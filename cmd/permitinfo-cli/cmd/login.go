package cmd

import (
	"fmt"
	"permitinfo-backend/internal/scrapers/permitinfo"
	"permitinfo-backend/pkg/restyutil"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check that the portal accepts the credentials, without launching a browser.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var dump restyutil.Output
		if debug {
			out, err := restyutil.NewFilesystemOutput(".dev/resty/permitinfo")
			if err != nil {
				fatal(err)
			}
			dump = out
		}

		err := permitinfo.NewFormLogin(baseUrl, dump, tel).Check(cmd.Context(), credentials())
		if err != nil {
			fatal(err)
		}
		fmt.Println("login successful")
	},
}
