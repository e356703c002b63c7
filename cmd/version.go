package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var appCommit = "none"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and commit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("awf %s (commit: %s)\n", appVersion, appCommit)
	},
}
