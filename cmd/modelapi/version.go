package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/modelapi/bootstrap"
)

// Set via ldflags at build time
var buildDate = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "modelapi %s\n", bootstrap.Version)
		if bootstrap.Commit != "" {
			fmt.Fprintf(out, "  commit:  %s\n", bootstrap.Commit)
		}
		fmt.Fprintf(out, "  built:   %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
