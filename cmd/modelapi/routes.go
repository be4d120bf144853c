package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes [dir]",
	Short: "Print the endpoint table",
	Long: `Print the URL rules of every published resource.

Examples:
  modelapi routes
  modelapi routes ./models`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRoutes,
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func runRoutes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dir := cfg.Models.Dir
	if len(args) == 1 {
		dir = args[0]
	}

	a, err := publish(io.Discard, dir, cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tENDPOINT\tMETHODS\tPATTERN")
	fmt.Fprintln(w, "--------\t--------\t-------\t-------")

	for _, entry := range a.Registry().Entries() {
		for _, r := range entry.Routes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Resource, r.Endpoint, strings.Join(r.Methods, ","), r.Pattern)
		}
	}
	return w.Flush()
}
