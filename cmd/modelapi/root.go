package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/modelapi/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "modelapi",
	Short: "REST resources generated from model descriptions",
	Long: `modelapi publishes persisted models as JSON REST resources.

Each model gets a collection endpoint (list, create) and an item endpoint
(show, replace, delete) with nested representations of related models.

Quick start:
  modelapi validate   # Check the model descriptions
  modelapi routes     # Print the endpoint table
  modelapi serve      # Start the server`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "modelapi.yaml", "config file path")
}

// loadConfig reads the config file, or the environment when it is absent.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}
