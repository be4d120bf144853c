package main

import (
	"fmt"
	"io"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/modelapi/adapters/chirouter"
	"github.com/artpar/modelapi/adapters/idgen"
	"github.com/artpar/modelapi/bootstrap"
	"github.com/artpar/modelapi/config"
	"github.com/artpar/modelapi/core/api"
	"github.com/artpar/modelapi/core/model"
	"github.com/artpar/modelapi/core/storage"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate model descriptions before deployment",
	Long: `Validate the model descriptions and the resources built from them.

Checks:
  - Configuration is valid
  - Every model file parses and passes validation
  - Configured resources name known models
  - Every schema builds (field kinds, expressions, foreign keys)
  - Every nested field names a published resource

The model directory defaults to models.dir from the configuration.

Examples:
  modelapi validate
  modelapi validate ./models`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config valid\n", crossMark)
		return err
	}
	fmt.Fprintf(out, "  %s Config valid\n", checkMark)

	dir := cfg.Models.Dir
	if len(args) == 1 {
		dir = args[0]
	}

	a, err := publish(out, dir, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d resources valid\n", a.Registry().Len())
	return nil
}

// publish loads the models under dir and publishes the configured resources
// on a throwaway router and memory store.
func publish(out io.Writer, dir string, cfg *config.Config) (*api.API, error) {
	models, err := model.ParseDir(dir)
	if err != nil {
		fmt.Fprintf(out, "  %s Models parse\n", crossMark)
		return nil, err
	}
	fmt.Fprintf(out, "  %s Models parse (%d in %s)\n", checkMark, len(models), dir)

	pubs, err := bootstrap.Select(models, cfg.Resources)
	if err != nil {
		fmt.Fprintf(out, "  %s Resources selected\n", crossMark)
		return nil, err
	}
	fmt.Fprintf(out, "  %s Resources selected (%d)\n", checkMark, len(pubs))

	a := api.New(
		api.WithBaseURL(cfg.Server.PublicURL),
		api.WithMaxDepth(cfg.Serializer.MaxDepth),
	)
	for _, p := range pubs {
		if err := a.RegisterResource(p.Model, p.Prefix); err != nil {
			return nil, err
		}
	}

	router := chirouter.New(chi.NewRouter(), zerolog.Nop())
	if err := a.AttachRuntime(router, storage.NewMemory(idgen.Options())); err != nil {
		fmt.Fprintf(out, "  %s Schemas build\n", crossMark)
		return nil, err
	}
	fmt.Fprintf(out, "  %s Schemas build\n", checkMark)
	return a, nil
}
