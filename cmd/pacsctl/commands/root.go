package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pacs-index/internal/config"
	"pacs-index/internal/logging"
	"pacs-index/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pacsctl",
	Short: "Operator CLI for the NAS image index",
	Long:  `Runs indexing, searches patients, and inspects devices against the local index store.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./pacs-index.yaml)")
}

// openStore loads the configuration and opens the index store, the
// shared preamble of every subcommand.
func openStore(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	logging.Init(cfg.Log.Level, "console", "")

	st, err := store.New(ctx, cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open index store: %w", err)
	}
	return cfg, st, nil
}
