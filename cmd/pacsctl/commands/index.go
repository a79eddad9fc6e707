package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"pacs-index/internal/indexer"
	"pacs-index/internal/store"
)

var fullRun bool

var indexCmd = &cobra.Command{
	Use:   "index [device-id]",
	Short: "Run an indexing pass for one device or all devices",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&fullRun, "full", false, "force a full run instead of incremental")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	for _, dev := range cfg.Devices {
		if err := st.RegisterDevice(ctx, dev); err != nil {
			return fmt.Errorf("register device %s: %w", dev.ID, err)
		}
	}

	engine := indexer.New(st, cfg)

	mode := store.RunIncremental
	if fullRun {
		mode = store.RunFull
	}

	if len(args) == 1 {
		var summary *indexer.RunSummary
		if mode == store.RunFull {
			summary, err = engine.RunFull(ctx, args[0])
		} else {
			summary, err = engine.RunIncremental(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("Run %s %s: processed=%d skipped=%d errors=%d in %v\n",
			summary.RunID, summary.Status, summary.Processed, summary.Skipped, summary.Errors, summary.Duration)
		return nil
	}

	if err := engine.RunAll(ctx, mode); err != nil {
		return err
	}
	fmt.Printf("Indexed %d devices (%s)\n", len(cfg.Devices), mode)
	return nil
}
