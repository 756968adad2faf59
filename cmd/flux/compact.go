package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/flux/pkg/api"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run one text-index compaction pass against a data directory and exit",
	Long: `Opens the data directory's durable log, runs one compaction pass over
every text index the opened database holds, then exits. Text indexes and their
segments live in memory and are not reloaded from the data directory, so a
freshly opened database holds none and the pass has nothing to merge.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		db, err := api.New(cfg)
		if err != nil {
			return fmt.Errorf("flux: open database: %w", err)
		}
		defer db.Close()

		if err := db.CompactAllTextIndices(); err != nil {
			return fmt.Errorf("flux: compact: %w", err)
		}
		fmt.Println("compaction complete")
		return nil
	},
}

func init() {
	compactCmd.Flags().String("data-dir", "", "Override the configured data directory")
}
