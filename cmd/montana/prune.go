package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eigerco/montana/internal/config"
	"github.com/eigerco/montana/internal/store"
	"github.com/eigerco/montana/pkg/log"
)

func pruneCommand(configPath *string) *cobra.Command {
	var before uint64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Deletes stored slices older than a period and ledger snapshots below the latest FINAL checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				return fmt.Errorf("prune needs a data_dir")
			}
			if err := initLogging(cfg); err != nil {
				return err
			}

			st, err := store.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.DeleteSlicesBefore(before)
			if err != nil {
				return err
			}
			// snapshots are keyed by height; a restart needs the one at the
			// latest FINAL checkpoint
			cps, err := st.FinalCheckpoints()
			if err != nil {
				return err
			}
			var keep uint64
			if len(cps) > 0 {
				keep = cps[len(cps)-1].Height
				if err := st.DeleteSnapshotsBefore(keep); err != nil {
					return err
				}
			}
			log.Storage.Info().
				Uint64("before", before).
				Int("slices", n).
				Uint64("snapshots_from_height", keep).
				Msg("Pruned store")
			return nil
		},
	}
	cmd.Flags().Uint64Var(&before, "before", 0, "first period to keep")
	_ = cmd.MarkFlagRequired("before")
	return cmd
}
