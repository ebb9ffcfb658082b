package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newt-tracker/offline/internal/config"
	"github.com/newt-tracker/offline/internal/observe"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Run install and activate once against the configured store, then exit",
	Long: `warm installs the asset manifest into the current version's store and
deletes every other version's store. Run it from a deploy job so replicas start
against a populated shared store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		rt, err := newRuntime(cmd.Context(), cfg, logger, observe.NoopMetrics{})
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.worker.Start(cmd.Context()); err != nil {
			return err
		}
		logger.Info("cache warmed", zap.String("cache", cfg.CacheName()), zap.Int("assets", len(cfg.Manifest)))
		fmt.Fprintln(cmd.OutOrStdout(), cfg.CacheName())
		return nil
	},
}
