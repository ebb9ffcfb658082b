package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newt-tracker/offline/internal/config"
	"github.com/newt-tracker/offline/internal/observe"
)

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "List the cache stores present in the configured storage",
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

		names, err := rt.storage.Names(cmd.Context())
		if err != nil {
			return err
		}
		current := cfg.CacheName()
		for _, name := range names {
			marker := " "
			if name == current {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
		return nil
	},
}
