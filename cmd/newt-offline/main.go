package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newt-tracker/offline/internal/observe"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "newt-offline",
	Short: "Offline asset cache for the Newt Tracker dashboard",
	Long: `newt-offline fronts the Newt Tracker origin with a cache-first asset cache.

On start it installs the asset manifest into the store named for the current
cache version, deletes the stores of every other version, and then answers GET
requests from the cache, falling back to the origin and, for page navigations
during an outage, to the cached root document.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = observe.NewLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, warmCmd, cachesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
