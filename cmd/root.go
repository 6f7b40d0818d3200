// Package cmd implements the offsync command-line interface.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version string
	dataDir string
	jsonOut bool
)

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "offsync",
	Short: "Offline-first mutation queue and sync engine",
	Long: `offsync - record create/update/delete mutations while disconnected,
replay them against a remote authority in causal order once connectivity
returns, and resolve write-write conflicts explicitly.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the local database directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable JSON output")
}

func initLogging() {
	level := slog.LevelWarn
	switch os.Getenv("OFFSYNC_DEBUG") {
	case "1", "true":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
