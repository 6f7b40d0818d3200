package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/marcus/offsync/internal/api"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/serverdb"
	"github.com/marcus/offsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var (
	serveAddr   string
	serveDBPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference sync server",
	Long: `Run the reference sync server that offsync clients drain against. It
accepts one mutation per request, replays duplicates idempotently, and
rejects stale writes with a structured conflict response.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := serveDBPath
		if dbPath == "" {
			dir, err := syncconfig.DataDir()
			if err != nil {
				return err
			}
			dbPath = filepath.Join(dir, "server.db")
		}

		db, err := serverdb.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		srv := api.NewServer(api.Config{
			ListenAddr: serveAddr,
			APIKey:     os.Getenv("OFFSYNC_API_KEY"),
		}, db)

		if err := srv.Start(); err != nil {
			return err
		}
		output.Success("sync server listening on %s", serveAddr)
		slog.Info("server started", "addr", serveAddr, "db", dbPath)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		output.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "server database path (default: <data-dir>/server.db)")
	rootCmd.AddCommand(serveCmd)
}
