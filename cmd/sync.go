package cmd

import (
	"time"

	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the mutation queue against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		start := time.Now()
		if err := rt.Client.HealthCheck(cmd.Context()); err != nil {
			rt.Engine.SetOnline(false)
			output.Warning("server unreachable: %v", err)
			output.Info("mutations stay queued until connectivity returns")
			return nil
		}
		rt.Engine.SetOnline(true)

		summary, err := rt.Engine.Drain(cmd.Context())
		if err != nil {
			return err
		}
		if summary.Skipped {
			output.Info("a sync cycle is already running")
			return nil
		}

		if jsonOut {
			return output.JSON(summary)
		}
		output.Success("synced %d mutation(s) in %s", summary.Processed, time.Since(start).Round(time.Millisecond))
		if summary.Conflicts > 0 {
			output.Warning("%d conflict(s) recorded; run 'offsync conflicts' to resolve", summary.Conflicts)
		}
		if summary.Failed > 0 {
			output.Warning("%d mutation(s) failed transiently and will be retried", summary.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
