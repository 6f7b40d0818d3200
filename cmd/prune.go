package cmd

import (
	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove completed mutations from the queue",
	Long: `Remove completed mutations from the local queue. Conflict history is
kept in the ledger regardless, so pruning never loses resolution records.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.Engine.PruneCompleted()
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(map[string]int{"pruned": n})
		}
		output.Success("pruned %d completed mutation(s)", n)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <mutation-id>",
	Short: "Reset a mutation's retry budget and queue it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Engine.RetryMutation(args[0]); err != nil {
			return err
		}
		output.Success("queued %s for retry", args[0])
		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <mutation-id>",
	Short: "Drop a queued mutation without syncing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Engine.DiscardMutation(args[0]); err != nil {
			return err
		}
		output.Success("discarded %s", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(discardCmd)
}
