package cmd

import (
	"fmt"

	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and sync configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		counts, err := rt.Store.CountByStatus()
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(map[string]any{
				"counts":     counts,
				"server_url": rt.Config.ServerURL,
				"device_id":  rt.Config.DeviceID,
			})
		}

		fmt.Printf("server:     %s\n", rt.Config.ServerURL)
		fmt.Printf("device:     %s\n", rt.Config.DeviceID)
		fmt.Println()
		for _, st := range []models.Status{
			models.StatusPending,
			models.StatusSyncing,
			models.StatusConflicted,
			models.StatusCompleted,
		} {
			fmt.Printf("%-11s %d\n", string(st)+":", counts[st])
		}
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued mutations awaiting sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		muts, err := rt.Engine.PendingMutations()
		if err != nil {
			return err
		}

		if jsonOut {
			return output.JSON(muts)
		}
		if len(muts) == 0 {
			output.Info("queue is empty")
			return nil
		}
		for i := range muts {
			output.Mutation(&muts[i])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pendingCmd)
}
