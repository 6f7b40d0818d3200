package cmd

import (
	"fmt"

	"github.com/marcus/offsync/internal/output"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local resource cache",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <resource-kind> <resource-id>",
	Short: "Read a cached resource snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		entry, err := rt.Engine.CachedResource(args[0], args[1])
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("no cached %s/%s", args[0], args[1])
		}
		if jsonOut {
			return output.JSON(entry)
		}
		fmt.Println(string(entry.Data))
		output.Info("updated %s, expires %s", entry.UpdatedAt.Local().Format("2006-01-02 15:04:05"), entry.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		n, err := rt.Engine.SweepCache()
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(map[string]int{"swept": n})
		}
		output.Success("swept %d expired cache entr(ies)", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	rootCmd.AddCommand(cacheCmd)
}
