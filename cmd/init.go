package cmd

import (
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/store"
	"github.com/marcus/offsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the local database and default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.Load()
		if err != nil {
			return err
		}

		dir := dataDir
		if dir == "" {
			if dir, err = syncconfig.DataDir(); err != nil {
				return err
			}
		}

		st, err := store.Initialize(dir)
		if err != nil {
			return err
		}
		defer st.Close()

		output.Success("initialized offsync database in %s", dir)
		output.Info("device id: %s", cfg.DeviceID)
		output.Info("server:    %s", cfg.ServerURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
