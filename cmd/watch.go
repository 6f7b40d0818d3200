package cmd

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/offsync/internal/monitor"
	"github.com/marcus/offsync/internal/tui/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard: queue counts and sync events",
	Long: `Open a terminal dashboard showing queue depth by status and the tail of
the sync event stream. While the dashboard is open, a background monitor
probes the server and drains the queue on the configured interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		mon := monitor.New(rt.Engine, rt.Client.HealthCheck, rt.Engine.Policy().SyncInterval)
		go mon.Run(ctx)
		mon.Poke(ctx)

		model := watch.New(rt.Store, rt.Engine.Bus())
		p := tea.NewProgram(model, tea.WithAltScreen())
		_, err = p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
