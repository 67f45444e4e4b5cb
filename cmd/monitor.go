package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/config"
	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/remote"
	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
	"github.com/harlan/fieldsync/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard for sync health",
	Long: `Launch a live-updating TUI dashboard showing:
- Sync status: connectivity, last sync time, queue and conflict counts
- Mutation queue: pending and dead-lettered mutations
- Sync history: recent pushes, pulls, conflicts, and resolutions

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k            Scroll viewport
  r              Force refresh
  ?              Toggle help
  q              Quit`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}

		var prober status.Prober
		if config.IsAuthenticated() {
			deviceID, err := config.GetDeviceID()
			if err != nil {
				output.Error("%v", err)
				return err
			}
			prober = remote.NewClient(config.GetServerURL(), config.GetAPIKey(), deviceID, config.GetTimeout())
		}

		model := monitor.NewModel(st, prober, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval")
	rootCmd.AddCommand(monitorCmd)
}
