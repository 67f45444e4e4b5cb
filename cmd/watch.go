package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/config"
	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sync engine in the foreground",
	Long: `Keeps syncing until interrupted: probes connectivity, runs a cycle on
every pull interval, and syncs immediately when the connection comes back.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		eng, stat, client, err := buildEngine(st)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		watcher := status.NewWatcher(client, stat, config.GetProbeInterval())
		watcher.OnOnline = eng.Trigger

		go watcher.Run(ctx)

		fmt.Println("fieldsync watch: syncing until interrupted (ctrl+c to stop)")
		err = eng.Watch(ctx)
		if errors.Is(err, context.Canceled) {
			fmt.Println("stopped")
			return nil
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
