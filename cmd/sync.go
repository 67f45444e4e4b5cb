package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/config"
	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/remote"
	"github.com/harlan/fieldsync/internal/status"
	"github.com/harlan/fieldsync/internal/store"
	fsync "github.com/harlan/fieldsync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Push queued mutations and pull remote changes",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		statusOnly, _ := cmd.Flags().GetBool("status")

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		if statusOnly {
			return printSyncStatus(st)
		}

		eng, stat, client, err := buildEngine(st)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		ctx := cmd.Context()
		watcher := status.NewWatcher(client, stat, config.GetProbeInterval())
		if !watcher.Probe(ctx) {
			output.Error("server unreachable; changes stay queued locally")
			return fmt.Errorf("offline")
		}

		switch {
		case pushOnly:
			rep, err := eng.Push(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			printFlushReport(rep)
		case pullOnly:
			rep, err := eng.Pull(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			printPullReport(rep)
		default:
			rep, err := eng.RunCycle(ctx)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			printFlushReport(rep.Flush)
			printPullReport(rep.Pull)
		}

		snap := stat.Current()
		if snap.ConflictCount > 0 {
			output.Warning("%d unresolved conflicts (run: fieldsync conflicts)", snap.ConflictCount)
		}
		if snap.DeadLetterCount > 0 {
			output.Warning("%d dead-lettered mutations (run: fieldsync deadletter)", snap.DeadLetterCount)
		}
		return nil
	},
}

// buildEngine wires the store, backend client, and status store together.
func buildEngine(st *store.Store) (*fsync.Engine, *status.Store, *remote.Client, error) {
	if !config.IsAuthenticated() {
		return nil, nil, nil, fmt.Errorf("not logged in (run: fieldsync auth login)")
	}
	deviceID, err := config.GetDeviceID()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("device id: %w", err)
	}

	client := remote.NewClient(config.GetServerURL(), config.GetAPIKey(), deviceID, config.GetTimeout())
	stat := status.NewStore()
	eng := fsync.New(st, client, stat, fsync.Options{
		MaxRetries:   config.GetMaxRetries(),
		PullInterval: config.GetPullInterval(),
	})
	eng.RefreshCounts()
	return eng, stat, client, nil
}

func printSyncStatus(st *store.Store) error {
	pending, err := st.CountPending()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	dead, err := st.CountDeadLetters()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	conflicts, err := st.CountUnresolvedConflicts()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	dirty, err := st.CountDirtyRecords()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	lastSync, err := st.LastSyncAt()
	if err != nil {
		output.Error("%v", err)
		return err
	}

	fmt.Printf("Pending:      %d\n", pending)
	fmt.Printf("Dead letters: %d\n", dead)
	fmt.Printf("Conflicts:    %d\n", conflicts)
	fmt.Printf("Dirty:        %d\n", dirty)
	if lastSync != nil {
		fmt.Printf("Last sync:    %s (%s)\n",
			lastSync.Local().Format("2006-01-02 15:04:05"), output.FormatTimeAgo(*lastSync))
	} else {
		fmt.Println("Last sync:    never")
	}
	return nil
}

func printFlushReport(rep fsync.FlushReport) {
	if rep.Attempted == 0 {
		fmt.Println("Nothing to push.")
		return
	}
	output.Success("pushed %d/%d mutations", rep.Succeeded, rep.Attempted)
	if rep.Retried > 0 {
		output.Warning("%d mutations rescheduled for retry", rep.Retried)
	}
	if rep.DeadLettered > 0 {
		output.Warning("%d mutations dead-lettered", rep.DeadLettered)
	}
}

func printPullReport(rep fsync.PullReport) {
	if rep.Applied == 0 && rep.Conflicted == 0 {
		fmt.Println("No remote changes.")
		return
	}
	output.Success("applied %d remote changes (%d deletions)", rep.Applied, rep.Deleted)
	if rep.Conflicted > 0 {
		output.Warning("%d conflicts detected", rep.Conflicted)
	}
}

func init() {
	syncCmd.Flags().Bool("push", false, "Only push queued mutations")
	syncCmd.Flags().Bool("pull", false, "Only pull remote changes")
	syncCmd.Flags().Bool("status", false, "Show sync status without touching the network")
	rootCmd.AddCommand(syncCmd)
}
