package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/store"
	fsync "github.com/harlan/fieldsync/internal/sync"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Short:   "List unresolved sync conflicts",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		conflicts, err := st.ListUnresolvedConflicts()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return output.JSON(conflicts)
		}

		if len(conflicts) == 0 {
			fmt.Println("No unresolved conflicts.")
			return nil
		}

		for i := range conflicts {
			fmt.Println(output.FormatConflict(&conflicts[i]))
			fmt.Println()
		}
		fmt.Println("Resolve with: fieldsync conflicts resolve <id> <keep-local|keep-remote|merge>")
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <id> <strategy>",
	Short: "Resolve a conflict (keep-local, keep-remote, or merge)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("invalid conflict id %q", args[0])
			return err
		}
		strategy, err := fsync.ParseStrategy(args[1])
		if err != nil {
			output.Error("%v", err)
			return err
		}

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		resolver := fsync.NewResolver(st, nil)
		if err := resolver.Resolve(id, strategy); err != nil {
			output.Error("%v", err)
			return err
		}

		output.Success("conflict #%d resolved (%s)", id, strategy)
		if strategy != fsync.KeepRemote {
			fmt.Println("Run 'fieldsync sync' to push the winning version.")
		}
		return nil
	},
}

func init() {
	conflictsCmd.Flags().Bool("json", false, "Output as JSON")
	conflictsCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}
