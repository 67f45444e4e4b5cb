package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/store"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show recent sync activity",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 || limit > 1000 {
			output.Error("limit must be between 1 and 1000")
			return fmt.Errorf("invalid limit: %d", limit)
		}

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		entries, err := st.HistoryTail(limit)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return output.JSON(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No sync activity yet.")
			return nil
		}
		for i := range entries {
			fmt.Println(output.FormatHistoryEntry(&entries[i]))
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "Max entries to show")
	historyCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(historyCmd)
}
