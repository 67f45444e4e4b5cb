package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/store"
)

var deadletterCmd = &cobra.Command{
	Use:     "deadletter",
	Short:   "List mutations that ran out of retries",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		dead, err := st.ListDeadLetters()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return output.JSON(dead)
		}

		if len(dead) == 0 {
			fmt.Println("No dead-lettered mutations.")
			return nil
		}

		for i := range dead {
			fmt.Println(output.FormatMutation(&dead[i]))
		}
		fmt.Println("\nRequeue with: fieldsync deadletter retry <id>")
		fmt.Println("Discard with: fieldsync deadletter discard <id>")
		return nil
	},
}

var deadletterRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a dead-lettered mutation with a fresh retry budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("invalid mutation id %q", args[0])
			return err
		}

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		if err := st.RetryDeadLetter(id); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("mutation #%d requeued", id)
		return nil
	},
}

var deadletterDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Drop a dead-lettered mutation permanently",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			output.Error("invalid mutation id %q", args[0])
			return err
		}

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		if err := st.DiscardDeadLetter(id); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("mutation #%d discarded", id)
		return nil
	},
}

func init() {
	deadletterCmd.Flags().Bool("json", false, "Output as JSON")
	deadletterCmd.AddCommand(deadletterRetryCmd)
	deadletterCmd.AddCommand(deadletterDiscardCmd)
	rootCmd.AddCommand(deadletterCmd)
}
