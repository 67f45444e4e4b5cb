package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/payload"
	"github.com/harlan/fieldsync/internal/store"
)

var putCmd = &cobra.Command{
	Use:     "put <table> <id> [json]",
	Short:   "Create or update a record locally",
	Long:    `Writes a record to the local cache and queues it for sync. The payload comes from the third argument, --file, or stdin.`,
	GroupID: "data",
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, id := args[0], args[1]

		data, err := readPayload(cmd, args)
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

		mut, err := st.PutLocal(table, id, data)
		if err != nil {
			reportError(err, false)
			return err
		}

		output.Success("%s %s/%s (queued #%d)", mut.Op, table, id, mut.ID)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:     "get <table> <id>",
	Short:   "Show a cached record",
	GroupID: "data",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, id := args[0], args[1]
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := store.Open(getBaseDir())
		if err != nil {
			reportError(err, asJSON)
			return err
		}
		defer st.Close()

		rec, err := st.GetRecord(table, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				if asJSON {
					output.JSONError(output.ErrCodeNotFound, fmt.Sprintf("record %s/%s not found", table, id))
				} else {
					output.Error("record %s/%s not found", table, id)
				}
			} else {
				reportError(err, asJSON)
			}
			return err
		}
		if rec.DeletedAt != nil {
			output.Warning("record %s/%s is deleted locally (pending sync)", table, id)
			return nil
		}

		if asJSON {
			return output.JSON(rec)
		}

		fmt.Println(output.FormatRecordShort(rec))
		var pretty any
		if err := json.Unmarshal(rec.Payload, &pretty); err == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(data))
		} else {
			fmt.Println(string(rec.Payload))
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <table> <id>",
	Short:   "Delete a record locally",
	Long:    `Tombstones the record in the local cache and queues the delete for sync.`,
	GroupID: "data",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, id := args[0], args[1]

		st, err := store.Open(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer st.Close()

		mut, err := st.DeleteLocal(table, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				output.Error("record %s/%s not found", table, id)
			} else {
				reportError(err, false)
			}
			return err
		}

		output.Success("deleted %s/%s (queued #%d)", table, id, mut.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list [table]",
	Short:   "List cached records",
	GroupID: "data",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dirtyOnly, _ := cmd.Flags().GetBool("dirty")
		asJSON, _ := cmd.Flags().GetBool("json")

		st, err := store.Open(getBaseDir())
		if err != nil {
			reportError(err, asJSON)
			return err
		}
		defer st.Close()

		tables := payload.Tables()
		if len(args) == 1 {
			if !payload.Known(args[0]) {
				if asJSON {
					output.JSONError(output.ErrCodeInvalidInput, fmt.Sprintf("unknown table %q", args[0]))
				} else {
					output.Error("unknown table %q (want one of: %v)", args[0], payload.Tables())
				}
				return fmt.Errorf("unknown table %q", args[0])
			}
			tables = args[0:1]
		}

		var all []store.CachedRecord
		for _, table := range tables {
			records, err := st.ListRecords(table, dirtyOnly)
			if err != nil {
				reportError(err, asJSON)
				return err
			}
			all = append(all, records...)
		}

		if asJSON {
			return output.JSON(all)
		}

		if len(all) == 0 {
			fmt.Println("No records.")
			return nil
		}
		for i := range all {
			fmt.Println(output.FormatRecordShort(&all[i]))
		}
		return nil
	},
}

// readPayload gets the record payload from the arg, --file, or stdin.
func readPayload(cmd *cobra.Command, args []string) (json.RawMessage, error) {
	if len(args) == 3 {
		return json.RawMessage(args[2]), nil
	}
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no payload given (arg, --file, or stdin)")
	}
	return data, nil
}

// reportError prints a command error, giving storage failures an
// actionable hint and honoring --json output where the command has it.
func reportError(err error, asJSON bool) {
	code := output.ErrCodeDatabaseError
	msg := err.Error()

	var se *store.StorageError
	switch {
	case store.IsStorageFull(err):
		code = output.ErrCodeStorageFull
		msg = "local storage is full; free disk space and retry (no data was written)"
	case errors.As(err, &se) && se.Kind == store.KindUnavailable:
		code = output.ErrCodeUnavailable
	}

	if asJSON {
		output.JSONError(code, msg)
		return
	}
	output.Error("%s", msg)
}

func init() {
	putCmd.Flags().String("file", "", "Read the payload from a file")
	getCmd.Flags().Bool("json", false, "Output as JSON")
	listCmd.Flags().Bool("dirty", false, "Only records with unsynced changes")
	listCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(listCmd)
}
