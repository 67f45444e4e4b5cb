package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/store"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local cache",
	Long:    `Creates the local .fieldsync directory and SQLite cache database.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		baseDir := getBaseDir()

		if _, err := os.Stat(filepath.Join(baseDir, ".fieldsync")); err == nil {
			output.Warning(".fieldsync/ already exists")
			return nil
		}

		st, err := store.Initialize(baseDir)
		if err != nil {
			output.Error("failed to initialize cache: %v", err)
			return err
		}
		defer st.Close()

		fmt.Println("INITIALIZED .fieldsync/")

		gitignorePath := filepath.Join(baseDir, ".gitignore")
		if _, err := os.Stat(filepath.Join(baseDir, ".git")); err == nil {
			addToGitignore(gitignorePath)
		}

		return nil
	},
}

func addToGitignore(path string) {
	content, _ := os.ReadFile(path)
	contentStr := string(content)

	if strings.Contains(contentStr, ".fieldsync/") {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()

	if len(contentStr) > 0 && !strings.HasSuffix(contentStr, "\n") {
		f.WriteString("\n")
	}

	f.WriteString(".fieldsync/\n")
	fmt.Println("Added .fieldsync/ to .gitignore")
}

func init() {
	rootCmd.AddCommand(initCmd)
}
