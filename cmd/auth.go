package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harlan/fieldsync/internal/config"
	"github.com/harlan/fieldsync/internal/output"
	"github.com/harlan/fieldsync/internal/remote"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage backend credentials",
	GroupID: "system",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API key for the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = config.GetServerURL()
		}

		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			fmt.Print("API key: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read api key: %w", err)
			}
			apiKey = strings.TrimSpace(line)
		}
		if apiKey == "" {
			output.Error("no API key given")
			return fmt.Errorf("empty api key")
		}

		deviceID, err := config.GetDeviceID()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		// Verify the key before persisting it.
		client := remote.NewClient(serverURL, apiKey, deviceID, config.GetTimeout())
		if err := client.Health(cmd.Context()); err != nil {
			output.Error("server check failed: %v", err)
			return err
		}

		creds, err := config.LoadAuth()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if creds == nil {
			creds = &config.AuthCredentials{}
		}
		creds.APIKey = apiKey
		creds.ServerURL = serverURL
		creds.DeviceID = deviceID
		if err := config.SaveAuth(creds); err != nil {
			output.Error("%v", err)
			return err
		}

		output.Success("logged in to %s", serverURL)
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearAuth(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadAuth()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in.")
			return nil
		}
		fmt.Printf("Server:    %s\n", config.GetServerURL())
		fmt.Printf("Device ID: %s\n", creds.DeviceID)
		if creds.Email != "" {
			fmt.Printf("Email:     %s\n", creds.Email)
		}
		fmt.Println("API key:   configured")
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("server", "", "Sync server URL")
	authLoginCmd.Flags().String("api-key", "", "API key (prompted when omitted)")

	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
