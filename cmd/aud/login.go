package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/auditdesk/auditdesk/internal/config"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "ops",
	Short:   "Store the API token used for sync",
	Long: `Store the bearer token the sync engine presents to the cloud API.

The token is written to the credentials file in the data directory with
0600 permissions. A running daemon picks up the new token on its next
remote call; no restart is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")

		if token == "" {
			fmt.Fprint(os.Stderr, "API token: ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read token: %w", err)
			}
			token = strings.TrimSpace(string(raw))
		}

		if token == "" {
			return fmt.Errorf("token cannot be empty")
		}

		if err := config.SaveToken(settings.DataDir, token); err != nil {
			return err
		}
		fmt.Println("Token saved")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "token value (omit to be prompted)")
	rootCmd.AddCommand(loginCmd)
}
