package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lv10wizard/ig-highlights-bot-sub000/internal/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored reddit credentials",
	Long: `Manage the bot's reddit API credentials.

Credentials resolve from the system keychain, an encrypted file under the
data directory, or REDDIT_* environment variables, in that order.`,
}

var authSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Prompt for credentials and store them",
	Args:  cobra.NoArgs,
	RunE:  runAuthSet,
}

var authShowCmd = &cobra.Command{
	Use:   "show [username]",
	Short: "Show stored credentials with secrets masked",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthShow,
}

func init() {
	authCmd.AddCommand(authSetCmd, authShowCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	manager, err := auth.NewManager(cfg.DataDir)
	if err != nil {
		return err
	}

	creds, err := auth.PromptCredentials(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	if err := manager.Save(creds); err != nil {
		return err
	}
	fmt.Printf("credentials stored for %s\n", creds.Username)
	return nil
}

func runAuthShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	manager, err := auth.NewManager(cfg.DataDir)
	if err != nil {
		return err
	}

	username := cfg.Username
	if len(args) == 1 {
		username = args[0]
	}
	creds, err := manager.Load(username)
	if err != nil {
		return err
	}

	masked := auth.Sanitize(creds)
	fmt.Printf("username:      %s\n", masked.Username)
	fmt.Printf("password:      %s\n", masked.Password)
	fmt.Printf("client id:     %s\n", masked.ClientID)
	fmt.Printf("client secret: %s\n", masked.ClientSecret)
	if masked.UserAgent != "" {
		fmt.Printf("user agent:    %s\n", masked.UserAgent)
	}
	return nil
}
