package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregvolny/CSEntryWeb-sub001/config"
	"github.com/gregvolny/CSEntryWeb-sub001/server"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an action access token",
	Long:  `Signs an access token for the action endpoint using the configured secret.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Auth.Secret == "" {
			return fmt.Errorf("action secret is required (auth.secret or %s)", config.EnvSecret)
		}

		subject, _ := cmd.Flags().GetString("subject")
		sessionID, _ := cmd.Flags().GetString("session")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		tokens, err := server.NewTokenManager(cfg.Auth.Secret)
		if err != nil {
			return err
		}
		token, err := tokens.Mint(subject, sessionID, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("subject", "operator", "Token subject")
	tokenCmd.Flags().String("session", "", "Restrict the token to one session id")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime, 0 for no expiry")
}
