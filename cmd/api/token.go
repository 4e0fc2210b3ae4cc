package main

import (
	"fmt"
	"strings"
	"time"

	"atlas/api/internal/auth"
	"atlas/api/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	tokenUserID string
	tokenName   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user (development)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := uuid.Parse(strings.TrimSpace(tokenUserID)); err != nil {
			return fmt.Errorf("--user-id must be a UUID: %w", err)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.NewClaims(strings.TrimSpace(tokenUserID), tokenName, tokenTTL))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUserID, "user-id", "", "user id the token identifies")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user-id")
}
