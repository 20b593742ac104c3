package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/listing-chat/internal/auth"
	"github.com/capitalize-ai/listing-chat/internal/config"
)

func newTokenCmd() *cobra.Command {
	var (
		identity string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed token for an identity",
		Long:  "Signs a token with JWT_SECRET and JWT_ISSUER so a local client can connect to /ws or call the API as identity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd, identity, ttl)
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "identity to issue the token for (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func runToken(cmd *cobra.Command, identity string, ttl time.Duration) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("identity must not be blank")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	cfg := config.Load()
	token, err := auth.NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer).Issue(identity, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
