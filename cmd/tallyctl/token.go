package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyapp/tally-server/internal/auth"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for the API",
		Long: `Sign a PASETO access token for --user and --phone with the server key.

The key is read from the configured auth key path and generated if it does
not exist yet, so run this against the same data directory as the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			identity, err := opts.identity()
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if duration <= 0 {
				duration = cfg.Auth.AccessTokenDuration
			}

			key, err := auth.LoadOrGenerateKey(cfg.Auth.KeyPath)
			if err != nil {
				return err
			}
			tokens, err := auth.NewTokenService(key, duration)
			if err != nil {
				return err
			}
			token, err := tokens.GenerateAccessToken(identity)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "Token for %s expires in %s\n", identity.UserID, duration)
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "Token lifetime (default: configured access token duration)")

	return cmd
}
