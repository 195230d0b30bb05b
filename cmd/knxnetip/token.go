package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/knxnetip/internal/api"
	"github.com/nerrad567/knxnetip/internal/infrastructure/config"
)

type tokenFlags struct {
	subject string
	ttl     time.Duration
	secret  string
}

func newTokenCmd(g *globalFlags) *cobra.Command {
	flags := &tokenFlags{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token",
		Long: `Token signs an HS256 token for the HTTP API with api.jwt_secret from the
config (or --secret). The gateway does not need to be configured.`,
		Example: "  knxnetip token --subject home-assistant --ttl 720h",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := flags.secret
			if secret == "" {
				cfg, err := config.Read(g.configPath)
				if err != nil {
					return err
				}
				secret = cfg.API.JWTSecret
			}
			if secret == "" {
				return errors.New("no secret: set api.jwt_secret or pass --secret")
			}

			token, err := api.IssueToken(secret, flags.subject, flags.ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.subject, "subject", "cli", "Token subject, logged with each command")
	cmd.Flags().DurationVar(&flags.ttl, "ttl", 24*time.Hour, "Token lifetime") //nolint:mnd // one day
	cmd.Flags().StringVar(&flags.secret, "secret", "", "Signing secret (overrides api.jwt_secret)")
	return cmd
}
