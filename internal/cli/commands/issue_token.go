package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sitebook-dev/sitebook/internal/auth"
	"github.com/sitebook-dev/sitebook/internal/config"
	"github.com/sitebook-dev/sitebook/internal/store"
	"github.com/sitebook-dev/sitebook/internal/users"
)

// NewIssueTokenCmd creates the issue-token command
func NewIssueTokenCmd() *cobra.Command {
	var email string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a bearer token for an existing user",
		Long: `Signs a token for the given user with AUTH_TOKEN_SECRET. Send it as
"Authorization: Bearer <token>" from API scripts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("email is required (use --email flag)")
			}

			cfg, acc, closeStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			return runIssueToken(cmd.Context(), cfg, acc, cliLogger(cfg), email, ttl, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email of the user the token is for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to AUTH_TOKEN_TTL)")

	return cmd
}

func runIssueToken(ctx context.Context, cfg *config.Config, acc *store.Accessor, log zerolog.Logger, email string, ttl time.Duration, out io.Writer) error {
	tokens, err := auth.NewTokenService(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	user, err := users.NewService(acc, log).GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	token, err := tokens.Issue(users.Principal(user), ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
