package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sitebook-dev/sitebook/internal/store"
	"github.com/sitebook-dev/sitebook/internal/users"
)

// NewCreateAdminCmd creates the create-admin command
func NewCreateAdminCmd() *cobra.Command {
	var email, name, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or promote an existing one",
		Long: `Creates an admin account. If the email already belongs to a user, that user
is promoted to admin and their password is reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("email is required (use --email flag)")
			}
			if password == "" {
				password = os.Getenv("SITEBOOK_ADMIN_PASSWORD")
			}
			if password == "" {
				var err error
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}

			cfg, acc, closeStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			return runCreateAdmin(cmd.Context(), acc, cliLogger(cfg), users.CreateParams{
				Email:    email,
				Name:     name,
				Password: password,
			}, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Admin email address")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set SITEBOOK_ADMIN_PASSWORD, will prompt if not provided)")

	return cmd
}

func runCreateAdmin(ctx context.Context, acc *store.Accessor, log zerolog.Logger, params users.CreateParams, out io.Writer) error {
	svc := users.NewService(acc, log)

	user, created, err := svc.EnsureAdmin(ctx, params)
	if err != nil {
		return err
	}

	if created {
		fmt.Fprintf(out, "Created admin %s (%s)\n", user.Email, user.ID)
	} else {
		fmt.Fprintf(out, "Promoted %s (%s) to admin and reset the password\n", user.Email, user.ID)
	}
	return nil
}
