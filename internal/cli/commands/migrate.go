package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate command
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// openStore migrates as part of opening
			cfg, _, closeStore, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", describeDatabase(cfg.Database.URL))
			return nil
		},
	}
}
