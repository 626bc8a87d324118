package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sitebook-dev/sitebook/internal/cli/commands"
)

// NewRootCmd builds the sitebook admin command tree
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sitebook",
		Short: "Sitebook - administration for the bilingual site backend",
		Long: `Sitebook CLI - operate a Sitebook deployment from the server host.

Commands read the same environment (DATABASE_URL, AUTH_TOKEN_SECRET, ...)
as the API server, including .env files in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sitebook version %s\n", version)
		},
	})

	rootCmd.AddCommand(commands.NewCreateAdminCmd())
	rootCmd.AddCommand(commands.NewMigrateCmd())
	rootCmd.AddCommand(commands.NewIssueTokenCmd())

	return rootCmd
}

// Execute runs the root command
func Execute(version string) error {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
