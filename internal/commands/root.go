// Package commands implements the moneta-import CLI: a thin client that
// drives the upload flow against a running moneta server.
package commands

import (
	"github.com/spf13/cobra"

	"moneta/internal/api"
)

// NewRootCommand builds the CLI command tree.
func NewRootCommand() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "moneta-import",
		Short: "Import bank exports into a moneta server",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&server, "server", "http://localhost:8081", "moneta server base URL")

	client := func() *api.Client { return api.New(server) }

	cmd.AddCommand(newImportCommand(client))
	cmd.AddCommand(newAccountsCommand(client))
	cmd.AddCommand(newOptionsCommand(client))

	return cmd
}
