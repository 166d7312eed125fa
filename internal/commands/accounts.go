package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"moneta/internal/api"
)

func newAccountsCommand(client func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage account names",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, err := client().ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No accounts registered.")
				return nil
			}
			for _, a := range accounts {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Register a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().AddAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added account %q.\n", args[0])
			return nil
		},
	})

	return cmd
}
