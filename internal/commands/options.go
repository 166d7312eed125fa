package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"moneta/internal/api"
)

func newOptionsCommand(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "Show the server's field names and date formats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := client().GetUploadOptions(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Fields:", strings.Join(opts.HeaderOptions, ", "))
			fmt.Fprintln(cmd.OutOrStdout())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tDATE FORMAT")
			for i, f := range opts.DateFormats {
				fmt.Fprintf(w, "%d\t%s\n", i, f)
			}
			return w.Flush()
		},
	}
}
