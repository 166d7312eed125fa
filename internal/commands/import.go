package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"moneta/internal/api"
	"moneta/internal/core"
	"moneta/internal/session"
)

func newImportCommand(client func() *api.Client) *cobra.Command {
	var (
		dateFormat int
		mappings   []string
		previewN   int
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Upload a CSV or XLSX export and import its rows",
		Long: `Upload a bank export, review the suggested column mapping, and submit.

Column mappings follow the server's suggestions unless overridden with
--map, e.g. --map 0=Date --map 2=Amount --map 3=-`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, client(), args[0], dateFormat, mappings, previewN, dryRun)
		},
	}

	cmd.Flags().IntVar(&dateFormat, "date-format", 3, "index into the server's date format list (see 'options')")
	cmd.Flags().StringArrayVar(&mappings, "map", nil, "column mapping override as COLUMN=FIELD")
	cmd.Flags().IntVar(&previewN, "preview", 5, "number of rows to preview")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop after the preview without submitting")

	return cmd
}

func runImport(cmd *cobra.Command, client *api.Client, path string, dateFormat int, mappings []string, previewN int, dryRun bool) error {
	ctx := cmd.Context()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	s := session.New(client)
	if err := s.SetDateFormat(dateFormat); err != nil {
		return err
	}
	if err := s.Start(ctx, f); err != nil {
		return fmt.Errorf("uploading %s: %w", path, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s: %d rows, %d columns\n",
		path, s.TotalRows(), len(s.Headers()))

	for _, m := range mappings {
		col, field, err := parseMapping(m)
		if err != nil {
			return err
		}
		if err := s.UpdateHeaderSelection(col, field); err != nil {
			return err
		}
	}

	printMapping(cmd, s)

	if previewN > 0 && s.TotalRows() > 0 {
		if _, err := s.RequestMoreRows(ctx, previewN); err != nil {
			return fmt.Errorf("fetching preview rows: %w", err)
		}
		printPreview(cmd, s)
	}

	if msg := s.SelectionError(); msg != "" {
		return errors.New(msg)
	}
	if dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Dry run: not submitting.")
		return nil
	}

	if err := s.Submit(ctx); err != nil {
		var failure *api.SubmitFailure
		if errors.As(err, &failure) && failure.CellError != "" {
			return fmt.Errorf("row %d, column %d: %s", failure.Row, failure.Col, failure.CellError)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows.\n", s.TotalRows())
	return nil
}

// parseMapping splits "COLUMN=FIELD" into its parts.
func parseMapping(s string) (int, core.Field, error) {
	col, field, ok := strings.Cut(s, "=")
	if !ok {
		return 0, "", fmt.Errorf("invalid mapping %q: want COLUMN=FIELD", s)
	}
	n, err := strconv.Atoi(strings.TrimSpace(col))
	if err != nil {
		return 0, "", fmt.Errorf("invalid mapping column %q: %w", col, err)
	}
	f, err := core.ParseField(strings.TrimSpace(field))
	if err != nil {
		return 0, "", fmt.Errorf("invalid mapping %q: %w", s, err)
	}
	return n, f, nil
}

func printMapping(cmd *cobra.Command, s *session.Session) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLUMN\tHEADER\tFIELD")
	for i, h := range s.Headers() {
		fmt.Fprintf(w, "%d\t%s\t%s\n", i, h, s.Selections()[i])
	}
	w.Flush()
}

func printPreview(cmd *cobra.Command, s *session.Session) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(s.Headers(), "\t"))
	for _, row := range s.Rows() {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
	if s.HasMoreRows() {
		fmt.Fprintf(cmd.OutOrStdout(), "... and %d more rows\n", s.TotalRows()-len(s.Rows()))
	}
}
