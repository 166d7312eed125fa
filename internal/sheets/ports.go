// Package sheets defines the outbound port for exporting imported
// transactions to a spreadsheet.
package sheets

import (
	"context"

	"moneta/internal/core"
)

// TransactionWriter appends one transaction to the export target and returns
// an opaque row reference for logging.
type TransactionWriter interface {
	Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
}
