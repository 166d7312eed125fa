// Package storage is the SQLite persistence layer: staged upload cells,
// accounts, and the transaction ledger. Amounts are stored as integer cents
// and posted dates as ISO 8601 text so that month grouping stays plain SQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"moneta/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// headerRow marks header cells in upload_cells; data rows start at 0.
const headerRow = -1

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Upload is the staging metadata for one uploaded file.
type Upload struct {
	ID          int64
	Filename    string
	ColumnCount int
	RowCount    int
	CreatedAt   time.Time
}

// CreateUpload stages a parsed file: one uploads row plus every cell,
// headers included, in a single transaction. Nothing is classified here;
// the cells stay verbatim until submission.
func (r *SQLiteRepository) CreateUpload(ctx context.Context, filename string, headers []string, rows [][]string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upload transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO uploads (filename, column_count, row_count) VALUES (?, ?, ?)`,
		filename, len(headers), len(rows))
	if err != nil {
		return 0, fmt.Errorf("insert upload: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("upload id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO upload_cells (upload_id, row_num, column_num, contents) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare cell insert: %w", err)
	}
	defer stmt.Close()

	for col, h := range headers {
		if _, err := stmt.ExecContext(ctx, id, headerRow, col, h); err != nil {
			return 0, fmt.Errorf("insert header cell %d: %w", col, err)
		}
	}
	for rowNum, row := range rows {
		if len(row) != len(headers) {
			return 0, fmt.Errorf("row %d has %d cells, want %d", rowNum, len(row), len(headers))
		}
		for col, contents := range row {
			if _, err := stmt.ExecContext(ctx, id, rowNum, col, contents); err != nil {
				return 0, fmt.Errorf("insert cell (%d,%d): %w", rowNum, col, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upload: %w", err)
	}

	slog.InfoContext(ctx, "Upload staged",
		"upload_id", id,
		"filename", filename,
		"columns", len(headers),
		"rows", len(rows))
	return id, nil
}

// GetUpload returns the staging metadata for an upload.
func (r *SQLiteRepository) GetUpload(ctx context.Context, uploadID int64) (*Upload, error) {
	var u Upload
	err := r.db.QueryRowContext(ctx,
		`SELECT id, filename, column_count, row_count, created_at FROM uploads WHERE id = ?`,
		uploadID).Scan(&u.ID, &u.Filename, &u.ColumnCount, &u.RowCount, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload %d: %w", uploadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return &u, nil
}

// UploadHeaders returns the header cells of an upload in column order.
func (r *SQLiteRepository) UploadHeaders(ctx context.Context, uploadID int64) ([]string, error) {
	return r.cellRange(ctx, uploadID, headerRow, headerRow)
}

// UploadCells returns the data cells of rows [rowIndex, rowIndex+rowCount)
// flattened row-major, ordered by row then column.
func (r *SQLiteRepository) UploadCells(ctx context.Context, uploadID int64, rowIndex, rowCount int) ([]string, error) {
	if rowIndex < 0 || rowCount < 0 {
		return nil, fmt.Errorf("invalid row range [%d, +%d)", rowIndex, rowCount)
	}
	u, err := r.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if rowIndex+rowCount > u.RowCount {
		return nil, fmt.Errorf("row range [%d, +%d) exceeds %d rows", rowIndex, rowCount, u.RowCount)
	}
	return r.cellRange(ctx, uploadID, rowIndex, rowIndex+rowCount-1)
}

// AllUploadCells returns every data cell of an upload flattened row-major.
func (r *SQLiteRepository) AllUploadCells(ctx context.Context, uploadID int64) ([]string, error) {
	u, err := r.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u.RowCount == 0 {
		return nil, nil
	}
	return r.cellRange(ctx, uploadID, 0, u.RowCount-1)
}

func (r *SQLiteRepository) cellRange(ctx context.Context, uploadID int64, fromRow, toRow int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT contents FROM upload_cells
		 WHERE upload_id = ? AND row_num BETWEEN ? AND ?
		 ORDER BY row_num, column_num`,
		uploadID, fromRow, toRow)
	if err != nil {
		return nil, fmt.Errorf("query upload cells: %w", err)
	}
	defer rows.Close()

	var cells []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan upload cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload cells: %w", err)
	}
	return cells, nil
}

// DeleteUpload removes an upload and, via cascade, its staged cells.
func (r *SQLiteRepository) DeleteUpload(ctx context.Context, uploadID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, uploadID); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

// DeleteUploadsBefore removes staged uploads older than the cutoff. Submitted
// uploads are deleted on submit, so anything this old was abandoned.
func (r *SQLiteRepository) DeleteUploadsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	// CURRENT_TIMESTAMP stores "YYYY-MM-DD HH:MM:SS" in UTC; bind the cutoff
	// in the same shape so the comparison is well defined.
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM uploads WHERE created_at < ?`, cutoff.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, fmt.Errorf("delete expired uploads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired uploads affected: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired uploads deleted", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// ListAccounts returns all account names in insertion order.
func (r *SQLiteRepository) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return names, nil
}

// AddAccount registers a new account name. Duplicates are rejected by the
// unique constraint.
func (r *SQLiteRepository) AddAccount(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `INSERT INTO accounts (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("insert account %q: %w", name, err)
	}
	slog.InfoContext(ctx, "Account added", "name", name)
	return nil
}

// ListCategories returns the registered category names sorted alphabetically.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return names, nil
}

// InsertTransactions writes validated transactions in one database
// transaction and returns their ids in input order. Category names not yet
// present in categories are registered along the way.
func (r *SQLiteRepository) InsertTransactions(ctx context.Context, txns []core.Transaction) ([]int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transactions (account, base_category, category, income, posted_date, amount_cents, name, memo)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare transaction insert: %w", err)
	}
	defer stmt.Close()

	catStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO categories (name) VALUES (?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare category insert: %w", err)
	}
	defer catStmt.Close()

	ids := make([]int64, 0, len(txns))
	for i, t := range txns {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		if _, err := catStmt.ExecContext(ctx, t.Category); err != nil {
			return nil, fmt.Errorf("register category %q: %w", t.Category, err)
		}
		res, err := stmt.ExecContext(ctx,
			t.Account, t.BaseCategory, t.Category, t.Income,
			t.PostedDate.Format("2006-01-02"), t.AmountCents(), t.Name, t.Memo)
		if err != nil {
			return nil, fmt.Errorf("insert transaction %d: %w", i, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("transaction id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transactions: %w", err)
	}

	slog.InfoContext(ctx, "Transactions inserted", "count", len(ids))
	return ids, nil
}

// GetTransaction loads a single transaction by id.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (*core.Transaction, error) {
	var (
		t     core.Transaction
		date  string
		cents int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, account, base_category, category, income, posted_date, amount_cents, name, memo
		 FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.Account, &t.BaseCategory, &t.Category, &t.Income, &date, &cents, &t.Name, &t.Memo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	t.PostedDate, err = time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("stored posted_date %q: %w", date, err)
	}
	t.Amount = core.AmountFromCents(cents)
	return &t, nil
}

// PendingSyncTransaction is the minimal payload for sync queue messages.
type PendingSyncTransaction struct {
	ID        int64
	CreatedAt time.Time
}

// PendingSyncTransactions returns transactions awaiting export, oldest first.
func (r *SQLiteRepository) PendingSyncTransactions(ctx context.Context, limit int) ([]PendingSyncTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at FROM transactions
		 WHERE sync_status = 'pending' ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending sync transactions: %w", err)
	}
	defer rows.Close()

	var pending []PendingSyncTransaction
	for rows.Next() {
		var p PendingSyncTransaction
		if err := rows.Scan(&p.ID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending sync transaction: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending sync transactions: %w", err)
	}
	return pending, nil
}

// MarkTransactionSynced records a successful export.
func (r *SQLiteRepository) MarkTransactionSynced(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = 'synced', synced_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id); err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as synced", "id", id)
	return nil
}

// MarkTransactionSyncError records a failed export; the backup sweep retries
// only 'pending' rows, so errored rows need operator attention.
func (r *SQLiteRepository) MarkTransactionSyncError(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET sync_status = 'error' WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction marked with sync error", "id", id)
	return nil
}

// seriesFilter selects which transactions feed a category series and how
// their stored cents map onto chart values.
type seriesFilter struct {
	where string
	value func(cents int64) float64
}

var (
	// All transactions, signed.
	filterAll = seriesFilter{
		where: "1 = 1",
		value: func(c int64) float64 { return float64(c) / 100 },
	}
	// Expenses as positive magnitudes; refunds larger than the month's
	// spending clamp to zero rather than plotting negative bands.
	filterExpenses = seriesFilter{
		where: "income = 0",
		value: func(c int64) float64 {
			v := float64(-c) / 100
			if v < 0 {
				return 0
			}
			return v
		},
	}
	filterIncome = seriesFilter{
		where: "income = 1",
		value: func(c int64) float64 {
			v := float64(c) / 100
			if v < 0 {
				return 0
			}
			return v
		},
	}
)

// TransactionSeries returns the signed per-category monthly series over all
// transactions.
func (r *SQLiteRepository) TransactionSeries(ctx context.Context) (*core.CategorySeries, error) {
	return r.categorySeries(ctx, filterAll)
}

// ExpenseSeries returns monthly expense magnitudes per category.
func (r *SQLiteRepository) ExpenseSeries(ctx context.Context) (*core.CategorySeries, error) {
	return r.categorySeries(ctx, filterExpenses)
}

// IncomeSeries returns monthly income per category.
func (r *SQLiteRepository) IncomeSeries(ctx context.Context) (*core.CategorySeries, error) {
	return r.categorySeries(ctx, filterIncome)
}

// categorySeries builds a dense month-by-category matrix. Months span the
// whole ledger regardless of the filter so the three series share an x axis;
// categories come from the filtered rows only. Missing combinations are zero.
func (r *SQLiteRepository) categorySeries(ctx context.Context, f seriesFilter) (*core.CategorySeries, error) {
	months, err := r.ledgerMonths(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT substr(posted_date, 1, 7) AS month, category, SUM(amount_cents)
		 FROM transactions WHERE `+f.where+`
		 GROUP BY month, category`)
	if err != nil {
		return nil, fmt.Errorf("query category sums: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]map[string]int64)
	catSet := make(map[string]bool)
	for rows.Next() {
		var month, category string
		var cents int64
		if err := rows.Scan(&month, &category, &cents); err != nil {
			return nil, fmt.Errorf("scan category sum: %w", err)
		}
		if sums[month] == nil {
			sums[month] = make(map[string]int64)
		}
		sums[month][category] = cents
		catSet[category] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category sums: %w", err)
	}

	categories := make([]string, 0, len(catSet))
	for c := range catSet {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	series := &core.CategorySeries{
		Categories: categories,
		Dates:      make([]string, len(months)),
		Amounts:    make([][]float64, len(months)),
	}
	for i, month := range months {
		series.Dates[i] = month + "-01"
		row := make([]float64, len(categories))
		for j, category := range categories {
			row[j] = f.value(sums[month][category])
		}
		series.Amounts[i] = row
	}
	return series, nil
}

func (r *SQLiteRepository) ledgerMonths(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT substr(posted_date, 1, 7) AS month FROM transactions ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("query ledger months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan ledger month: %w", err)
		}
		months = append(months, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger months: %w", err)
	}
	return months, nil
}
