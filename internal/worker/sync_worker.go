// Package worker exports imported transactions to the configured spreadsheet.
// The primary feed is the AMQP sync queue; a periodic sweep over rows still
// marked pending covers messages that were never published or were lost, and
// a retention pass deletes abandoned staged uploads.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/sheets"
	"moneta/internal/storage"
)

// Store is the persistence surface the worker needs.
type Store interface {
	GetTransaction(ctx context.Context, id int64) (*core.Transaction, error)
	MarkTransactionSynced(ctx context.Context, id int64) error
	MarkTransactionSyncError(ctx context.Context, id int64) error
	PendingSyncTransactions(ctx context.Context, limit int) ([]storage.PendingSyncTransaction, error)
	DeleteUploadsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes the background loops.
type Config struct {
	// SweepInterval is how often pending rows are re-checked (default: 1m).
	SweepInterval time.Duration

	// BatchSize is the max rows per sweep cycle (default: 10).
	BatchSize int

	// UploadRetention is how long abandoned staged uploads are kept
	// (default: 24h).
	UploadRetention time.Duration

	// RetentionInterval is how often expired uploads are purged (default: 1h).
	RetentionInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:     time.Minute,
		BatchSize:         10,
		UploadRetention:   24 * time.Hour,
		RetentionInterval: time.Hour,
	}
}

type Worker struct {
	store  Store
	writer sheets.TransactionWriter
	config Config
}

func New(store Store, writer sheets.TransactionWriter, config Config) *Worker {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.UploadRetention <= 0 {
		config.UploadRetention = DefaultConfig().UploadRetention
	}
	if config.RetentionInterval <= 0 {
		config.RetentionInterval = DefaultConfig().RetentionInterval
	}
	return &Worker{store: store, writer: writer, config: config}
}

// HandleSyncMessage exports one queued transaction. A missing row is dropped
// as already handled; an export failure is returned so the delivery is
// requeued.
func (w *Worker) HandleSyncMessage(ctx context.Context, msg *amqp.TransactionSyncMessage) error {
	txn, err := w.store.GetTransaction(ctx, msg.TransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "Queued transaction no longer exists, dropping",
			"transaction_id", msg.TransactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction %d: %w", msg.TransactionID, err)
	}

	ref, err := w.writer.Append(ctx, *txn)
	if err != nil {
		return fmt.Errorf("export transaction %d: %w", msg.TransactionID, err)
	}

	if err := w.store.MarkTransactionSynced(ctx, txn.ID); err != nil {
		return fmt.Errorf("mark transaction %d synced: %w", txn.ID, err)
	}

	slog.InfoContext(ctx, "Transaction exported",
		"transaction_id", txn.ID,
		"row_ref", ref)
	return nil
}

// ProcessPending sweeps rows still marked pending and exports them directly.
// Rows that fail to export are marked with a sync error so the sweep does not
// spin on a permanently broken row. Returns the number exported.
func (w *Worker) ProcessPending(ctx context.Context) (int, error) {
	pending, err := w.store.PendingSyncTransactions(ctx, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending transactions: %w", err)
	}

	exported := 0
	for _, p := range pending {
		txn, err := w.store.GetTransaction(ctx, p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return exported, fmt.Errorf("load transaction %d: %w", p.ID, err)
		}

		if _, err := w.writer.Append(ctx, *txn); err != nil {
			slog.ErrorContext(ctx, "Backup sweep export failed",
				"error", err, "transaction_id", txn.ID)
			if markErr := w.store.MarkTransactionSyncError(ctx, txn.ID); markErr != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error",
					"error", markErr, "transaction_id", txn.ID)
			}
			continue
		}
		if err := w.store.MarkTransactionSynced(ctx, txn.ID); err != nil {
			return exported, fmt.Errorf("mark transaction %d synced: %w", txn.ID, err)
		}
		exported++
	}

	if exported > 0 {
		slog.InfoContext(ctx, "Backup sweep exported pending transactions", "count", exported)
	}
	return exported, nil
}

// ExpireUploads deletes staged uploads older than the retention window.
func (w *Worker) ExpireUploads(ctx context.Context) (int64, error) {
	return w.store.DeleteUploadsBefore(ctx, time.Now().Add(-w.config.UploadRetention))
}

// Run drives the periodic loops until the context is cancelled. Queue
// consumption runs separately; this covers the backup sweep and upload
// retention.
func (w *Worker) Run(ctx context.Context) error {
	sweep := time.NewTicker(w.config.SweepInterval)
	defer sweep.Stop()
	retention := time.NewTicker(w.config.RetentionInterval)
	defer retention.Stop()

	slog.InfoContext(ctx, "Worker loops started",
		"sweep_interval", w.config.SweepInterval,
		"batch_size", w.config.BatchSize,
		"upload_retention", w.config.UploadRetention)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker loops stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-sweep.C:
			if _, err := w.ProcessPending(ctx); err != nil {
				slog.ErrorContext(ctx, "Backup sweep failed", "error", err)
			}
		case <-retention.C:
			if _, err := w.ExpireUploads(ctx); err != nil {
				slog.ErrorContext(ctx, "Upload retention pass failed", "error", err)
			}
		}
	}
}
