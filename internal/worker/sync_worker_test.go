package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/amqp"
	"moneta/internal/core"
	"moneta/internal/sheets/memory"
	"moneta/internal/storage"
)

type fakeStore struct {
	txns     map[int64]*core.Transaction
	status   map[int64]string
	expireAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		txns:   map[int64]*core.Transaction{},
		status: map[int64]string{},
	}
}

func (f *fakeStore) add(id int64, name string, amount string) {
	d, _ := decimal.NewFromString(amount)
	t := core.NewTransaction(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), name, "", d)
	t.ID = id
	f.txns[id] = &t
	f.status[id] = "pending"
}

func (f *fakeStore) GetTransaction(ctx context.Context, id int64) (*core.Transaction, error) {
	t, ok := f.txns[id]
	if !ok {
		return nil, fmt.Errorf("transaction %d: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (f *fakeStore) MarkTransactionSynced(ctx context.Context, id int64) error {
	f.status[id] = "synced"
	return nil
}

func (f *fakeStore) MarkTransactionSyncError(ctx context.Context, id int64) error {
	f.status[id] = "error"
	return nil
}

func (f *fakeStore) PendingSyncTransactions(ctx context.Context, limit int) ([]storage.PendingSyncTransaction, error) {
	var out []storage.PendingSyncTransaction
	for id, st := range f.status {
		if st == "pending" && len(out) < limit {
			out = append(out, storage.PendingSyncTransaction{ID: id})
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteUploadsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.expireAt = cutoff
	return 1, nil
}

type failingWriter struct {
	err error
}

func (w *failingWriter) Append(ctx context.Context, t core.Transaction) (string, error) {
	return "", w.err
}

func TestHandleSyncMessage(t *testing.T) {
	store := newFakeStore()
	store.add(1, "GITHUB", "-4.00")
	writer := memory.New()
	w := New(store, writer, DefaultConfig())

	err := w.HandleSyncMessage(context.Background(), amqp.NewTransactionSyncMessage(1))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.status[1] != "synced" {
		t.Fatalf("status=%q", store.status[1])
	}
	rows := writer.Rows()
	if len(rows) != 1 || rows[0].Name != "GITHUB" {
		t.Fatalf("rows: %v", rows)
	}
}

func TestHandleSyncMessageMissingRowIsDropped(t *testing.T) {
	w := New(newFakeStore(), memory.New(), DefaultConfig())
	// A missing row must ack, not requeue forever.
	if err := w.HandleSyncMessage(context.Background(), amqp.NewTransactionSyncMessage(42)); err != nil {
		t.Fatalf("handle: %v", err)
	}
}

func TestHandleSyncMessageExportFailureRequeues(t *testing.T) {
	store := newFakeStore()
	store.add(1, "GITHUB", "-4.00")
	w := New(store, &failingWriter{err: errors.New("quota exceeded")}, DefaultConfig())

	if err := w.HandleSyncMessage(context.Background(), amqp.NewTransactionSyncMessage(1)); err == nil {
		t.Fatal("expected error for failed export")
	}
	// Queue-path failures stay pending for the requeued delivery.
	if store.status[1] != "pending" {
		t.Fatalf("status=%q", store.status[1])
	}
}

func TestProcessPending(t *testing.T) {
	store := newFakeStore()
	store.add(1, "A", "-1.00")
	store.add(2, "B", "-2.00")
	writer := memory.New()
	w := New(store, writer, DefaultConfig())

	n, err := w.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("exported=%d", n)
	}
	if store.status[1] != "synced" || store.status[2] != "synced" {
		t.Fatalf("status: %v", store.status)
	}

	// A second sweep finds nothing.
	n, err = w.ProcessPending(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestProcessPendingMarksFailures(t *testing.T) {
	store := newFakeStore()
	store.add(1, "A", "-1.00")
	w := New(store, &failingWriter{err: errors.New("boom")}, DefaultConfig())

	n, err := w.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("exported=%d", n)
	}
	// Sweep-path failures are parked so the loop does not spin on them.
	if store.status[1] != "error" {
		t.Fatalf("status=%q", store.status[1])
	}
}

func TestExpireUploads(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.UploadRetention = 2 * time.Hour
	w := New(store, memory.New(), cfg)

	n, err := w.ExpireUploads(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
	age := time.Since(store.expireAt)
	if age < time.Hour || age > 3*time.Hour {
		t.Fatalf("cutoff age=%v", age)
	}
}
