package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/storage"
)

func newTestWorker(t *testing.T) (*ReconcileWorker, *storage.SQLiteRepository) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewReconcileWorker(repo), repo
}

func TestHandleAuditMessage(t *testing.T) {
	w, repo := newTestWorker(t)
	ctx := context.Background()

	cp, _, err := repo.GetOrCreateCounterparty(ctx, 1, "Alice")
	if err != nil {
		t.Fatalf("create counterparty: %v", err)
	}
	// Drift the cache away from the (empty) due set.
	if _, err := repo.AdjustBalance(ctx, 1, cp.ID, 500); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	msg := amqp.NewLedgerAuditMessage(1, cp.ID)
	if err := w.HandleAuditMessage(ctx, msg); err != nil {
		t.Fatalf("handle audit: %v", err)
	}

	balance, err := repo.GetBalance(ctx, 1, cp.ID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance.Cents != 0 {
		t.Fatalf("balance = %d, want 0 after reconcile", balance.Cents)
	}
}

func TestReconcileAll(t *testing.T) {
	w, repo := newTestWorker(t)
	ctx := context.Background()

	a, _, err := repo.GetOrCreateCounterparty(ctx, 1, "Alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := repo.GetOrCreateCounterparty(ctx, 2, "Bob"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.AdjustBalance(ctx, 1, a.ID, -250); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	corrected, err := w.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if corrected != 1 {
		t.Fatalf("corrected = %d, want 1", corrected)
	}

	// Second sweep finds nothing to fix.
	corrected, err = w.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if corrected != 0 {
		t.Fatalf("corrected = %d, want 0", corrected)
	}
}

func TestMarkOverdue(t *testing.T) {
	w, repo := newTestWorker(t)
	ctx := context.Background()

	due := core.DateOnly(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))
	if _, _, err := repo.CreateRuleWithOccurrence(ctx, core.RecurringRule{
		UserID:      1,
		Name:        "rent",
		Amount:      core.Money{Cents: 90000},
		Kind:        core.Monthly,
		NextDueDate: due,
		Active:      true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	n, err := w.MarkOverdue(ctx, time.Date(2026, time.April, 10, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("marked = %d, want 1", n)
	}
}
