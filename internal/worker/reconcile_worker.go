package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/amqp"
	"tally/internal/core"
	"tally/internal/storage"
)

// ReconcileWorker audits cached counterparty balances against the sum of
// their pending dues and marks past-due occurrences overdue.
type ReconcileWorker struct {
	storage *storage.SQLiteRepository
}

func NewReconcileWorker(storage *storage.SQLiteRepository) *ReconcileWorker {
	return &ReconcileWorker{storage: storage}
}

// HandleAuditMessage processes a single ledger audit message from AMQP.
func (w *ReconcileWorker) HandleAuditMessage(ctx context.Context, msg *amqp.LedgerAuditMessage) error {
	drift, err := w.storage.ReconcileBalance(ctx, msg.UserID, msg.CounterpartyID)
	if err != nil {
		return fmt.Errorf("reconcile balance: %w", err)
	}

	if drift != 0 {
		slog.WarnContext(ctx, "Corrected balance drift",
			"message_id", msg.MessageID,
			"user_id", msg.UserID,
			"counterparty_id", msg.CounterpartyID,
			"drift_cents", drift)
	}
	return nil
}

// ReconcileAll sweeps every counterparty. Catches drift for counterparties
// whose audit messages were lost.
func (w *ReconcileWorker) ReconcileAll(ctx context.Context) (int, error) {
	refs, err := w.storage.ListCounterpartyRefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list counterparties: %w", err)
	}

	corrected := 0
	for _, ref := range refs {
		drift, err := w.storage.ReconcileBalance(ctx, ref.UserID, ref.CounterpartyID)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to reconcile counterparty",
				"user_id", ref.UserID,
				"counterparty_id", ref.CounterpartyID,
				"error", err)
			continue
		}
		if drift != 0 {
			corrected++
			slog.WarnContext(ctx, "Corrected balance drift during sweep",
				"user_id", ref.UserID,
				"counterparty_id", ref.CounterpartyID,
				"drift_cents", drift)
		}
	}
	return corrected, nil
}

// MarkOverdue flips pending occurrences whose due date has passed to overdue.
func (w *ReconcileWorker) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := w.storage.MarkOverdueOccurrences(ctx, core.DateOnly(now))
	if err != nil {
		return 0, fmt.Errorf("mark overdue occurrences: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Marked occurrences overdue", "count", n)
	}
	return n, nil
}
