package commands

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/services"
	"tally/internal/storage"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	d := NewDispatcher(
		services.NewLedgerService(repo, nil),
		services.NewScheduleService(repo),
		services.NewDashboardService(repo),
	)
	d.now = func() time.Time { return time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC) }
	return d
}

func TestDispatchRecordAndSettle(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, RecordLent{
		UserID:       1,
		Counterparty: "Alice",
		Amount:       core.Money{Cents: 3000},
		Category:     "food",
	})
	if err != nil {
		t.Fatalf("dispatch record: %v", err)
	}
	if !res.Ok {
		t.Fatalf("record failed: %s", res.Reason)
	}
	if !strings.Contains(res.Reply, "Alice") {
		t.Fatalf("reply %q should name the counterparty", res.Reply)
	}

	res, err = d.Dispatch(ctx, ReceivePayment{UserID: 1, Counterparty: "Alice"})
	if err != nil {
		t.Fatalf("dispatch receive: %v", err)
	}
	if !res.Ok {
		t.Fatalf("receive failed: %s", res.Reason)
	}
	if !strings.Contains(res.Reply, "30.00") {
		t.Fatalf("reply %q should state the settled amount", res.Reply)
	}
}

func TestDispatchDomainErrorIsStructuredFailure(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	// Unknown counterparty surfaces as a failure result, not an error.
	res, err := d.Dispatch(ctx, ReceivePayment{UserID: 1, Counterparty: "nobody"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Ok {
		t.Fatal("expected a failed result")
	}
	if res.Reply == "" || res.Reason == "" {
		t.Fatalf("failure should carry a reason: %+v", res)
	}

	// Borrowing leaves the user owing; nothing to receive.
	if _, err := d.Dispatch(ctx, RecordBorrowed{
		UserID: 1, Counterparty: "Bob", Amount: core.Money{Cents: 1000},
	}); err != nil {
		t.Fatalf("record borrowed: %v", err)
	}
	res, err = d.Dispatch(ctx, ReceivePayment{UserID: 1, Counterparty: "Bob"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Ok {
		t.Fatal("expected NothingOwed failure")
	}
}

func TestDispatchValidationFailure(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, RecordLent{UserID: 1, Counterparty: "Alice", Amount: core.Money{Cents: -5}})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Ok {
		t.Fatal("negative amount should fail validation")
	}

	res, err = d.Dispatch(ctx, CreateRecurringRule{
		UserID: 1, Name: "rent", Amount: core.Money{Cents: 100},
		Recurrence: core.Monthly, RecurrenceDay: 40,
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Ok {
		t.Fatal("day 40 should fail validation")
	}
}

func TestDispatchScheduleLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, CreateRecurringRule{
		UserID: 1, Name: "rent", Amount: core.Money{Cents: 90000},
		Recurrence: core.Monthly, RecurrenceDay: 1,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if !res.Ok {
		t.Fatalf("create rule failed: %s", res.Reason)
	}
	if !strings.Contains(res.Reply, "2026-04-01") {
		t.Fatalf("reply %q should state the first due date", res.Reply)
	}

	listRes, err := d.Dispatch(ctx, ListPendingOccurrences{UserID: 1})
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	occs, ok := listRes.Data.([]core.Occurrence)
	if !ok || len(occs) != 1 {
		t.Fatalf("expected one pending occurrence, got %+v", listRes.Data)
	}

	payRes, err := d.Dispatch(ctx, MarkOccurrencePaid{UserID: 1, OccurrenceID: occs[0].ID, GenerateNext: true})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !payRes.Ok || !strings.Contains(payRes.Reply, "due 2026-05-01") {
		t.Fatalf("mark paid reply = %q", payRes.Reply)
	}

	undoRes, err := d.Dispatch(ctx, UndoOccurrencePaid{UserID: 1, OccurrenceID: occs[0].ID})
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !undoRes.Ok {
		t.Fatalf("undo failed: %s", undoRes.Reason)
	}

	// Second undo is a structured failure.
	undoRes, err = d.Dispatch(ctx, UndoOccurrencePaid{UserID: 1, OccurrenceID: occs[0].ID})
	if err != nil {
		t.Fatalf("second undo: %v", err)
	}
	if undoRes.Ok {
		t.Fatal("second undo should fail")
	}
}

func TestDispatchDashboard(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	if _, err := d.Dispatch(ctx, RecordBorrowed{
		UserID: 1, Counterparty: "Carol", Amount: core.Money{Cents: 2500},
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, err := d.Dispatch(ctx, ShowDashboard{UserID: 1})
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	summary, ok := res.Data.(*core.DashboardSummary)
	if !ok {
		t.Fatalf("data = %T, want *core.DashboardSummary", res.Data)
	}
	if summary.OwedByUser.Cents != 2500 {
		t.Fatalf("owed by user = %d, want 2500", summary.OwedByUser.Cents)
	}
	if summary.PendingDueCount != 1 {
		t.Fatalf("pending dues = %d, want 1", summary.PendingDueCount)
	}
}
