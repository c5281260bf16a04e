package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tally/internal/core"
	"tally/internal/storage"
)

const testUser int64 = 1

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// checkInvariant asserts the ledger invariant: the cached balance equals the
// sum of the counterparty's pending due amounts.
func checkInvariant(t *testing.T, repo *storage.SQLiteRepository, userID int64, name string) {
	t.Helper()
	ctx := context.Background()
	cp, err := repo.GetCounterpartyByName(ctx, userID, name)
	if err != nil {
		t.Fatalf("get counterparty %q: %v", name, err)
	}
	sum, err := repo.SumPendingDues(ctx, userID, cp.ID)
	if err != nil {
		t.Fatalf("sum pending dues: %v", err)
	}
	if cp.Balance.Cents != sum {
		t.Fatalf("invariant violated for %q: balance=%d, sum(pending dues)=%d", name, cp.Balance.Cents, sum)
	}
}

func TestGetOrCreateCounterparty(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	cp, created, err := svc.GetOrCreateCounterparty(ctx, testUser, "Alice")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if !created {
		t.Fatal("first reference should create the counterparty")
	}
	if cp.Name != "Alice" {
		t.Fatalf("name = %q, want Alice", cp.Name)
	}
	if cp.Balance.Cents != 0 {
		t.Fatalf("new counterparty balance = %d, want 0", cp.Balance.Cents)
	}

	// Case-insensitive, whitespace-insensitive dedup.
	again, created, err := svc.GetOrCreateCounterparty(ctx, testUser, "  alice ")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if created {
		t.Fatal("second reference should not create a new counterparty")
	}
	if again.ID != cp.ID {
		t.Fatalf("got id %d, want %d", again.ID, cp.ID)
	}

	// Another user gets an independent counterparty.
	other, created, err := svc.GetOrCreateCounterparty(ctx, 2, "Alice")
	if err != nil {
		t.Fatalf("other user: %v", err)
	}
	if !created || other.ID == cp.ID {
		t.Fatal("counterparties must be scoped per user")
	}
}

func TestRecordBorrowedAndLent(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	res, err := svc.RecordBorrowed(ctx, testUser, "Bob", core.Money{Cents: 6000}, EventMeta{Category: "food"})
	if err != nil {
		t.Fatalf("record borrowed: %v", err)
	}
	if res.NewBalance.Cents != 6000 {
		t.Fatalf("balance after borrow = %d, want 6000", res.NewBalance.Cents)
	}
	if res.Due.Amount.Cents != 6000 || res.Due.Status != core.DuePending {
		t.Fatalf("due = %+v, want pending +6000", res.Due)
	}
	if res.Event.Payer != "Bob" {
		t.Fatalf("payer = %q, want Bob", res.Event.Payer)
	}

	res, err = svc.RecordLent(ctx, testUser, "Bob", core.Money{Cents: 2000}, EventMeta{Category: "transport"})
	if err != nil {
		t.Fatalf("record lent: %v", err)
	}
	if res.NewBalance.Cents != 4000 {
		t.Fatalf("balance after lend = %d, want 4000", res.NewBalance.Cents)
	}
	if res.Due.Amount.Cents != -2000 {
		t.Fatalf("due amount = %d, want -2000", res.Due.Amount.Cents)
	}
	if res.Event.Payer != "user" {
		t.Fatalf("payer = %q, want user", res.Event.Payer)
	}

	checkInvariant(t, repo, testUser, "Bob")
}

func TestRecordRejectsNonPositiveAmount(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	_, err := svc.RecordBorrowed(ctx, testUser, "Bob", core.Money{Cents: 0}, EventMeta{})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	_, err = svc.RecordLent(ctx, testUser, "Bob", core.Money{Cents: -100}, EventMeta{})
	if !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestReceivePaymentRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	if _, err := svc.RecordLent(ctx, testUser, "Carol", core.Money{Cents: 3000}, EventMeta{}); err != nil {
		t.Fatalf("record lent: %v", err)
	}

	amt := core.Money{Cents: 3000}
	res, err := svc.ReceivePayment(ctx, testUser, "Carol", &amt)
	if err != nil {
		t.Fatalf("receive payment: %v", err)
	}
	if res.SettledAmount.Cents != 3000 {
		t.Fatalf("settled = %d, want 3000", res.SettledAmount.Cents)
	}
	if res.NewBalance.Cents != 0 {
		t.Fatalf("balance after round-trip = %d, want 0", res.NewBalance.Cents)
	}
	checkInvariant(t, repo, testUser, "Carol")

	// Balance is now zero; nothing further is owed.
	_, err = svc.ReceivePayment(ctx, testUser, "Carol", nil)
	if !errors.Is(err, core.ErrNothingOwed) {
		t.Fatalf("expected ErrNothingOwed, got %v", err)
	}
}

func TestReceivePaymentClampsToOwed(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	if _, err := svc.RecordLent(ctx, testUser, "Dave", core.Money{Cents: 3000}, EventMeta{}); err != nil {
		t.Fatalf("record lent: %v", err)
	}

	big := core.Money{Cents: 100000}
	res, err := svc.ReceivePayment(ctx, testUser, "Dave", &big)
	if err != nil {
		t.Fatalf("receive payment: %v", err)
	}
	if res.SettledAmount.Cents != 3000 {
		t.Fatalf("settled = %d, want 3000 (clamped)", res.SettledAmount.Cents)
	}
	if res.NewBalance.Cents != 0 {
		t.Fatalf("balance = %d, want 0", res.NewBalance.Cents)
	}
	checkInvariant(t, repo, testUser, "Dave")
}

func TestReceivePaymentMixedSignClampsToNetOwed(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	// Borrowed 70, lent 100: net the counterparty owes the user 30, even
	// though 100 of lent dues are still pending.
	if _, err := svc.RecordBorrowed(ctx, testUser, "Gina", core.Money{Cents: 7000}, EventMeta{}); err != nil {
		t.Fatalf("record borrowed: %v", err)
	}
	if _, err := svc.RecordLent(ctx, testUser, "Gina", core.Money{Cents: 10000}, EventMeta{}); err != nil {
		t.Fatalf("record lent: %v", err)
	}

	res, err := svc.ReceivePayment(ctx, testUser, "Gina", nil)
	if err != nil {
		t.Fatalf("receive payment: %v", err)
	}
	if res.SettledAmount.Cents != 3000 {
		t.Fatalf("settled = %d, want 3000 (net owed)", res.SettledAmount.Cents)
	}
	if res.NewBalance.Cents != 0 {
		t.Fatalf("balance = %d, want 0 (must not flip sign)", res.NewBalance.Cents)
	}
	checkInvariant(t, repo, testUser, "Gina")

	if _, err := svc.ReceivePayment(ctx, testUser, "Gina", nil); !errors.Is(err, core.ErrNothingOwed) {
		t.Fatalf("expected ErrNothingOwed after settling net, got %v", err)
	}
}

func TestSettleUpMixedSignStopsAtZeroBalance(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	if _, err := svc.RecordBorrowed(ctx, testUser, "Hugo", core.Money{Cents: 10000}, EventMeta{}); err != nil {
		t.Fatalf("record borrowed: %v", err)
	}
	if _, err := svc.RecordLent(ctx, testUser, "Hugo", core.Money{Cents: 7000}, EventMeta{}); err != nil {
		t.Fatalf("record lent: %v", err)
	}

	res, err := svc.SettleUp(ctx, testUser, "Hugo", nil)
	if err != nil {
		t.Fatalf("settle up: %v", err)
	}
	if res.SettledAmount.Cents != 3000 {
		t.Fatalf("settled = %d, want 3000 (net owed)", res.SettledAmount.Cents)
	}
	if res.NewBalance.Cents != 0 {
		t.Fatalf("balance = %d, want 0", res.NewBalance.Cents)
	}
	checkInvariant(t, repo, testUser, "Hugo")

	// At a zero balance there is nothing left to settle in either direction.
	if _, err := svc.SettleUp(ctx, testUser, "Hugo", nil); !errors.Is(err, core.ErrNoPendingDues) {
		t.Fatalf("expected ErrNoPendingDues at zero balance, got %v", err)
	}
}

func TestReceivePaymentRequiresOwingBalance(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	// User owes Erin, not the other way around.
	if _, err := svc.RecordBorrowed(ctx, testUser, "Erin", core.Money{Cents: 1000}, EventMeta{}); err != nil {
		t.Fatalf("record borrowed: %v", err)
	}

	_, err := svc.ReceivePayment(ctx, testUser, "Erin", nil)
	if !errors.Is(err, core.ErrNothingOwed) {
		t.Fatalf("expected ErrNothingOwed, got %v", err)
	}
}

func TestReceivePaymentSettlesOldestFirst(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	if _, err := svc.RecordLent(ctx, testUser, "Frank", core.Money{Cents: 3000}, EventMeta{Description: "first"}); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if _, err := svc.RecordLent(ctx, testUser, "Frank", core.Money{Cents: 5000}, EventMeta{Description: "second"}); err != nil {
		t.Fatalf("record second: %v", err)
	}

	amt := core.Money{Cents: 5000}
	res, err := svc.ReceivePayment(ctx, testUser, "Frank", &amt)
	if err != nil {
		t.Fatalf("receive payment: %v", err)
	}
	if res.SettledAmount.Cents != 5000 {
		t.Fatalf("settled = %d, want 5000", res.SettledAmount.Cents)
	}
	if res.NewBalance.Cents != -3000 {
		t.Fatalf("balance = %d, want -3000", res.NewBalance.Cents)
	}

	dues, err := svc.PendingDues(ctx, testUser, "Frank")
	if err != nil {
		t.Fatalf("pending dues: %v", err)
	}
	if len(dues) != 1 {
		t.Fatalf("pending dues = %d, want 1 (oldest settled fully)", len(dues))
	}
	if dues[0].Amount.Cents != -3000 {
		t.Fatalf("remaining due = %d, want -3000", dues[0].Amount.Cents)
	}
	checkInvariant(t, repo, testUser, "Frank")
}

func TestSettleDuePartial(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	res, err := svc.RecordBorrowed(ctx, testUser, "Grace", core.Money{Cents: 10000}, EventMeta{})
	if err != nil {
		t.Fatalf("record borrowed: %v", err)
	}

	partial := core.Money{Cents: 4000}
	settleRes, err := svc.SettleDue(ctx, testUser, res.Due.ID, &partial)
	if err != nil {
		t.Fatalf("settle due: %v", err)
	}
	if settleRes.SettledAmount.Cents != 4000 {
		t.Fatalf("settled = %d, want 4000", settleRes.SettledAmount.Cents)
	}
	if settleRes.NewBalance.Cents != 6000 {
		t.Fatalf("balance = %d, want 6000", settleRes.NewBalance.Cents)
	}

	dues, err := svc.PendingDues(ctx, testUser, "Grace")
	if err != nil {
		t.Fatalf("pending dues: %v", err)
	}
	if len(dues) != 1 || dues[0].Amount.Cents != 6000 || dues[0].Status != core.DuePending {
		t.Fatalf("due after partial = %+v, want pending 6000", dues)
	}
	checkInvariant(t, repo, testUser, "Grace")

	// Settling the remainder flips the due to settled.
	settleRes, err = svc.SettleDue(ctx, testUser, res.Due.ID, nil)
	if err != nil {
		t.Fatalf("settle remainder: %v", err)
	}
	if settleRes.SettledAmount.Cents != 6000 || settleRes.NewBalance.Cents != 0 {
		t.Fatalf("final settle = %+v", settleRes)
	}
	checkInvariant(t, repo, testUser, "Grace")

	// A settled due cannot be settled again.
	_, err = svc.SettleDue(ctx, testUser, res.Due.ID, nil)
	if !errors.Is(err, core.ErrNoPendingDues) {
		t.Fatalf("expected ErrNoPendingDues, got %v", err)
	}
}

func TestSettleUpNoPendingDues(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	if _, _, err := svc.GetOrCreateCounterparty(ctx, testUser, "Heidi"); err != nil {
		t.Fatalf("create counterparty: %v", err)
	}

	_, err := svc.SettleUp(ctx, testUser, "Heidi", nil)
	if !errors.Is(err, core.ErrNoPendingDues) {
		t.Fatalf("expected ErrNoPendingDues, got %v", err)
	}

	_, err = svc.SettleUp(ctx, testUser, "nobody", nil)
	if !errors.Is(err, core.ErrCounterpartyNotFound) {
		t.Fatalf("expected ErrCounterpartyNotFound, got %v", err)
	}
}

func TestSettleUpExhaustsAcrossDues(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	// User owes Ivan 30 + 50.
	if _, err := svc.RecordBorrowed(ctx, testUser, "Ivan", core.Money{Cents: 3000}, EventMeta{}); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if _, err := svc.RecordBorrowed(ctx, testUser, "Ivan", core.Money{Cents: 5000}, EventMeta{}); err != nil {
		t.Fatalf("record second: %v", err)
	}

	// Pay 40: the first due (30) settles fully, the second shrinks by 10.
	amt := core.Money{Cents: 4000}
	res, err := svc.SettleUp(ctx, testUser, "Ivan", &amt)
	if err != nil {
		t.Fatalf("settle up: %v", err)
	}
	if res.SettledAmount.Cents != 4000 {
		t.Fatalf("settled = %d, want 4000", res.SettledAmount.Cents)
	}
	if res.NewBalance.Cents != 4000 {
		t.Fatalf("balance = %d, want 4000", res.NewBalance.Cents)
	}

	dues, err := svc.PendingDues(ctx, testUser, "Ivan")
	if err != nil {
		t.Fatalf("pending dues: %v", err)
	}
	if len(dues) != 1 || dues[0].Amount.Cents != 4000 {
		t.Fatalf("remaining dues = %+v, want one due of 4000", dues)
	}
	checkInvariant(t, repo, testUser, "Ivan")
}

func TestBalanceReadIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	if _, err := svc.RecordBorrowed(ctx, testUser, "Judy", core.Money{Cents: 1234}, EventMeta{}); err != nil {
		t.Fatalf("record: %v", err)
	}

	first, err := svc.Balance(ctx, testUser, "Judy")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := svc.Balance(ctx, testUser, "Judy")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if first != second {
		t.Fatalf("reads differ: %v vs %v", first, second)
	}
}

func TestInvariantHoldsAcrossMixedOperations(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewLedgerService(repo, nil)
	ctx := context.Background()

	ops := []func() error{
		func() error {
			_, err := svc.RecordBorrowed(ctx, testUser, "Mallory", core.Money{Cents: 2500}, EventMeta{})
			return err
		},
		func() error {
			_, err := svc.RecordLent(ctx, testUser, "Mallory", core.Money{Cents: 1000}, EventMeta{})
			return err
		},
		func() error {
			amt := core.Money{Cents: 500}
			_, err := svc.SettleUp(ctx, testUser, "Mallory", &amt)
			return err
		},
		func() error {
			_, err := svc.RecordBorrowed(ctx, testUser, "Mallory", core.Money{Cents: 700}, EventMeta{})
			return err
		},
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		checkInvariant(t, repo, testUser, "Mallory")
	}
}
