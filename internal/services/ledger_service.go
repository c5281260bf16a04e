package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// AuditPublisher emits a ledger-audit message after every balance mutation.
// The reconcile worker consumes these to verify the balance projection.
type AuditPublisher interface {
	PublishLedgerAudit(ctx context.Context, userID, counterpartyID int64) error
}

// EventMeta carries the descriptive fields of a monetary event.
type EventMeta struct {
	Category    string
	Merchant    string
	Description string
	Date        time.Time
}

// RecordResult is returned by the recording operations.
type RecordResult struct {
	Counterparty *core.Counterparty
	Event        *core.MonetaryEvent
	Due          *core.Due
	NewBalance   core.Money
	WasCreated   bool
}

// SettlementResult is returned by the settlement operations.
type SettlementResult struct {
	SettledAmount core.Money
	NewBalance    core.Money
}

// LedgerService owns counterparty balances, dues, and their settlement.
type LedgerService struct {
	repo  *storage.SQLiteRepository
	audit AuditPublisher
}

func NewLedgerService(repo *storage.SQLiteRepository, audit AuditPublisher) *LedgerService {
	return &LedgerService{repo: repo, audit: audit}
}

// GetOrCreateCounterparty resolves a counterparty by name, creating it on
// first reference. The bool reports whether a new record was created.
func (s *LedgerService) GetOrCreateCounterparty(ctx context.Context, userID int64, name string) (*core.Counterparty, bool, error) {
	return s.repo.GetOrCreateCounterparty(ctx, userID, name)
}

func (s *LedgerService) ListCounterparties(ctx context.Context, userID int64) ([]core.Counterparty, error) {
	return s.repo.ListCounterparties(ctx, userID)
}

// UpdateContact sets a counterparty's contact metadata by name.
func (s *LedgerService) UpdateContact(ctx context.Context, userID int64, counterpartyName, email, phone string) error {
	cp, err := s.repo.GetCounterpartyByName(ctx, userID, counterpartyName)
	if err != nil {
		return err
	}
	return s.repo.UpdateCounterpartyContact(ctx, userID, cp.ID, email, phone)
}

// Balance reads the running balance with a counterparty.
func (s *LedgerService) Balance(ctx context.Context, userID int64, counterpartyName string) (core.Money, error) {
	cp, err := s.repo.GetCounterpartyByName(ctx, userID, counterpartyName)
	if err != nil {
		return core.Money{}, err
	}
	return cp.Balance, nil
}

// RecordBorrowed records an expense the counterparty fronted for the user:
// the user now owes them the amount. Due and ledger delta are both positive.
func (s *LedgerService) RecordBorrowed(ctx context.Context, userID int64, counterpartyName string, amount core.Money, meta EventMeta) (*RecordResult, error) {
	return s.record(ctx, userID, counterpartyName, amount, meta, +1)
}

// RecordLent records money the user lent to or paid for the counterparty:
// the counterparty now owes the user. Due and ledger delta are both negative.
func (s *LedgerService) RecordLent(ctx context.Context, userID int64, counterpartyName string, amount core.Money, meta EventMeta) (*RecordResult, error) {
	return s.record(ctx, userID, counterpartyName, amount, meta, -1)
}

func (s *LedgerService) record(ctx context.Context, userID int64, counterpartyName string, amount core.Money, meta EventMeta, sign int64) (*RecordResult, error) {
	if err := amount.Validate(); err != nil {
		return nil, err
	}

	cp, created, err := s.repo.GetOrCreateCounterparty(ctx, userID, counterpartyName)
	if err != nil {
		return nil, err
	}

	payer := "user"
	if sign > 0 {
		payer = cp.Name
	}
	if meta.Date.IsZero() {
		meta.Date = time.Now()
	}

	event, due, newBalance, err := s.repo.RecordDue(ctx, storage.RecordDueParams{
		UserID:         userID,
		CounterpartyID: cp.ID,
		AmountCents:    sign * amount.Cents,
		Category:       meta.Category,
		Merchant:       meta.Merchant,
		Description:    meta.Description,
		Payer:          payer,
		Date:           meta.Date,
	})
	if err != nil {
		return nil, fmt.Errorf("record due: %w", err)
	}

	slog.InfoContext(ctx, "Recorded due",
		"user_id", userID,
		"counterparty", cp.Name,
		"due_cents", due.Amount.Cents,
		"new_balance_cents", newBalance.Cents)

	s.publishAudit(ctx, userID, cp.ID)

	cp.Balance = newBalance
	return &RecordResult{
		Counterparty: cp,
		Event:        event,
		Due:          due,
		NewBalance:   newBalance,
		WasCreated:   created,
	}, nil
}

// ReceivePayment settles money the counterparty pays back to the user. The
// counterparty must currently owe the user (negative balance); a nil amount
// settles everything owed, and any amount beyond what is owed is clamped.
func (s *LedgerService) ReceivePayment(ctx context.Context, userID int64, counterpartyName string, amount *core.Money) (*SettlementResult, error) {
	cp, err := s.repo.GetCounterpartyByName(ctx, userID, counterpartyName)
	if err != nil {
		return nil, err
	}
	if cp.Balance.Cents >= 0 {
		return nil, core.ErrNothingOwed
	}

	// Never settle more than the net owed amount. With dues pending in both
	// directions the same-sign pending sum exceeds abs(balance), and settling
	// past it would flip the balance sign.
	max := -cp.Balance.Cents
	if amount != nil {
		if err := amount.Validate(); err != nil {
			return nil, err
		}
		if amount.Cents < max {
			max = amount.Cents
		}
	}

	settled, newBalance, err := s.repo.SettlePendingDues(ctx, userID, cp.ID, &max, -1)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Received payment",
		"user_id", userID,
		"counterparty", cp.Name,
		"settled_cents", settled,
		"new_balance_cents", newBalance.Cents)

	s.publishAudit(ctx, userID, cp.ID)

	return &SettlementResult{
		SettledAmount: core.Money{Cents: settled},
		NewBalance:    newBalance,
	}, nil
}

// SettleUp settles the counterparty's outstanding dues in the direction of
// the current balance, oldest first, up to the requested amount (nil settles
// the full net owed amount). A zero balance reports ErrNoPendingDues.
func (s *LedgerService) SettleUp(ctx context.Context, userID int64, counterpartyName string, amount *core.Money) (*SettlementResult, error) {
	cp, err := s.repo.GetCounterpartyByName(ctx, userID, counterpartyName)
	if err != nil {
		return nil, err
	}

	var sign int64 = 1
	owed := cp.Balance.Cents
	if owed < 0 {
		sign = -1
		owed = -owed
	}
	if owed == 0 {
		return nil, core.ErrNoPendingDues
	}

	// Cap at the net owed amount so mixed-sign due sets settle to a zero
	// balance instead of overshooting past it.
	max := owed
	if amount != nil {
		if err := amount.Validate(); err != nil {
			return nil, err
		}
		if amount.Cents < max {
			max = amount.Cents
		}
	}

	settled, newBalance, err := s.repo.SettlePendingDues(ctx, userID, cp.ID, &max, sign)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Settled dues",
		"user_id", userID,
		"counterparty", cp.Name,
		"settled_cents", settled,
		"new_balance_cents", newBalance.Cents)

	s.publishAudit(ctx, userID, cp.ID)

	return &SettlementResult{
		SettledAmount: core.Money{Cents: settled},
		NewBalance:    newBalance,
	}, nil
}

// SettleDue settles one due fully (nil partial) or partially. Partial amounts
// larger than the remaining due are clamped to it.
func (s *LedgerService) SettleDue(ctx context.Context, userID, dueID int64, partial *core.Money) (*SettlementResult, error) {
	var partialCents *int64
	if partial != nil {
		if err := partial.Validate(); err != nil {
			return nil, err
		}
		c := partial.Cents
		partialCents = &c
	}

	settled, newBalance, err := s.repo.SettleDue(ctx, userID, dueID, partialCents)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Settled due",
		"user_id", userID,
		"due_id", dueID,
		"settled_cents", settled,
		"new_balance_cents", newBalance.Cents)

	return &SettlementResult{
		SettledAmount: core.Money{Cents: settled},
		NewBalance:    newBalance,
	}, nil
}

// PendingDues lists pending dues oldest first, optionally for one
// counterparty by name.
func (s *LedgerService) PendingDues(ctx context.Context, userID int64, counterpartyName string) ([]core.Due, error) {
	var cpID *int64
	if counterpartyName != "" {
		cp, err := s.repo.GetCounterpartyByName(ctx, userID, counterpartyName)
		if err != nil {
			return nil, err
		}
		cpID = &cp.ID
	}
	return s.repo.ListPendingDues(ctx, userID, cpID)
}

func (s *LedgerService) publishAudit(ctx context.Context, userID, counterpartyID int64) {
	if s.audit == nil {
		return
	}
	if err := s.audit.PublishLedgerAudit(ctx, userID, counterpartyID); err != nil {
		// Audit messages are advisory; the periodic sweep covers gaps.
		slog.WarnContext(ctx, "Failed to publish ledger audit message",
			"user_id", userID,
			"counterparty_id", counterpartyID,
			"error", err)
	}
}
