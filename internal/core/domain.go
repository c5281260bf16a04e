package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily   RecurrenceKind = "daily"
	Weekly  RecurrenceKind = "weekly"
	Monthly RecurrenceKind = "monthly"
	Yearly  RecurrenceKind = "yearly"
)

const (
	DuePending DueStatus = "pending"
	DueSettled DueStatus = "settled"
)

const (
	OccurrencePending OccurrenceStatus = "pending"
	OccurrencePaid    OccurrenceStatus = "paid"
	OccurrenceSkipped OccurrenceStatus = "skipped"
	OccurrenceOverdue OccurrenceStatus = "overdue"
)

type (
	RecurrenceKind   string
	DueStatus        string
	OccurrenceStatus string

	Money struct {
		Cents int64
	}

	// Counterparty is a person the user records debts with. Balance is a
	// cached projection of the counterparty's pending dues: positive means
	// the user owes the counterparty, negative means the counterparty owes
	// the user.
	Counterparty struct {
		ID        int64
		UserID    int64
		Name      string
		Email     string
		Phone     string
		Balance   Money
		CreatedAt time.Time
	}

	// MonetaryEvent is an append-only record of money spent. Payer is either
	// "user" or the counterparty's name at recording time.
	MonetaryEvent struct {
		ID          int64
		UserID      int64
		Amount      Money
		Category    string
		Merchant    string
		Description string
		Payer       string
		Date        time.Time
		CreatedAt   time.Time
	}

	// Due is a signed, settlable obligation. Amount carries the same sign as
	// the ledger delta it was recorded with: positive increases what the user
	// owes, negative increases what the counterparty owes. The magnitude
	// shrinks on partial settlement.
	Due struct {
		ID             int64
		UserID         int64
		CounterpartyID int64
		EventID        *int64
		Amount         Money
		Status         DueStatus
		CreatedAt      time.Time
		SettledAt      *time.Time
	}

	// RecurringRule is a template for a repeating obligation. NextDueDate
	// advances only when an occurrence is paid with generate-next requested.
	RecurringRule struct {
		ID            int64
		UserID        int64
		Name          string
		Amount        Money
		Kind          RecurrenceKind
		RecurrenceDay int
		NextDueDate   time.Time
		Active        bool
		CreatedAt     time.Time
	}

	// Occurrence is one concrete scheduled instance of a recurring rule.
	// Amount is copied from the rule at creation time and never re-read.
	Occurrence struct {
		ID       int64
		RuleID   int64
		UserID   int64
		DueDate  time.Time
		PaidDate *time.Time
		Amount   Money
		Status   OccurrenceStatus
	}
)

var (
	ErrCounterpartyNotFound = errors.New("counterparty not found")
	ErrNothingOwed          = errors.New("counterparty owes nothing")
	ErrNoPendingDues        = errors.New("no pending dues")
	ErrNotPaid              = errors.New("occurrence is not paid")
	ErrNotPending           = errors.New("occurrence is not pending")
	ErrNotFound             = errors.New("not found")
	ErrInvalidRecurrence    = errors.New("invalid recurrence")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyName            = errors.New("empty name")

	// ErrStorageTransaction marks a failed storage transaction that was
	// rolled back cleanly. Callers may retry once for idempotent operations.
	ErrStorageTransaction = errors.New("storage transaction failed")
)

// NormalizeName returns the canonical form used to deduplicate counterparty
// names: trimmed and case-folded.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidateRecurrence checks a recurrence kind and its optional day parameter.
// Weekly rules take a weekday index 0-6 (Sunday = 0), monthly rules a
// day-of-month 1-31. Daily and yearly rules take no day parameter.
func ValidateRecurrence(kind RecurrenceKind, day int) error {
	switch kind {
	case Daily, Yearly:
		return nil
	case Weekly:
		if day < 0 || day > 6 {
			return ErrInvalidRecurrence
		}
		return nil
	case Monthly:
		if day < 1 || day > 31 {
			return ErrInvalidRecurrence
		}
		return nil
	default:
		return ErrInvalidRecurrence
	}
}

func (r RecurringRule) Validate() error {
	if len(strings.TrimSpace(r.Name)) == 0 {
		return ErrEmptyName
	}
	if r.Amount.Cents < 0 {
		return ErrInvalidAmount
	}
	return ValidateRecurrence(r.Kind, r.RecurrenceDay)
}

// DateOnly truncates a time to UTC midnight. Due dates and event dates carry
// date-only semantics throughout.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
