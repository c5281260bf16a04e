package commands

import (
	"fmt"

	"tally/internal/core"
)

// Command is one validated ledger operation. The intent extractor's only
// contract with the core is to produce one of these variants or report an
// unparseable message.
type Command interface {
	Kind() string
	Validate() error
}

// RecordBorrowed logs money a counterparty fronted for the user. The user
// owes them afterwards.
type RecordBorrowed struct {
	UserID       int64
	Counterparty string
	Amount       core.Money
	Category     string
	Merchant     string
	Description  string
}

// RecordLent logs money the user fronted for a counterparty.
type RecordLent struct {
	UserID       int64
	Counterparty string
	Amount       core.Money
	Category     string
	Merchant     string
	Description  string
}

// ReceivePayment settles money a counterparty paid back. Amount nil means
// everything they owe.
type ReceivePayment struct {
	UserID       int64
	Counterparty string
	Amount       *core.Money
}

// SettleUp settles the user's outstanding dues with a counterparty, in the
// direction of the current balance. Amount nil means settle everything.
type SettleUp struct {
	UserID       int64
	Counterparty string
	Amount       *core.Money
}

// CreateRecurringRule registers a repeating obligation and its first
// scheduled occurrence.
type CreateRecurringRule struct {
	UserID        int64
	Name          string
	Amount        core.Money
	Recurrence    core.RecurrenceKind
	RecurrenceDay int
}

// MarkOccurrencePaid pays one scheduled occurrence, optionally scheduling
// the next one.
type MarkOccurrencePaid struct {
	UserID       int64
	OccurrenceID int64
	GenerateNext bool
}

// UndoOccurrencePaid reverts the most recent payment of an occurrence.
type UndoOccurrencePaid struct {
	UserID       int64
	OccurrenceID int64
}

// ListPendingDues lists pending dues, optionally for one counterparty.
type ListPendingDues struct {
	UserID       int64
	Counterparty string
}

// ListPendingOccurrences lists scheduled payments still waiting.
type ListPendingOccurrences struct {
	UserID int64
}

// ShowDashboard summarizes balances and upcoming payments.
type ShowDashboard struct {
	UserID int64
}

func (RecordBorrowed) Kind() string         { return "record_borrowed" }
func (RecordLent) Kind() string             { return "record_lent" }
func (ReceivePayment) Kind() string         { return "receive_payment" }
func (SettleUp) Kind() string               { return "settle_up" }
func (CreateRecurringRule) Kind() string    { return "create_recurring_rule" }
func (MarkOccurrencePaid) Kind() string     { return "mark_occurrence_paid" }
func (UndoOccurrencePaid) Kind() string     { return "undo_occurrence_paid" }
func (ListPendingDues) Kind() string        { return "list_pending_dues" }
func (ListPendingOccurrences) Kind() string { return "list_pending_occurrences" }
func (ShowDashboard) Kind() string          { return "show_dashboard" }

func (c RecordBorrowed) Validate() error {
	if c.Counterparty == "" {
		return core.ErrEmptyName
	}
	return c.Amount.Validate()
}

func (c RecordLent) Validate() error {
	if c.Counterparty == "" {
		return core.ErrEmptyName
	}
	return c.Amount.Validate()
}

func (c ReceivePayment) Validate() error {
	if c.Counterparty == "" {
		return core.ErrEmptyName
	}
	if c.Amount != nil {
		return c.Amount.Validate()
	}
	return nil
}

func (c SettleUp) Validate() error {
	if c.Counterparty == "" {
		return core.ErrEmptyName
	}
	if c.Amount != nil {
		return c.Amount.Validate()
	}
	return nil
}

func (c CreateRecurringRule) Validate() error {
	if c.Name == "" {
		return core.ErrEmptyName
	}
	if c.Amount.Cents < 0 {
		return core.ErrInvalidAmount
	}
	return core.ValidateRecurrence(c.Recurrence, c.RecurrenceDay)
}

func (c MarkOccurrencePaid) Validate() error {
	if c.OccurrenceID <= 0 {
		return fmt.Errorf("occurrence id: %w", core.ErrNotFound)
	}
	return nil
}

func (c UndoOccurrencePaid) Validate() error {
	if c.OccurrenceID <= 0 {
		return fmt.Errorf("occurrence id: %w", core.ErrNotFound)
	}
	return nil
}

func (ListPendingDues) Validate() error        { return nil }
func (ListPendingOccurrences) Validate() error { return nil }
func (ShowDashboard) Validate() error          { return nil }
