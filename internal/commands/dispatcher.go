package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"
	"tally/internal/services"
)

// Result is the outcome of one command. Failed results carry a
// human-readable reason and never reflect a partial state change.
type Result struct {
	Ok     bool   `json:"ok"`
	Reply  string `json:"reply"`
	Reason string `json:"reason,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Dispatcher executes validated commands against the ledger and schedule
// services.
type Dispatcher struct {
	ledger    *services.LedgerService
	schedule  *services.ScheduleService
	dashboard *services.DashboardService
	now       func() time.Time
}

func NewDispatcher(ledger *services.LedgerService, schedule *services.ScheduleService, dashboard *services.DashboardService) *Dispatcher {
	return &Dispatcher{
		ledger:    ledger,
		schedule:  schedule,
		dashboard: dashboard,
		now:       time.Now,
	}
}

// Dispatch validates and executes one command. Transient storage failures
// are retried once, every executed write either fully commits or fully
// rolls back.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return failure(err), nil
	}

	res, err := d.execute(ctx, cmd)
	if errors.Is(err, core.ErrStorageTransaction) {
		slog.WarnContext(ctx, "Retrying command after transaction failure",
			"command", cmd.Kind(), "error", err)
		res, err = d.execute(ctx, cmd)
	}
	if err != nil {
		if isDomainError(err) {
			return failure(err), nil
		}
		return nil, fmt.Errorf("execute %s: %w", cmd.Kind(), err)
	}
	return res, nil
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) (*Result, error) {
	switch c := cmd.(type) {
	case RecordBorrowed:
		res, err := d.ledger.RecordBorrowed(ctx, c.UserID, c.Counterparty, c.Amount, services.EventMeta{
			Category:    c.Category,
			Merchant:    c.Merchant,
			Description: c.Description,
			Date:        core.DateOnly(d.now()),
		})
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("Recorded %s paid by %s. You now owe them %s.",
			c.Amount, res.Counterparty.Name, res.NewBalance.Abs()), res), nil

	case RecordLent:
		res, err := d.ledger.RecordLent(ctx, c.UserID, c.Counterparty, c.Amount, services.EventMeta{
			Category:    c.Category,
			Merchant:    c.Merchant,
			Description: c.Description,
			Date:        core.DateOnly(d.now()),
		})
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("Recorded %s lent to %s. They now owe you %s.",
			c.Amount, res.Counterparty.Name, res.NewBalance.Abs()), res), nil

	case ReceivePayment:
		res, err := d.ledger.ReceivePayment(ctx, c.UserID, c.Counterparty, c.Amount)
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("Received %s from %s. Remaining balance: %s.",
			res.SettledAmount, c.Counterparty, res.NewBalance), res), nil

	case SettleUp:
		res, err := d.ledger.SettleUp(ctx, c.UserID, c.Counterparty, c.Amount)
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("Settled %s with %s. Remaining balance: %s.",
			res.SettledAmount, c.Counterparty, res.NewBalance), res), nil

	case CreateRecurringRule:
		rule, occ, err := d.schedule.CreateRule(ctx, c.UserID, c.Name, c.Amount, c.Recurrence, c.RecurrenceDay, d.now())
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("Created %s rule %q for %s. First payment due %s.",
			rule.Kind, rule.Name, rule.Amount, occ.DueDate.Format("2006-01-02")),
			map[string]any{"rule": rule, "occurrence": occ}), nil

	case MarkOccurrencePaid:
		paid, next, err := d.schedule.MarkPaid(ctx, c.UserID, c.OccurrenceID, c.GenerateNext, d.now())
		if err != nil {
			return nil, err
		}
		reply := fmt.Sprintf("Marked payment of %s as paid.", paid.Amount)
		if next != nil {
			reply += fmt.Sprintf(" Next one is due %s.", next.DueDate.Format("2006-01-02"))
		}
		return success(reply, map[string]any{"occurrence": paid, "next": next}), nil

	case UndoOccurrencePaid:
		reverted, deletedID, err := d.schedule.UndoPaid(ctx, c.UserID, c.OccurrenceID)
		if err != nil {
			return nil, err
		}
		reply := fmt.Sprintf("Payment of %s is pending again.", reverted.Amount)
		if deletedID != nil {
			reply += " The generated follow-up was removed."
		}
		return success(reply, reverted), nil

	case ListPendingDues:
		dues, err := d.ledger.PendingDues(ctx, c.UserID, c.Counterparty)
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("%d pending dues.", len(dues)), dues), nil

	case ListPendingOccurrences:
		occs, err := d.schedule.PendingOccurrences(ctx, c.UserID)
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("%d scheduled payments waiting.", len(occs)), occs), nil

	case ShowDashboard:
		summary, err := d.dashboard.Summary(ctx, c.UserID, d.now())
		if err != nil {
			return nil, err
		}
		return success(fmt.Sprintf("You owe %s, you are owed %s, %d payments pending.",
			summary.OwedByUser, summary.OwedToUser, summary.PendingDueCount), summary), nil

	default:
		return nil, fmt.Errorf("unsupported command %q", cmd.Kind())
	}
}

func success(reply string, data any) *Result {
	return &Result{Ok: true, Reply: reply, Data: data}
}

func failure(err error) *Result {
	return &Result{Ok: false, Reply: reasonFor(err), Reason: err.Error()}
}

// isDomainError reports whether err is an expected user-facing outcome
// rather than an infrastructure failure.
func isDomainError(err error) bool {
	for _, domain := range []error{
		core.ErrCounterpartyNotFound,
		core.ErrNothingOwed,
		core.ErrNoPendingDues,
		core.ErrNotPaid,
		core.ErrNotPending,
		core.ErrNotFound,
		core.ErrInvalidRecurrence,
		core.ErrInvalidAmount,
		core.ErrEmptyName,
	} {
		if errors.Is(err, domain) {
			return true
		}
	}
	return false
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, core.ErrCounterpartyNotFound):
		return "I don't know that person yet."
	case errors.Is(err, core.ErrNothingOwed):
		return "They don't owe you anything right now."
	case errors.Is(err, core.ErrNoPendingDues):
		return "There is nothing to settle."
	case errors.Is(err, core.ErrNotPaid):
		return "That payment isn't marked as paid."
	case errors.Is(err, core.ErrNotPending):
		return "That payment was already handled."
	case errors.Is(err, core.ErrNotFound):
		return "I couldn't find that one."
	case errors.Is(err, core.ErrInvalidRecurrence):
		return "That repeat schedule doesn't look right."
	case errors.Is(err, core.ErrInvalidAmount):
		return "The amount has to be a positive number."
	case errors.Is(err, core.ErrEmptyName):
		return "I need a name for that."
	default:
		return "Something went wrong, please try again."
	}
}
