package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tally/internal/core"
	"tally/internal/storage"
)

// ScheduleService owns recurring rules and the lifecycle of their
// occurrences.
type ScheduleService struct {
	repo *storage.SQLiteRepository
}

func NewScheduleService(repo *storage.SQLiteRepository) *ScheduleService {
	return &ScheduleService{repo: repo}
}

// CreateRule validates and stores a recurring rule together with its first
// pending occurrence. The first due date is always strictly after now.
func (s *ScheduleService) CreateRule(ctx context.Context, userID int64, name string, amount core.Money, kind core.RecurrenceKind, recurrenceDay int, now time.Time) (*core.RecurringRule, *core.Occurrence, error) {
	rule := core.RecurringRule{
		UserID:        userID,
		Name:          name,
		Amount:        amount,
		Kind:          kind,
		RecurrenceDay: recurrenceDay,
	}
	if err := rule.Validate(); err != nil {
		return nil, nil, err
	}

	computer, err := GetNextDueComputer(kind)
	if err != nil {
		return nil, nil, err
	}
	rule.NextDueDate = computer.FirstDue(now, recurrenceDay)

	created, first, err := s.repo.CreateRuleWithOccurrence(ctx, rule)
	if err != nil {
		return nil, nil, fmt.Errorf("create rule: %w", err)
	}

	slog.InfoContext(ctx, "Created recurring rule",
		"user_id", userID,
		"rule_id", created.ID,
		"name", created.Name,
		"kind", string(created.Kind),
		"next_due", created.NextDueDate.Format("2006-01-02"))

	return created, first, nil
}

// DeactivateRule stops a rule from generating future occurrences. Pending
// occurrences stay actionable.
func (s *ScheduleService) DeactivateRule(ctx context.Context, userID, ruleID int64) error {
	if err := s.repo.DeactivateRule(ctx, userID, ruleID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Deactivated recurring rule", "user_id", userID, "rule_id", ruleID)
	return nil
}

func (s *ScheduleService) ListRules(ctx context.Context, userID int64, activeOnly bool) ([]core.RecurringRule, error) {
	return s.repo.ListRules(ctx, userID, activeOnly)
}

func (s *ScheduleService) PendingOccurrences(ctx context.Context, userID int64) ([]core.Occurrence, error) {
	return s.repo.ListPendingOccurrences(ctx, userID)
}

// MarkPaid marks an occurrence paid today. When generateNext is true and the
// owning rule is still active, the next occurrence is created one recurrence
// unit after this occurrence's due date (not after today) and the rule's next
// due date advances with it; both writes share the mark-paid transaction.
func (s *ScheduleService) MarkPaid(ctx context.Context, userID, occurrenceID int64, generateNext bool, now time.Time) (*core.Occurrence, *core.Occurrence, error) {
	occ, err := s.repo.GetOccurrence(ctx, userID, occurrenceID)
	if err != nil {
		return nil, nil, err
	}

	var next *storage.NextOccurrence
	if generateNext {
		rule, err := s.repo.GetRule(ctx, userID, occ.RuleID)
		if err != nil {
			return nil, nil, fmt.Errorf("load owning rule: %w", err)
		}
		if rule.Active {
			computer, err := GetNextDueComputer(rule.Kind)
			if err != nil {
				return nil, nil, err
			}
			next = &storage.NextOccurrence{
				RuleID:      rule.ID,
				DueDate:     computer.Advance(occ.DueDate, rule.RecurrenceDay),
				AmountCents: rule.Amount.Cents,
			}
		}
	}

	paid, created, err := s.repo.MarkOccurrencePaid(ctx, userID, occurrenceID, now, next)
	if err != nil {
		return nil, nil, err
	}

	attrs := []any{"user_id", userID, "occurrence_id", occurrenceID}
	if created != nil {
		attrs = append(attrs, "next_occurrence_id", created.ID,
			"next_due", created.DueDate.Format("2006-01-02"))
	}
	slog.InfoContext(ctx, "Marked occurrence paid", attrs...)

	return paid, created, nil
}

// UndoPaid reverts the most recent mark-paid of an occurrence: the status
// returns to pending and the occurrence generated by that mark-paid, if any,
// is deleted. Only a currently-paid occurrence can be undone, so each payment
// supports exactly one undo step.
func (s *ScheduleService) UndoPaid(ctx context.Context, userID, occurrenceID int64) (*core.Occurrence, *int64, error) {
	reverted, deletedID, err := s.repo.UndoOccurrencePaid(ctx, userID, occurrenceID)
	if err != nil {
		return nil, nil, err
	}

	attrs := []any{"user_id", userID, "occurrence_id", occurrenceID}
	if deletedID != nil {
		attrs = append(attrs, "deleted_occurrence_id", *deletedID)
	}
	slog.InfoContext(ctx, "Undid occurrence payment", attrs...)

	return reverted, deletedID, nil
}
