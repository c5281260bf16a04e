package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tally/internal/core"
)

// CreateRuleWithOccurrence inserts a recurring rule together with its first
// pending occurrence in one transaction. The rule's NextDueDate must already
// be computed by the caller.
func (r *SQLiteRepository) CreateRuleWithOccurrence(ctx context.Context, rule core.RecurringRule) (*core.RecurringRule, *core.Occurrence, error) {
	var (
		created *core.RecurringRule
		first   *core.Occurrence
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO recurring_rules (user_id, name, amount_cents, kind, recurrence_day, next_due_date, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
			rule.UserID, rule.Name, rule.Amount.Cents, string(rule.Kind), rule.RecurrenceDay,
			fmtDate(rule.NextDueDate), fmtTime(now))
		if err != nil {
			return txErr("insert recurring rule", err)
		}
		ruleID, err := res.LastInsertId()
		if err != nil {
			return txErr("recurring rule id", err)
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO occurrences (rule_id, user_id, due_date, amount_cents, status)
			VALUES (?, ?, ?, ?, 'pending')`,
			ruleID, rule.UserID, fmtDate(rule.NextDueDate), rule.Amount.Cents)
		if err != nil {
			return txErr("insert first occurrence", err)
		}
		occID, err := res.LastInsertId()
		if err != nil {
			return txErr("occurrence id", err)
		}

		out := rule
		out.ID = ruleID
		out.Active = true
		out.CreatedAt = now
		out.NextDueDate = core.DateOnly(rule.NextDueDate)
		created = &out
		first = &core.Occurrence{
			ID:      occID,
			RuleID:  ruleID,
			UserID:  rule.UserID,
			DueDate: out.NextDueDate,
			Amount:  rule.Amount,
			Status:  core.OccurrencePending,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return created, first, nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, userID, id int64) (*core.RecurringRule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, amount_cents, kind, recurrence_day, next_due_date, active, created_at
		FROM recurring_rules
		WHERE id = ? AND user_id = ?`, id, userID)
	return scanRule(row)
}

func (r *SQLiteRepository) ListRules(ctx context.Context, userID int64, activeOnly bool) ([]core.RecurringRule, error) {
	query := `
		SELECT id, user_id, name, amount_cents, kind, recurrence_day, next_due_date, active, created_at
		FROM recurring_rules
		WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY next_due_date ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

// DeactivateRule stops future occurrence generation. Historical and pending
// occurrences are untouched.
func (r *SQLiteRepository) DeactivateRule(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_rules SET active = 0
		WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) GetOccurrence(ctx context.Context, userID, id int64) (*core.Occurrence, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, rule_id, user_id, due_date, paid_date, amount_cents, status
		FROM occurrences
		WHERE id = ? AND user_id = ?`, id, userID)
	return scanOccurrence(row)
}

// ListPendingOccurrences returns pending and overdue occurrences ordered by
// due date. Overdue ones are included because they remain payable.
func (r *SQLiteRepository) ListPendingOccurrences(ctx context.Context, userID int64) ([]core.Occurrence, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, user_id, due_date, paid_date, amount_cents, status
		FROM occurrences
		WHERE user_id = ? AND status IN ('pending', 'overdue')
		ORDER BY due_date ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pending occurrences: %w", err)
	}
	defer rows.Close()

	var out []core.Occurrence
	for rows.Next() {
		occ, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *occ)
	}
	return out, rows.Err()
}

// NextOccurrence describes the follow-up occurrence created when a payment is
// marked with generate-next.
type NextOccurrence struct {
	RuleID      int64
	DueDate     time.Time
	AmountCents int64
}

// MarkOccurrencePaid flips an actionable occurrence to paid and, when next is
// non-nil, creates the follow-up occurrence and advances the rule's next due
// date, all in one transaction.
func (r *SQLiteRepository) MarkOccurrencePaid(ctx context.Context, userID, occID int64, paidDate time.Time, next *NextOccurrence) (*core.Occurrence, *core.Occurrence, error) {
	var (
		paid    *core.Occurrence
		created *core.Occurrence
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE occurrences SET status = 'paid', paid_date = ?
			WHERE id = ? AND user_id = ? AND status IN ('pending', 'overdue')`,
			fmtDate(paidDate), occID, userID)
		if err != nil {
			return txErr("mark occurrence paid", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return txErr("mark occurrence paid", err)
		}
		if affected == 0 {
			// Distinguish a missing occurrence from one in a non-payable state.
			row := tx.QueryRowContext(ctx, `
				SELECT id, rule_id, user_id, due_date, paid_date, amount_cents, status
				FROM occurrences WHERE id = ? AND user_id = ?`, occID, userID)
			if _, err := scanOccurrence(row); err != nil {
				return err
			}
			return core.ErrNotPending
		}

		if next != nil {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO occurrences (rule_id, user_id, due_date, amount_cents, status)
				VALUES (?, ?, ?, ?, 'pending')`,
				next.RuleID, userID, fmtDate(next.DueDate), next.AmountCents)
			if err != nil {
				return txErr("insert next occurrence", err)
			}
			nextID, err := res.LastInsertId()
			if err != nil {
				return txErr("next occurrence id", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE recurring_rules SET next_due_date = ?
				WHERE id = ? AND user_id = ?`,
				fmtDate(next.DueDate), next.RuleID, userID); err != nil {
				return txErr("advance rule next due date", err)
			}
			created = &core.Occurrence{
				ID:      nextID,
				RuleID:  next.RuleID,
				UserID:  userID,
				DueDate: core.DateOnly(next.DueDate),
				Amount:  core.Money{Cents: next.AmountCents},
				Status:  core.OccurrencePending,
			}
		}

		row := tx.QueryRowContext(ctx, `
			SELECT id, rule_id, user_id, due_date, paid_date, amount_cents, status
			FROM occurrences WHERE id = ? AND user_id = ?`, occID, userID)
		paid, err = scanOccurrence(row)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return paid, created, nil
}

// UndoOccurrencePaid reverts a paid occurrence to pending, deletes the one
// future pending occurrence the prior mark-paid may have generated, and rolls
// the rule's next due date back. Returns the reverted occurrence and the id
// of the deleted occurrence, if any.
func (r *SQLiteRepository) UndoOccurrencePaid(ctx context.Context, userID, occID int64) (*core.Occurrence, *int64, error) {
	var (
		reverted  *core.Occurrence
		deletedID *int64
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, rule_id, user_id, due_date, paid_date, amount_cents, status
			FROM occurrences WHERE id = ? AND user_id = ?`, occID, userID)
		occ, err := scanOccurrence(row)
		if err != nil {
			return err
		}
		if occ.Status != core.OccurrencePaid {
			return core.ErrNotPaid
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE occurrences SET status = 'pending', paid_date = NULL
			WHERE id = ?`, occID); err != nil {
			return txErr("revert occurrence", err)
		}

		// Reverse the side effect of a prior generate-next: drop the first
		// pending occurrence of the same rule strictly after this one.
		var futureID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM occurrences
			WHERE rule_id = ? AND user_id = ? AND status = 'pending' AND due_date > ? AND id != ?
			ORDER BY due_date ASC, id ASC
			LIMIT 1`,
			occ.RuleID, userID, fmtDate(occ.DueDate), occID).Scan(&futureID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Prior mark-paid did not generate one; nothing to undo.
		case err != nil:
			return txErr("find generated occurrence", err)
		default:
			if _, err := tx.ExecContext(ctx, `DELETE FROM occurrences WHERE id = ?`, futureID); err != nil {
				return txErr("delete generated occurrence", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE recurring_rules SET next_due_date = ?
				WHERE id = ? AND user_id = ?`,
				fmtDate(occ.DueDate), occ.RuleID, userID); err != nil {
				return txErr("roll back rule next due date", err)
			}
			deletedID = &futureID
		}

		out := *occ
		out.Status = core.OccurrencePending
		out.PaidDate = nil
		reverted = &out
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return reverted, deletedID, nil
}

// MarkOverdueOccurrences flips pending occurrences with a due date strictly
// before today to overdue, across all users. Overdue occurrences stay
// payable.
func (r *SQLiteRepository) MarkOverdueOccurrences(ctx context.Context, today time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE occurrences SET status = 'overdue'
		WHERE status = 'pending' AND due_date < ?`, fmtDate(today))
	if err != nil {
		return 0, fmt.Errorf("mark overdue occurrences: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark overdue occurrences: %w", err)
	}
	return affected, nil
}

func scanRule(row rowScanner) (*core.RecurringRule, error) {
	var (
		rule      core.RecurringRule
		kind      string
		nextDue   string
		active    int64
		createdAt string
	)
	err := row.Scan(&rule.ID, &rule.UserID, &rule.Name, &rule.Amount.Cents, &kind,
		&rule.RecurrenceDay, &nextDue, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	rule.Kind = core.RecurrenceKind(kind)
	rule.Active = active != 0
	if rule.NextDueDate, err = parseDate(nextDue); err != nil {
		return nil, fmt.Errorf("parse rule next_due_date: %w", err)
	}
	if rule.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse rule created_at: %w", err)
	}
	return &rule, nil
}

func scanOccurrence(row rowScanner) (*core.Occurrence, error) {
	var (
		occ      core.Occurrence
		dueDate  string
		paidDate sql.NullString
	)
	err := row.Scan(&occ.ID, &occ.RuleID, &occ.UserID, &dueDate, &paidDate, &occ.Amount.Cents, &occ.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan occurrence: %w", err)
	}
	if occ.DueDate, err = parseDate(dueDate); err != nil {
		return nil, fmt.Errorf("parse occurrence due_date: %w", err)
	}
	if paidDate.Valid {
		t, err := parseDate(paidDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse occurrence paid_date: %w", err)
		}
		occ.PaidDate = &t
	}
	return &occ, nil
}
