package storage

import (
	"context"
	"fmt"
	"time"

	"tally/internal/core"
)

// DashboardSummary aggregates balances, pending dues, and upcoming
// occurrences for one user. Occurrences due on or before the horizon date are
// included in Upcoming.
func (r *SQLiteRepository) DashboardSummary(ctx context.Context, userID int64, horizon time.Time) (*core.DashboardSummary, error) {
	summary := &core.DashboardSummary{}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN balance_cents > 0 THEN balance_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN balance_cents < 0 THEN -balance_cents ELSE 0 END), 0)
		FROM counterparties
		WHERE user_id = ?`, userID).Scan(&summary.OwedByUser.Cents, &summary.OwedToUser.Cents)
	if err != nil {
		return nil, fmt.Errorf("dashboard balances: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM dues
		WHERE user_id = ? AND status = 'pending'`, userID).Scan(&summary.PendingDueCount)
	if err != nil {
		return nil, fmt.Errorf("dashboard pending dues: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM occurrences
		WHERE user_id = ? AND status = 'overdue'`, userID).Scan(&summary.OverdueCount)
	if err != nil {
		return nil, fmt.Errorf("dashboard overdue count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, balance_cents
		FROM counterparties
		WHERE user_id = ? AND balance_cents != 0
		ORDER BY ABS(balance_cents) DESC, name_key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("dashboard counterparties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cb core.CounterpartyBalance
		if err := rows.Scan(&cb.CounterpartyID, &cb.Name, &cb.Balance.Cents); err != nil {
			return nil, fmt.Errorf("scan dashboard counterparty: %w", err)
		}
		summary.Counterparties = append(summary.Counterparties, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	occRows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, user_id, due_date, paid_date, amount_cents, status
		FROM occurrences
		WHERE user_id = ? AND status IN ('pending', 'overdue') AND due_date <= ?
		ORDER BY due_date ASC, id ASC`, userID, fmtDate(horizon))
	if err != nil {
		return nil, fmt.Errorf("dashboard upcoming occurrences: %w", err)
	}
	defer occRows.Close()
	for occRows.Next() {
		occ, err := scanOccurrence(occRows)
		if err != nil {
			return nil, err
		}
		summary.Upcoming = append(summary.Upcoming, *occ)
	}
	return summary, occRows.Err()
}
