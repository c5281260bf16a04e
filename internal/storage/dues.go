package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tally/internal/core"
)

// RecordDueParams describes one monetary event together with its signed due.
// AmountCents carries the ledger sign: positive increases what the user owes
// the counterparty, negative increases what the counterparty owes the user.
type RecordDueParams struct {
	UserID         int64
	CounterpartyID int64
	AmountCents    int64
	Category       string
	Merchant       string
	Description    string
	Payer          string
	Date           time.Time
}

// RecordDue appends a monetary event, creates its pending due, and applies
// the equal-signed balance adjustment, all in one transaction.
func (r *SQLiteRepository) RecordDue(ctx context.Context, p RecordDueParams) (*core.MonetaryEvent, *core.Due, core.Money, error) {
	if p.AmountCents == 0 {
		return nil, nil, core.Money{}, core.ErrInvalidAmount
	}

	var (
		event      *core.MonetaryEvent
		due        *core.Due
		newBalance core.Money
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		abs := p.AmountCents
		if abs < 0 {
			abs = -abs
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO monetary_events (user_id, amount_cents, category, merchant, description, payer, event_date, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.UserID, abs, p.Category, p.Merchant, p.Description, p.Payer, fmtDate(p.Date), fmtTime(now))
		if err != nil {
			return txErr("insert monetary event", err)
		}
		eventID, err := res.LastInsertId()
		if err != nil {
			return txErr("monetary event id", err)
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO dues (user_id, counterparty_id, event_id, amount_cents, status, created_at)
			VALUES (?, ?, ?, ?, 'pending', ?)`,
			p.UserID, p.CounterpartyID, eventID, p.AmountCents, fmtTime(now))
		if err != nil {
			return txErr("insert due", err)
		}
		dueID, err := res.LastInsertId()
		if err != nil {
			return txErr("due id", err)
		}

		newBalance, err = adjustBalance(ctx, tx, p.UserID, p.CounterpartyID, p.AmountCents)
		if err != nil {
			return err
		}

		event = &core.MonetaryEvent{
			ID:          eventID,
			UserID:      p.UserID,
			Amount:      core.Money{Cents: abs},
			Category:    p.Category,
			Merchant:    p.Merchant,
			Description: p.Description,
			Payer:       p.Payer,
			Date:        core.DateOnly(p.Date),
			CreatedAt:   now,
		}
		due = &core.Due{
			ID:             dueID,
			UserID:         p.UserID,
			CounterpartyID: p.CounterpartyID,
			EventID:        &eventID,
			Amount:         core.Money{Cents: p.AmountCents},
			Status:         core.DuePending,
			CreatedAt:      now,
		}
		return nil
	})
	if err != nil {
		return nil, nil, core.Money{}, err
	}
	return event, due, newBalance, nil
}

// ListPendingDues returns pending dues oldest first, optionally filtered to
// one counterparty.
func (r *SQLiteRepository) ListPendingDues(ctx context.Context, userID int64, counterpartyID *int64) ([]core.Due, error) {
	query := `
		SELECT id, user_id, counterparty_id, event_id, amount_cents, status, created_at, settled_at
		FROM dues
		WHERE user_id = ? AND status = 'pending'`
	args := []any{userID}
	if counterpartyID != nil {
		query += ` AND counterparty_id = ?`
		args = append(args, *counterpartyID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending dues: %w", err)
	}
	defer rows.Close()

	var out []core.Due
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// SettleDue settles a single due, fully when partialCents is nil or covers
// the remaining amount, partially otherwise. The paired balance adjustment
// moves the balance toward zero by exactly the settled amount.
func (r *SQLiteRepository) SettleDue(ctx context.Context, userID, dueID int64, partialCents *int64) (int64, core.Money, error) {
	if partialCents != nil && *partialCents <= 0 {
		return 0, core.Money{}, core.ErrInvalidAmount
	}

	var (
		settled    int64
		newBalance core.Money
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		due, err := getDueForUpdate(ctx, tx, userID, dueID)
		if err != nil {
			return err
		}

		sign := int64(1)
		magnitude := due.Amount.Cents
		if magnitude < 0 {
			sign = -1
			magnitude = -magnitude
		}

		settled = magnitude
		if partialCents != nil && *partialCents < magnitude {
			settled = *partialCents
		}

		if err := reduceDue(ctx, tx, due, sign*(magnitude-settled)); err != nil {
			return err
		}

		newBalance, err = adjustBalance(ctx, tx, userID, due.CounterpartyID, -sign*settled)
		return err
	})
	if err != nil {
		return 0, core.Money{}, err
	}
	return settled, newBalance, nil
}

// SettlePendingDues settles the counterparty's pending dues whose sign
// matches sign, oldest first, until maxCents is exhausted. A nil maxCents
// settles everything outstanding in that direction. Returns the total amount
// settled and the new balance.
func (r *SQLiteRepository) SettlePendingDues(ctx context.Context, userID, counterpartyID int64, maxCents *int64, sign int64) (int64, core.Money, error) {
	if maxCents != nil && *maxCents <= 0 {
		return 0, core.Money{}, core.ErrInvalidAmount
	}
	if sign != 1 && sign != -1 {
		return 0, core.Money{}, fmt.Errorf("settle pending dues: sign must be +1 or -1, got %d", sign)
	}

	var (
		total      int64
		newBalance core.Money
	)
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		cmp := ">"
		if sign < 0 {
			cmp = "<"
		}
		rows, err := tx.QueryContext(ctx, `
			SELECT id, user_id, counterparty_id, event_id, amount_cents, status, created_at, settled_at
			FROM dues
			WHERE user_id = ? AND counterparty_id = ? AND status = 'pending' AND amount_cents `+cmp+` 0
			ORDER BY created_at ASC, id ASC`,
			userID, counterpartyID)
		if err != nil {
			return txErr("select pending dues", err)
		}
		dues := []core.Due{}
		for rows.Next() {
			d, err := scanDue(rows)
			if err != nil {
				rows.Close()
				return err
			}
			dues = append(dues, *d)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return txErr("select pending dues", err)
		}
		if len(dues) == 0 {
			return core.ErrNoPendingDues
		}

		remaining := int64(-1) // -1 means unbounded
		if maxCents != nil {
			remaining = *maxCents
		}

		for _, due := range dues {
			if remaining == 0 {
				break
			}
			magnitude := due.Amount.Cents * sign
			take := magnitude
			if remaining > 0 && remaining < magnitude {
				take = remaining
			}
			if err := reduceDue(ctx, tx, &due, sign*(magnitude-take)); err != nil {
				return err
			}
			total += take
			if remaining > 0 {
				remaining -= take
			}
		}

		newBalance, err = adjustBalance(ctx, tx, userID, counterpartyID, -sign*total)
		return err
	})
	if err != nil {
		return 0, core.Money{}, err
	}
	return total, newBalance, nil
}

// SumPendingDues recomputes the balance projection from the due set.
func (r *SQLiteRepository) SumPendingDues(ctx context.Context, userID, counterpartyID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM dues
		WHERE user_id = ? AND counterparty_id = ? AND status = 'pending'`,
		userID, counterpartyID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum pending dues: %w", err)
	}
	return sum, nil
}

// ReconcileBalance recomputes the pending-due sum inside a transaction and
// overwrites the cached balance when it has drifted. It returns the drift
// (cached minus derived), zero when the invariant already held.
func (r *SQLiteRepository) ReconcileBalance(ctx context.Context, userID, counterpartyID int64) (int64, error) {
	var drift int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var derived int64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(amount_cents), 0)
			FROM dues
			WHERE user_id = ? AND counterparty_id = ? AND status = 'pending'`,
			userID, counterpartyID).Scan(&derived)
		if err != nil {
			return txErr("sum pending dues", err)
		}

		var cached int64
		err = tx.QueryRowContext(ctx, `
			SELECT balance_cents FROM counterparties
			WHERE id = ? AND user_id = ?`, counterpartyID, userID).Scan(&cached)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrCounterpartyNotFound
		}
		if err != nil {
			return txErr("read balance", err)
		}

		drift = cached - derived
		if drift == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE counterparties SET balance_cents = ?
			WHERE id = ? AND user_id = ?`, derived, counterpartyID, userID)
		if err != nil {
			return txErr("correct balance", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return drift, nil
}

// CounterpartyRef identifies one counterparty for reconciliation sweeps.
type CounterpartyRef struct {
	CounterpartyID int64
	UserID         int64
}

// ListCounterpartyRefs returns every counterparty across all users, for the
// periodic reconciliation sweep.
func (r *SQLiteRepository) ListCounterpartyRefs(ctx context.Context) ([]CounterpartyRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id FROM counterparties ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list counterparty refs: %w", err)
	}
	defer rows.Close()

	var out []CounterpartyRef
	for rows.Next() {
		var ref CounterpartyRef
		if err := rows.Scan(&ref.CounterpartyID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("scan counterparty ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// getDueForUpdate loads a pending due inside a transaction. A settled due
// reports ErrNoPendingDues, a missing one ErrNotFound.
func getDueForUpdate(ctx context.Context, tx *sql.Tx, userID, dueID int64) (*core.Due, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, counterparty_id, event_id, amount_cents, status, created_at, settled_at
		FROM dues
		WHERE id = ? AND user_id = ?`, dueID, userID)
	due, err := scanDue(row)
	if err != nil {
		return nil, err
	}
	if due.Status != core.DuePending {
		return nil, core.ErrNoPendingDues
	}
	return due, nil
}

// reduceDue writes the due's new remaining amount, flipping it to settled
// when the remainder reaches zero.
func reduceDue(ctx context.Context, tx *sql.Tx, due *core.Due, newAmountCents int64) error {
	if newAmountCents == 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE dues SET amount_cents = 0, status = 'settled', settled_at = ?
			WHERE id = ?`, fmtTime(time.Now()), due.ID)
		if err != nil {
			return txErr("settle due", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE dues SET amount_cents = ? WHERE id = ?`, newAmountCents, due.ID)
	if err != nil {
		return txErr("reduce due", err)
	}
	return nil
}

func scanDue(row rowScanner) (*core.Due, error) {
	var (
		d         core.Due
		eventID   sql.NullInt64
		createdAt string
		settledAt sql.NullString
	)
	err := row.Scan(&d.ID, &d.UserID, &d.CounterpartyID, &eventID, &d.Amount.Cents, &d.Status, &createdAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan due: %w", err)
	}
	if eventID.Valid {
		id := eventID.Int64
		d.EventID = &id
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse due created_at: %w", err)
	}
	if settledAt.Valid {
		t, err := parseTime(settledAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse due settled_at: %w", err)
		}
		d.SettledAt = &t
	}
	return &d, nil
}
