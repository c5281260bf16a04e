// Package storage persists the tally ledger in SQLite. All paired writes
// (due + balance, rule + first occurrence, mark-paid + next occurrence) run
// inside a single transaction so the cached balance never drifts from the
// pending due set.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tally/internal/core"

	_ "modernc.org/sqlite"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so query helpers can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// WAL keeps readers from blocking the single writer; the busy timeout
	// makes concurrent writers queue instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// withTx runs fn inside a transaction. Domain errors returned by fn roll the
// transaction back and pass through unchanged; infrastructure failures are
// wrapped as core.ErrStorageTransaction.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", core.ErrStorageTransaction, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w: rollback after %v: %v", core.ErrStorageTransaction, err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", core.ErrStorageTransaction, err)
	}
	return nil
}

// txErr wraps an infrastructure error from inside a transaction.
func txErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", core.ErrStorageTransaction, op, err)
}

func fmtDate(t time.Time) string {
	return core.DateOnly(t).Format(dateLayout)
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// GetOrCreateCounterparty looks up a counterparty by case-insensitive name and
// creates it when missing. The second return value reports whether a new
// record was created.
func (r *SQLiteRepository) GetOrCreateCounterparty(ctx context.Context, userID int64, name string) (*core.Counterparty, bool, error) {
	key := core.NormalizeName(name)
	if key == "" {
		return nil, false, core.ErrEmptyName
	}

	var cp *core.Counterparty
	created := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getCounterpartyByKey(ctx, tx, userID, key)
		if err == nil {
			cp = existing
			return nil
		}
		if !errors.Is(err, core.ErrCounterpartyNotFound) {
			return err
		}

		now := fmtTime(time.Now())
		res, err := tx.ExecContext(ctx, `
			INSERT INTO counterparties (user_id, name, name_key, balance_cents, created_at)
			VALUES (?, ?, ?, 0, ?)`,
			userID, name, key, now)
		if err != nil {
			return txErr("insert counterparty", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return txErr("counterparty id", err)
		}
		cp, err = getCounterparty(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return cp, created, nil
}

func (r *SQLiteRepository) GetCounterparty(ctx context.Context, userID, id int64) (*core.Counterparty, error) {
	return getCounterparty(ctx, r.db, userID, id)
}

func (r *SQLiteRepository) GetCounterpartyByName(ctx context.Context, userID int64, name string) (*core.Counterparty, error) {
	return getCounterpartyByKey(ctx, r.db, userID, core.NormalizeName(name))
}

func (r *SQLiteRepository) ListCounterparties(ctx context.Context, userID int64) ([]core.Counterparty, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, email, phone, balance_cents, created_at
		FROM counterparties
		WHERE user_id = ?
		ORDER BY name_key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list counterparties: %w", err)
	}
	defer rows.Close()

	var out []core.Counterparty
	for rows.Next() {
		cp, err := scanCounterparty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

// UpdateCounterpartyContact sets optional contact metadata. Balances and dues
// are untouched.
func (r *SQLiteRepository) UpdateCounterpartyContact(ctx context.Context, userID, id int64, email, phone string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE counterparties SET email = ?, phone = ?
		WHERE id = ? AND user_id = ?`, email, phone, id, userID)
	if err != nil {
		return fmt.Errorf("update counterparty contact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update counterparty contact: %w", err)
	}
	if affected == 0 {
		return core.ErrCounterpartyNotFound
	}
	return nil
}

// AdjustBalance atomically adds delta to the counterparty's running balance
// and returns the new balance. The increment happens in a single UPDATE so
// concurrent adjustments never lose an update.
func (r *SQLiteRepository) AdjustBalance(ctx context.Context, userID, counterpartyID, deltaCents int64) (core.Money, error) {
	return adjustBalance(ctx, r.db, userID, counterpartyID, deltaCents)
}

// GetBalance reads the current running balance.
func (r *SQLiteRepository) GetBalance(ctx context.Context, userID, counterpartyID int64) (core.Money, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT balance_cents FROM counterparties
		WHERE id = ? AND user_id = ?`, counterpartyID, userID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, core.ErrCounterpartyNotFound
	}
	if err != nil {
		return core.Money{}, fmt.Errorf("get balance: %w", err)
	}
	return core.Money{Cents: cents}, nil
}

func adjustBalance(ctx context.Context, q dbtx, userID, counterpartyID, deltaCents int64) (core.Money, error) {
	var cents int64
	err := q.QueryRowContext(ctx, `
		UPDATE counterparties
		SET balance_cents = balance_cents + ?
		WHERE id = ? AND user_id = ?
		RETURNING balance_cents`,
		deltaCents, counterpartyID, userID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Money{}, core.ErrCounterpartyNotFound
	}
	if err != nil {
		return core.Money{}, txErr("adjust balance", err)
	}
	return core.Money{Cents: cents}, nil
}

func getCounterparty(ctx context.Context, q dbtx, userID, id int64) (*core.Counterparty, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, phone, balance_cents, created_at
		FROM counterparties
		WHERE id = ? AND user_id = ?`, id, userID)
	return scanCounterparty(row)
}

func getCounterpartyByKey(ctx context.Context, q dbtx, userID int64, key string) (*core.Counterparty, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, user_id, name, email, phone, balance_cents, created_at
		FROM counterparties
		WHERE user_id = ? AND name_key = ?`, userID, key)
	return scanCounterparty(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCounterparty(row rowScanner) (*core.Counterparty, error) {
	var cp core.Counterparty
	var createdAt string
	err := row.Scan(&cp.ID, &cp.UserID, &cp.Name, &cp.Email, &cp.Phone, &cp.Balance.Cents, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCounterpartyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan counterparty: %w", err)
	}
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse counterparty created_at: %w", err)
	}
	return &cp, nil
}
