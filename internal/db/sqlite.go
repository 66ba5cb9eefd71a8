package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"paygate-bot/internal/models"
)

// SQLiteDB is the single-node backend. Transactions are opened with
// BEGIN IMMEDIATE (_txlock) so writers are serialized by the database.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database file at path and applies migrations.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := MigrateSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &SQLiteDB{db: sqlDB}, nil
}

func (s *SQLiteDB) Close() {
	s.db.Close()
}

func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) UpsertAccount(ctx context.Context, userID int64, name, contact *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	var oldName, oldContact *string
	err = tx.QueryRowContext(ctx,
		`SELECT name, contact FROM users WHERE user_id = ?`, userID,
	).Scan(&oldName, &oldContact)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (user_id, name, contact) VALUES (?, ?, ?)`,
			userID, name, contact,
		)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
	case err != nil:
		return fmt.Errorf("select account: %w", err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET name = ?, contact = ? WHERE user_id = ?`,
			models.MergeField(oldName, name), models.MergeField(oldContact, contact), userID,
		)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteDB) IsPaid(ctx context.Context, userID int64) (bool, error) {
	var paid bool
	err := s.db.QueryRowContext(ctx, `SELECT is_paid FROM users WHERE user_id = ?`, userID).Scan(&paid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check paid flag: %w", err)
	}
	return paid, nil
}

func (s *SQLiteDB) GetToken(ctx context.Context, userID int64) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		SELECT token FROM users
		WHERE user_id = ? AND is_paid = 1 AND token IS NOT NULL
	`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

func (s *SQLiteDB) Revoke(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_paid = 0, token = NULL, token_used = 1
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke access: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const sqliteAccountColumns = `user_id, name, contact, payment_id, is_paid, token, token_used, created_at, paid_at`

func scanSQLiteAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.UserID, &a.Name, &a.Contact, &a.PaymentID,
		&a.IsPaid, &a.Token, &a.TokenUsed,
		&a.CreatedAt, &a.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteDB) GetAccessInfo(ctx context.Context, userID int64) (*models.Account, error) {
	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM users WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (s *SQLiteDB) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{Payments: make(map[string]int64)}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_paid THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN token_used THEN 1 ELSE 0 END), 0)
		FROM users
	`).Scan(&stats.TotalUsers, &stats.PaidUsers, &stats.AccessedUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan payment count: %w", err)
		}
		stats.Payments[status] = n
	}
	return stats, rows.Err()
}

func (s *SQLiteDB) RecordAttempt(ctx context.Context, userID int64, paymentID string, amount decimal.Decimal, currency string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record attempt: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (payment_id, user_vk_id, amount, currency, status)
		VALUES (?, ?, ?, ?, 'created')
		ON CONFLICT (payment_id) DO UPDATE
		SET amount = excluded.amount, currency = excluded.currency, status = excluded.status
		WHERE payments.status = 'created'
	`, paymentID, userID, amount.StringFixed(2), currency)
	if err != nil {
		return fmt.Errorf("failed to save payment record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (user_id, payment_id) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET payment_id = excluded.payment_id
	`, userID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to link payment to account: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteDB) LookupUser(ctx context.Context, paymentID string) (int64, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT user_vk_id FROM payments WHERE payment_id = ?`, paymentID,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up payment owner: %w", err)
	}
	return userID, nil
}

func (s *SQLiteDB) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT payment_id, user_vk_id, amount, currency, status, created_at
		FROM payments WHERE payment_id = ?
	`, paymentID).Scan(&p.PaymentID, &p.UserID, &p.Amount, &p.Currency, &status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func (s *SQLiteDB) SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot move payment to non-terminal status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ? WHERE payment_id = ? AND status = 'created'`,
		string(status), paymentID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteDB) MarkPaid(ctx context.Context, paymentID, token string, paidAt time.Time) (*models.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark paid: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT user_vk_id, status FROM payments WHERE payment_id = ?`, paymentID,
	).Scan(&userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payment: %w", err)
	}

	switch models.PaymentStatus(status) {
	case models.PaymentSucceeded:
		var paid bool
		var existing *string
		err := tx.QueryRowContext(ctx,
			`SELECT is_paid, token FROM users WHERE user_id = ?`, userID,
		).Scan(&paid, &existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read account: %w", err)
		}
		if !paid || existing == nil {
			return nil, ErrRevoked
		}
		return &models.Grant{UserID: userID, Token: *existing, Replayed: true}, nil
	case models.PaymentCanceled, models.PaymentFailed:
		return nil, ErrPaymentClosed
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payments SET status = 'succeeded' WHERE payment_id = ?`, paymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment succeeded: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (user_id, payment_id, is_paid, token, token_used, paid_at)
		VALUES (?, ?, 1, ?, 0, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET payment_id = excluded.payment_id,
		    is_paid = 1,
		    token = excluded.token,
		    token_used = 0,
		    paid_at = excluded.paid_at
	`, userID, paymentID, token, paidAt.UTC())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrTokenConflict
		}
		return nil, fmt.Errorf("failed to grant access: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark paid: %w", err)
	}
	return &models.Grant{UserID: userID, Token: token}, nil
}

func (s *SQLiteDB) ConsumeToken(ctx context.Context, token string) (*models.Account, bool, error) {
	// RETURNING columns carry no declared type, so only the id is read back.
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE users SET token_used = 1
		WHERE token = ? AND is_paid = 1 AND token_used = 0
		RETURNING user_id
	`, token).Scan(&userID)
	if err == nil {
		return &models.Account{UserID: userID, IsPaid: true, Token: &token, TokenUsed: true}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to consume token: %w", err)
	}

	a, err := scanSQLiteAccount(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM users WHERE token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up token: %w", err)
	}
	return a, false, nil
}

func (s *SQLiteDB) RenewToken(ctx context.Context, userID int64, token string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET token = ?, token_used = 0
		WHERE user_id = ? AND is_paid = 1
	`, token, userID)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return false, ErrTokenConflict
		}
		return false, fmt.Errorf("failed to renew token: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
