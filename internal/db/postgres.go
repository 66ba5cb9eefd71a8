package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"paygate-bot/config"
	"paygate-bot/internal/models"
)

const pgUniqueViolation = "23505"

type PostgresDB struct {
	pool *pgxpool.Pool
}

// ConnString builds the libpq-style DSN for cfg.
func ConnString(cfg config.DB) string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)
}

func NewPostgresDB(cfg config.DB) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) UpsertAccount(ctx context.Context, userID int64, name, contact *string) error {
	// A concurrent first insert can win the race between the SELECT and our
	// INSERT; the second pass then sees the row and merges into it.
	for attempt := 0; attempt < 2; attempt++ {
		done, err := db.upsertAccountOnce(ctx, userID, name, contact)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return fmt.Errorf("upsert account %d: concurrent insert did not settle", userID)
}

func (db *PostgresDB) upsertAccountOnce(ctx context.Context, userID int64, name, contact *string) (bool, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldName, oldContact *string
	err = tx.QueryRow(ctx,
		`SELECT name, contact FROM users WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&oldName, &oldContact)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		tag, err := tx.Exec(ctx, `
            INSERT INTO users (user_id, name, contact)
            VALUES ($1, $2, $3)
            ON CONFLICT (user_id) DO NOTHING
        `, userID, name, contact)
		if err != nil {
			return false, fmt.Errorf("insert account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil
		}
	case err != nil:
		return false, fmt.Errorf("select account: %w", err)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE users SET name = $2, contact = $3 WHERE user_id = $1`,
			userID, models.MergeField(oldName, name), models.MergeField(oldContact, contact),
		)
		if err != nil {
			return false, fmt.Errorf("update account: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return true, nil
}

func (db *PostgresDB) IsPaid(ctx context.Context, userID int64) (bool, error) {
	var paid bool
	err := db.pool.QueryRow(ctx, `SELECT is_paid FROM users WHERE user_id = $1`, userID).Scan(&paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check paid flag: %w", err)
	}
	return paid, nil
}

func (db *PostgresDB) GetToken(ctx context.Context, userID int64) (string, error) {
	var token string
	err := db.pool.QueryRow(ctx, `
        SELECT token FROM users
        WHERE user_id = $1 AND is_paid = TRUE AND token IS NOT NULL
    `, userID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

func (db *PostgresDB) Revoke(ctx context.Context, userID int64) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
        UPDATE users
        SET is_paid = FALSE, token = NULL, token_used = TRUE
        WHERE user_id = $1
    `, userID)
	if err != nil {
		return false, fmt.Errorf("failed to revoke access: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const pgAccountColumns = `user_id, name, contact, payment_id, is_paid, token, token_used, created_at, paid_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
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

func (db *PostgresDB) GetAccessInfo(ctx context.Context, userID int64) (*models.Account, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`SELECT `+pgAccountColumns+` FROM users WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func (db *PostgresDB) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{Payments: make(map[string]int64)}
	err := db.pool.QueryRow(ctx, `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE is_paid),
               COUNT(*) FILTER (WHERE token_used)
        FROM users
    `).Scan(&stats.TotalUsers, &stats.PaidUsers, &stats.AccessedUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	rows, err := db.pool.Query(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
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

func (db *PostgresDB) RecordAttempt(ctx context.Context, userID int64, paymentID string, amount decimal.Decimal, currency string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record attempt: %w", err)
	}
	defer tx.Rollback(ctx)

	// Terminal rows are left alone so a repeated call never moves a payment
	// back to created.
	_, err = tx.Exec(ctx, `
        INSERT INTO payments (payment_id, user_vk_id, amount, currency, status)
        VALUES ($1, $2, $3::numeric, $4, $5)
        ON CONFLICT (payment_id) DO UPDATE
        SET amount = EXCLUDED.amount, currency = EXCLUDED.currency, status = EXCLUDED.status
        WHERE payments.status = $5
    `, paymentID, userID, amount.StringFixed(2), currency, string(models.PaymentCreated))
	if err != nil {
		return fmt.Errorf("failed to save payment record: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO users (user_id, payment_id) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET payment_id = EXCLUDED.payment_id
    `, userID, paymentID)
	if err != nil {
		return fmt.Errorf("failed to link payment to account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record attempt: %w", err)
	}
	return nil
}

func (db *PostgresDB) LookupUser(ctx context.Context, paymentID string) (int64, error) {
	var userID int64
	err := db.pool.QueryRow(ctx,
		`SELECT user_vk_id FROM payments WHERE payment_id = $1`, paymentID,
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up payment owner: %w", err)
	}
	return userID, nil
}

func (db *PostgresDB) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var p models.Payment
	var status string
	err := db.pool.QueryRow(ctx, `
        SELECT payment_id, user_vk_id, amount::text, currency, status, created_at
        FROM payments
        WHERE payment_id = $1
    `, paymentID).Scan(&p.PaymentID, &p.UserID, &p.Amount, &p.Currency, &status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.Status = models.PaymentStatus(status)
	return &p, nil
}

func (db *PostgresDB) SetPaymentStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("cannot move payment to non-terminal status %q", status)
	}
	tag, err := db.pool.Exec(ctx, `
        UPDATE payments SET status = $2
        WHERE payment_id = $1 AND status = $3
    `, paymentID, string(status), string(models.PaymentCreated))
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (db *PostgresDB) MarkPaid(ctx context.Context, paymentID, token string, paidAt time.Time) (*models.Grant, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mark paid: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	var status string
	err = tx.QueryRow(ctx, `
        SELECT user_vk_id, status FROM payments
        WHERE payment_id = $1
        FOR UPDATE
    `, paymentID).Scan(&userID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}

	switch models.PaymentStatus(status) {
	case models.PaymentSucceeded:
		var paid bool
		var existing *string
		err := tx.QueryRow(ctx,
			`SELECT is_paid, token FROM users WHERE user_id = $1`, userID,
		).Scan(&paid, &existing)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to read account: %w", err)
		}
		if !paid || existing == nil {
			return nil, ErrRevoked
		}
		return &models.Grant{UserID: userID, Token: *existing, Replayed: true}, nil
	case models.PaymentCanceled, models.PaymentFailed:
		return nil, ErrPaymentClosed
	}

	_, err = tx.Exec(ctx,
		`UPDATE payments SET status = $2 WHERE payment_id = $1`,
		paymentID, string(models.PaymentSucceeded),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark payment succeeded: %w", err)
	}

	_, err = tx.Exec(ctx, `
        INSERT INTO users (user_id, payment_id, is_paid, token, token_used, paid_at)
        VALUES ($1, $2, TRUE, $3, FALSE, $4)
        ON CONFLICT (user_id) DO UPDATE
        SET payment_id = EXCLUDED.payment_id,
            is_paid = TRUE,
            token = EXCLUDED.token,
            token_used = FALSE,
            paid_at = EXCLUDED.paid_at
    `, userID, paymentID, token, paidAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrTokenConflict
		}
		return nil, fmt.Errorf("failed to grant access: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mark paid: %w", err)
	}
	return &models.Grant{UserID: userID, Token: token}, nil
}

func (db *PostgresDB) ConsumeToken(ctx context.Context, token string) (*models.Account, bool, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx, `
        UPDATE users SET token_used = TRUE
        WHERE token = $1 AND is_paid = TRUE AND token_used = FALSE
        RETURNING `+pgAccountColumns, token))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to consume token: %w", err)
	}

	a, err = scanAccount(db.pool.QueryRow(ctx,
		`SELECT `+pgAccountColumns+` FROM users WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up token: %w", err)
	}
	return a, false, nil
}

func (db *PostgresDB) RenewToken(ctx context.Context, userID int64, token string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
        UPDATE users SET token = $2, token_used = FALSE
        WHERE user_id = $1 AND is_paid = TRUE
    `, userID, token)
	if err != nil {
		if isPgUniqueViolation(err) {
			return false, ErrTokenConflict
		}
		return false, fmt.Errorf("failed to renew token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
