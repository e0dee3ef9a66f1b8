package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository provides ledger and balance-projection storage. The ledger is
// append-only; corrections are offsetting entries, never updates.
type Repository interface {
	// Append inserts one ledger row and applies its signed delta to the
	// cached balance in the same storage transaction. Returns the full
	// updated balance map for the user. Duplicate payment ids and missing
	// users surface as ErrDuplicatePayment / ErrUserNotFound.
	Append(ctx context.Context, t *Transaction) (Balances, error)

	// Balances reads the cached projection. No recomputation.
	Balances(ctx context.Context, userID uuid.UUID) (Balances, error)

	// Recalculate replays the user's full log in created_at order and
	// overwrites the cached projection with the result.
	Recalculate(ctx context.Context, userID uuid.UUID) (Balances, error)

	// ListByUser returns the user's transactions, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, error)

	// HasPayment reports whether any transaction carries this payment id.
	HasPayment(ctx context.Context, paymentID string) (bool, error)

	// CountExpiring counts credit entries whose expiration date is at or
	// before the cutoff.
	CountExpiring(ctx context.Context, cutoff time.Time) (int, error)

	// ListExpiring pages through credit entries eligible for expiry,
	// oldest first. The result set is stable across a sweep because
	// offsetting entries are of type "expired", not "credit".
	ListExpiring(ctx context.Context, cutoff time.Time, limit, offset int) ([]Transaction, error)
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, t *Transaction) (Balances, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx2, `
		INSERT INTO credit_transactions (
			id, user_id, transaction_type, credit_type, amount,
			payment_id, expiration_date, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		t.ID, t.UserID, t.TransactionType, t.CreditType, t.Amount,
		t.PaymentID, t.ExpirationDate, metadataArg(t.MetadataRaw), t.CreatedAt,
	)
	if err != nil {
		return nil, mapInsertError(err)
	}

	// The projection update is an atomic increment keyed by
	// (user, credit type): two concurrent appends for the same user both
	// land, with no read-modify-write of the whole balance map.
	delta := t.TransactionType.Delta(t.Amount)
	_, err = tx.ExecContext(ctx2, `
		INSERT INTO credit_balances (user_id, credit_type, balance, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, credit_type)
		DO UPDATE SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = now()
	`, t.UserID, t.CreditType, delta)
	if err != nil {
		return nil, fmt.Errorf("%w: update balance projection", ErrInternal)
	}

	balances, err := selectBalances(ctx2, tx, t.UserID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return balances, nil
}

func (r *PostgresRepository) Balances(ctx context.Context, userID uuid.UUID) (Balances, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	return selectBalances(ctx2, r.db, userID)
}

func (r *PostgresRepository) Recalculate(ctx context.Context, userID uuid.UUID) (Balances, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	// The snapshot is read inside the write transaction so an append
	// committing mid-recalculate cannot vanish from the projection.
	var transactions []Transaction
	err = tx.SelectContext(ctx2, &transactions, `
		SELECT * FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: load transactions", ErrInternal)
	}

	balances := Replay(transactions)

	if _, err := tx.ExecContext(ctx2, `DELETE FROM credit_balances WHERE user_id = $1`, userID); err != nil {
		return nil, fmt.Errorf("%w: clear balance projection", ErrInternal)
	}

	for creditType, balance := range balances {
		_, err := tx.ExecContext(ctx2, `
			INSERT INTO credit_balances (user_id, credit_type, balance, updated_at)
			VALUES ($1, $2, $3, now())
		`, userID, creditType, balance)
		if err != nil {
			return nil, fmt.Errorf("%w: write balance projection", ErrInternal)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	return balances, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT * FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions", ErrInternal)
	}

	return transactions, nil
}

func (r *PostgresRepository) HasPayment(ctx context.Context, paymentID string) (bool, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := r.db.GetContext(ctx2, &exists, `
		SELECT EXISTS (SELECT 1 FROM credit_transactions WHERE payment_id = $1)
	`, paymentID)
	if err != nil {
		return false, fmt.Errorf("%w: check payment id", ErrInternal)
	}

	return exists, nil
}

func (r *PostgresRepository) CountExpiring(ctx context.Context, cutoff time.Time) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	err := r.db.GetContext(ctx2, &count, `
		SELECT COUNT(*) FROM credit_transactions
		WHERE transaction_type = 'credit'
		  AND expiration_date IS NOT NULL
		  AND expiration_date <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: count expiring", ErrInternal)
	}

	return count, nil
}

func (r *PostgresRepository) ListExpiring(ctx context.Context, cutoff time.Time, limit, offset int) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT * FROM credit_transactions
		WHERE transaction_type = 'credit'
		  AND expiration_date IS NOT NULL
		  AND expiration_date <= $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, cutoff, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list expiring", ErrInternal)
	}

	return transactions, nil
}

// Replay folds transactions into balances with the signed-delta rule.
// Shared by the repositories so incremental and recomputed values cannot
// diverge in how they interpret a row.
func Replay(transactions []Transaction) Balances {
	balances := make(Balances)
	for i := range transactions {
		t := &transactions[i]
		balances[t.CreditType] += t.TransactionType.Delta(t.Amount)
	}
	return balances
}

type queryer interface {
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

func selectBalances(ctx context.Context, q queryer, userID uuid.UUID) (Balances, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT credit_type, balance FROM credit_balances WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: read balances", ErrInternal)
	}
	defer rows.Close()

	balances := make(Balances)
	for rows.Next() {
		var creditType string
		var balance int
		if err := rows.Scan(&creditType, &balance); err != nil {
			return nil, fmt.Errorf("%w: scan balance", ErrInternal)
		}
		balances[creditType] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate balances", ErrInternal)
	}

	return balances, nil
}

// mapInsertError translates constraint violations into sentinel errors. The
// unique index on payment_id is the idempotency guard: relying on it, rather
// than a check-then-insert, is what makes concurrent duplicate deliveries
// safe.
func mapInsertError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pqErr.Constraint, "payment_id") {
				return ErrDuplicatePayment
			}
		case "23503": // foreign_key_violation
			return ErrUserNotFound
		}
	}
	return fmt.Errorf("%w: insert transaction: %v", ErrInternal, err)
}

func metadataArg(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
