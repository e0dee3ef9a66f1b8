package coupon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const queryTimeout = 3 * time.Second

// Repository provides coupon storage.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	// Redeem atomically claims the unused, non-expired coupon with this
	// code for the user. ErrInvalidCoupon when no such coupon exists,
	// including the race where another request claimed it first.
	Redeem(ctx context.Context, code string, userID uuid.UUID) (*Coupon, error)
	// CountRedeemed counts the user's redeemed, non-expired coupons.
	CountRedeemed(ctx context.Context, userID uuid.UUID) (int, error)
	// FindActiveByCodes returns the non-expired coupons among codes.
	FindActiveByCodes(ctx context.Context, codes []string) ([]Coupon, error)
	// ExpireByCodes marks the coupons with these codes expired.
	ExpireByCodes(ctx context.Context, codes []string) error
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *Coupon) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		INSERT INTO coupons (id, code, created_at) VALUES ($1, $2, $3)
	`, c.ID, c.Code, c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateCode
		}
		return fmt.Errorf("%w: create coupon: %v", ErrInternal, err)
	}

	return nil
}

func (r *PostgresRepository) Redeem(ctx context.Context, code string, userID uuid.UUID) (*Coupon, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// Claim and read back in one statement; the WHERE clause makes two
	// concurrent redemptions of the same code impossible.
	var c Coupon
	err := r.db.GetContext(ctx2, &c, `
		UPDATE coupons
		SET user_id = $2, used_at = now()
		WHERE code = $1 AND used_at IS NULL AND NOT expired
		RETURNING *
	`, code, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCoupon
		}
		return nil, fmt.Errorf("%w: redeem coupon: %v", ErrInternal, err)
	}

	return &c, nil
}

func (r *PostgresRepository) CountRedeemed(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var count int
	err := r.db.GetContext(ctx2, &count, `
		SELECT COUNT(*) FROM coupons
		WHERE user_id = $1 AND used_at IS NOT NULL AND NOT expired
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: count redeemed coupons: %v", ErrInternal, err)
	}

	return count, nil
}

func (r *PostgresRepository) FindActiveByCodes(ctx context.Context, codes []string) ([]Coupon, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	coupons := make([]Coupon, 0)
	err := r.db.SelectContext(ctx2, &coupons, `
		SELECT * FROM coupons WHERE code = ANY($1) AND NOT expired
	`, pq.Array(codes))
	if err != nil {
		return nil, fmt.Errorf("%w: find coupons: %v", ErrInternal, err)
	}

	return coupons, nil
}

func (r *PostgresRepository) ExpireByCodes(ctx context.Context, codes []string) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx2, `
		UPDATE coupons SET expired = TRUE WHERE code = ANY($1)
	`, pq.Array(codes))
	if err != nil {
		return fmt.Errorf("%w: expire coupons: %v", ErrInternal, err)
	}

	return nil
}
