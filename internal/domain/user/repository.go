package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository defines user data access interface
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// SetPlan moves the user's plan pointer. A nil planID clears it.
	SetPlan(ctx context.Context, id uuid.UUID, planID *uuid.UUID) error
	// SetPlanAndClearBilling moves the plan pointer and wipes every
	// provider subscription/customer identifier. Used when a user lands on
	// an LTD plan, which is mutually exclusive with recurring billing.
	SetPlanAndClearBilling(ctx context.Context, id uuid.UUID, planID *uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new user repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u User
	err := r.db.GetContext(ctx2, &u, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: get user: %v", ErrInternal, err)
	}

	return &u, nil
}

func (r *repository) SetPlan(ctx context.Context, id uuid.UUID, planID *uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE users SET plan_id = $2, updated_at = now() WHERE id = $1
	`, id, planID)
	if err != nil {
		return fmt.Errorf("%w: set plan: %v", ErrInternal, err)
	}

	return checkAffected(result)
}

func (r *repository) SetPlanAndClearBilling(ctx context.Context, id uuid.UUID, planID *uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx2, `
		UPDATE users
		SET plan_id = $2,
		    stripe_customer_id = NULL,
		    stripe_subscription_id = NULL,
		    paypal_subscription_id = NULL,
		    dodo_subscription_id = NULL,
		    lemonsqueezy_customer_id = NULL,
		    lemonsqueezy_subscription_id = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, planID)
	if err != nil {
		return fmt.Errorf("%w: set plan and clear billing: %v", ErrInternal, err)
	}

	return checkAffected(result)
}

func checkAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrInternal, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
