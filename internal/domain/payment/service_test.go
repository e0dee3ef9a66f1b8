package payment

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/domain/plan"
	"github.com/launchbase/launchbase-api/internal/domain/user"
)

type fixture struct {
	svc        *Service
	users      *user.MemoryRepository
	plans      *plan.MemoryRepository
	credits    *credit.Service
	creditRepo *credit.MemoryRepository
	userID     uuid.UUID
	proPlan    *plan.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		users:      user.NewMemoryRepository(),
		plans:      plan.NewMemoryRepository(),
		creditRepo: credit.NewMemoryRepository(),
	}
	f.credits = credit.NewService(f.creditRepo, nil)

	f.userID = uuid.New()
	f.users.Put(&user.User{ID: f.userID, Email: "buyer@example.com"})
	f.creditRepo.AddUser(f.userID)

	f.proPlan = &plan.Plan{
		ID:        uuid.New(),
		Name:      "Pro",
		Codename:  sql.NullString{String: "pro", Valid: true},
		CreatedAt: time.Now(),
	}
	f.plans.PutPlan(f.proPlan)
	f.plans.PutGrant(plan.CreditGrant{PlanCodename: "pro", CreditType: "image_generation", Amount: 500})

	allocator := plan.NewAllocator(f.plans, f.credits, nil, true)
	f.svc = NewService(f.credits, f.users, allocator)
	return f
}

func TestProcessCreditPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := Event{
		Provider:   "stripe",
		Kind:       KindCreditPurchase,
		UserID:     f.userID,
		PaymentID:  "pi_123",
		CreditType: "image_generation",
		Amount:     200,
	}
	if err := f.svc.Process(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balances, _ := f.credits.Balances(ctx, f.userID)
	if balances["image_generation"] != 200 {
		t.Fatalf("expected balance 200, got %d", balances["image_generation"])
	}
}

func TestProcessCreditPurchaseRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := Event{
		Provider:   "paypal",
		Kind:       KindCreditPurchase,
		UserID:     f.userID,
		PaymentID:  "cap_42",
		CreditType: "image_generation",
		Amount:     100,
	}
	if err := f.svc.Process(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Process(ctx, event); err != nil {
		t.Fatalf("redelivery must be treated as success, got %v", err)
	}

	if f.creditRepo.TransactionCount() != 1 {
		t.Fatalf("expected 1 transaction, got %d", f.creditRepo.TransactionCount())
	}
	balances, _ := f.credits.Balances(ctx, f.userID)
	if balances["image_generation"] != 100 {
		t.Fatalf("expected balance 100, got %d", balances["image_generation"])
	}
}

func TestProcessPlanChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := Event{
		Provider:  "stripe",
		Kind:      KindPlanChange,
		UserID:    f.userID,
		PaymentID: "inv_9",
		PlanID:    f.proPlan.ID,
	}
	if err := f.svc.Process(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := f.users.GetByID(ctx, f.userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !u.PlanID.Valid || u.PlanID.UUID != f.proPlan.ID {
		t.Fatalf("expected plan pointer %s, got %+v", f.proPlan.ID, u.PlanID)
	}

	balances, _ := f.credits.Balances(ctx, f.userID)
	if balances["image_generation"] != 500 {
		t.Fatalf("expected plan grant 500, got %d", balances["image_generation"])
	}
}

func TestProcessPlanChangeRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := Event{
		Provider:  "lemonsqueezy",
		Kind:      KindPlanChange,
		UserID:    f.userID,
		PaymentID: "inv_9",
		PlanID:    f.proPlan.ID,
	}
	if err := f.svc.Process(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.svc.Process(ctx, event); err != nil {
		t.Fatalf("redelivery must be treated as success, got %v", err)
	}

	if f.creditRepo.TransactionCount() != 1 {
		t.Fatalf("expected 1 transaction, got %d", f.creditRepo.TransactionCount())
	}
}

func TestProcessUnknownUser(t *testing.T) {
	f := newFixture(t)

	event := Event{
		Provider:   "stripe",
		Kind:       KindCreditPurchase,
		UserID:     uuid.New(),
		PaymentID:  "pi_1",
		CreditType: "image_generation",
		Amount:     10,
	}
	if err := f.svc.Process(context.Background(), event); !errors.Is(err, credit.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestProcessValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []Event{
		{Provider: "stripe", Kind: EventKind("refund"), UserID: f.userID, PaymentID: "p"},
		{Provider: "stripe", Kind: KindCreditPurchase, PaymentID: "p", CreditType: "image_generation", Amount: 1},
		{Provider: "stripe", Kind: KindCreditPurchase, UserID: f.userID, CreditType: "image_generation", Amount: 1},
		{Provider: "stripe", Kind: KindCreditPurchase, UserID: f.userID, PaymentID: "p", Amount: 1},
		{Provider: "stripe", Kind: KindCreditPurchase, UserID: f.userID, PaymentID: "p", CreditType: "image_generation"},
		{Provider: "stripe", Kind: KindPlanChange, UserID: f.userID, PaymentID: "p"},
	}
	for i, event := range cases {
		if err := f.svc.Process(ctx, event); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("case %d: expected ErrInvalidEvent, got %v", i, err)
		}
	}
	if f.creditRepo.TransactionCount() != 0 {
		t.Fatalf("invalid events must not write rows, got %d", f.creditRepo.TransactionCount())
	}
}
