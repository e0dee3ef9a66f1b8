package coupon

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/domain/plan"
	"github.com/launchbase/launchbase-api/internal/domain/user"
)

type serviceFixture struct {
	svc        *Service
	coupons    *MemoryRepository
	plans      *plan.MemoryRepository
	users      *user.MemoryRepository
	credits    *credit.Service
	creditRepo *credit.MemoryRepository

	defaultPlan *plan.Plan
	tier1       *plan.Plan
	tier2       *plan.Plan
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		coupons: NewMemoryRepository(),
		plans:   plan.NewMemoryRepository(),
		users:   user.NewMemoryRepository(),
	}

	f.creditRepo = credit.NewMemoryRepository()
	f.credits = credit.NewService(f.creditRepo, nil)

	now := time.Now()
	f.defaultPlan = &plan.Plan{ID: uuid.New(), Name: "Free", IsDefault: true, CreatedAt: now}
	f.tier1 = &plan.Plan{
		ID:                  uuid.New(),
		Name:                "LTD Tier 1",
		Codename:            sql.NullString{String: "ltd_tier1", Valid: true},
		RequiredCouponCount: 1,
		CreatedAt:           now,
	}
	f.tier2 = &plan.Plan{
		ID:                  uuid.New(),
		Name:                "LTD Tier 2",
		Codename:            sql.NullString{String: "ltd_tier2", Valid: true},
		RequiredCouponCount: 2,
		CreatedAt:           now,
	}
	f.plans.PutPlan(f.defaultPlan)
	f.plans.PutPlan(f.tier1)
	f.plans.PutPlan(f.tier2)
	f.plans.PutGrant(plan.CreditGrant{PlanCodename: "ltd_tier1", CreditType: "image_generation", Amount: 100})
	f.plans.PutGrant(plan.CreditGrant{PlanCodename: "ltd_tier2", CreditType: "image_generation", Amount: 300})

	allocator := plan.NewAllocator(f.plans, f.credits, nil, true)
	f.svc = NewService(f.coupons, f.plans, f.users, allocator)
	return f
}

func (f *serviceFixture) addUser(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.users.Put(&user.User{
		ID:               id,
		Email:            id.String() + "@example.com",
		StripeCustomerID: sql.NullString{String: "cus_123", Valid: true},
	})
	f.creditRepo.AddUser(id)
	return id
}

func (f *serviceFixture) addCoupon(t *testing.T, code string) {
	t.Helper()
	_, err := f.svc.Create(context.Background(), code)
	require.NoError(t, err)
}

func TestRedeemNormalizesCase(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.addUser(t)
	f.addCoupon(t, "LAUNCH50")
	ctx := context.Background()

	result, err := f.svc.Redeem(ctx, userID, "  launch50 ")
	require.NoError(t, err)
	require.Equal(t, "LAUNCH50", result.Coupon.Code)
	require.Equal(t, 1, result.CouponCount)
	require.Equal(t, "LTD Tier 1", result.Plan.Name)

	u, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	require.True(t, u.PlanID.Valid)
	require.Equal(t, f.tier1.ID, u.PlanID.UUID)
	require.False(t, u.StripeCustomerID.Valid, "billing identifiers must be cleared")

	balances, err := f.credits.Balances(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 100, balances["image_generation"])
}

func TestRedeemFailureShapesCollapse(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.addUser(t)
	bob := f.addUser(t)
	ctx := context.Background()

	// Unknown code.
	_, err := f.svc.Redeem(ctx, alice, "NOPE")
	require.ErrorIs(t, err, ErrInvalidCoupon)

	// Already used by someone else.
	f.addCoupon(t, "TAKEN")
	_, err = f.svc.Redeem(ctx, alice, "TAKEN")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, bob, "TAKEN")
	require.ErrorIs(t, err, ErrInvalidCoupon)

	// Expired.
	f.addCoupon(t, "GONE")
	require.NoError(t, f.coupons.ExpireByCodes(ctx, []string{"GONE"}))
	_, err = f.svc.Redeem(ctx, bob, "GONE")
	require.ErrorIs(t, err, ErrInvalidCoupon)

	// Blank.
	_, err = f.svc.Redeem(ctx, bob, "   ")
	require.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestSecondCouponUpgradesTier(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.addUser(t)
	f.addCoupon(t, "CODE1")
	f.addCoupon(t, "CODE2")
	ctx := context.Background()

	_, err := f.svc.Redeem(ctx, userID, "CODE1")
	require.NoError(t, err)

	result, err := f.svc.Redeem(ctx, userID, "CODE2")
	require.NoError(t, err)
	require.Equal(t, 2, result.CouponCount)
	require.Equal(t, f.tier2.ID, result.Plan.ID)

	// Tier 1 and tier 2 allocations are keyed separately, so the user
	// holds both grants.
	balances, err := f.credits.Balances(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 400, balances["image_generation"])
}

func TestReconcileFallsBackToDefault(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.addUser(t)
	ctx := context.Background()

	// Three coupons, no tier configured for count 3.
	for _, code := range []string{"A1", "A2", "A3"} {
		f.addCoupon(t, code)
		_, err := f.svc.Redeem(ctx, userID, code)
		require.NoError(t, err)
	}

	u, err := f.users.GetByID(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, f.defaultPlan.ID, u.PlanID.UUID)
}

func TestReconcileIsRepeatable(t *testing.T) {
	f := newServiceFixture(t)
	userID := f.addUser(t)
	f.addCoupon(t, "ONCE")
	ctx := context.Background()

	_, err := f.svc.Redeem(ctx, userID, "ONCE")
	require.NoError(t, err)
	rows := f.creditRepo.TransactionCount()

	p, count, err := f.svc.ReconcilePlan(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, f.tier1.ID, p.ID)
	require.Equal(t, rows, f.creditRepo.TransactionCount(), "same count must not re-grant")
}

func TestExpireBatch(t *testing.T) {
	f := newServiceFixture(t)
	alice := f.addUser(t)
	bob := f.addUser(t)
	ctx := context.Background()

	f.addCoupon(t, "EXP1")
	f.addCoupon(t, "EXP2")
	f.addCoupon(t, "KEEP")

	_, err := f.svc.Redeem(ctx, alice, "EXP1")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, bob, "EXP2")
	require.NoError(t, err)
	_, err = f.svc.Redeem(ctx, bob, "KEEP")
	require.NoError(t, err)

	report, err := f.svc.ExpireBatch(ctx, []string{"exp1", "EXP2", "MISSING"})
	require.NoError(t, err)
	require.Equal(t, 2, report.TotalExpired)
	require.Equal(t, 2, report.UsersDowngraded)
	require.Equal(t, []string{"MISSING"}, report.NotFound)
	require.Empty(t, report.Errors)

	// Alice has no redeemed coupons left and falls back to default.
	aliceUser, err := f.users.GetByID(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, f.defaultPlan.ID, aliceUser.PlanID.UUID)

	// Bob still holds KEEP and lands on tier 1.
	bobUser, err := f.users.GetByID(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, f.tier1.ID, bobUser.PlanID.UUID)
}

func TestExpireBatchUnusedCoupons(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.addCoupon(t, "UNUSED")

	report, err := f.svc.ExpireBatch(ctx, []string{"UNUSED"})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalExpired)
	require.Equal(t, 0, report.UsersDowngraded)
	require.Empty(t, report.NotFound)
}

func TestCreateStampsCreatedAt(t *testing.T) {
	f := newServiceFixture(t)

	before := time.Now().UTC()
	c, err := f.svc.Create(context.Background(), "stamped")
	require.NoError(t, err)

	require.False(t, c.CreatedAt.IsZero())
	require.False(t, c.CreatedAt.Before(before))
}

func TestCreateRejectsDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, "twice")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "TWICE")
	require.ErrorIs(t, err, ErrDuplicateCode)
}
