package credit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestSweeper(t *testing.T, cfg SweeperConfig) (*Sweeper, *Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	return NewSweeper(svc, repo, cfg), svc, repo
}

func TestSweepExpiresEligibleCredits(t *testing.T) {
	sweeper, svc, repo := newTestSweeper(t, SweeperConfig{})
	ctx := context.Background()

	userID := newUser(repo)
	cutoff := time.Now().UTC()
	past := cutoff.Add(-24 * time.Hour)
	future := cutoff.Add(24 * time.Hour)

	if _, err := svc.AddCredits(ctx, userID, "image_generation", 100, "pay_1", nil, &past); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.AddCredits(ctx, userID, "image_generation", 40, "pay_2", nil, &future); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.AddCredits(ctx, userID, "video_generation", 10, "pay_3", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := sweeper.RunAt(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Found != 1 || report.Processed != 1 || report.Skipped != 0 || report.Errors != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	balances, _ := svc.Balances(ctx, userID)
	if balances["image_generation"] != 40 {
		t.Fatalf("expected only the unexpired grant to remain, got %d", balances["image_generation"])
	}
	if balances["video_generation"] != 10 {
		t.Fatalf("never-expiring credits must be untouched, got %d", balances["video_generation"])
	}
}

func TestSweepRerunIsNoOp(t *testing.T) {
	sweeper, svc, repo := newTestSweeper(t, SweeperConfig{})
	ctx := context.Background()

	userID := newUser(repo)
	cutoff := time.Now().UTC()
	past := cutoff.Add(-time.Hour)

	if _, err := svc.AddCredits(ctx, userID, "image_generation", 100, "pay_1", nil, &past); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := sweeper.RunAt(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", first)
	}

	rows := repo.TransactionCount()
	second, err := sweeper.RunAt(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Processed != 0 || second.Skipped != 1 {
		t.Fatalf("rerun must skip already-offset entries, got %+v", second)
	}
	if repo.TransactionCount() != rows {
		t.Fatalf("rerun must not write rows: %d vs %d", repo.TransactionCount(), rows)
	}

	balances, _ := svc.Balances(ctx, userID)
	if balances["image_generation"] != 0 {
		t.Fatalf("expected balance 0 after expiry, got %d", balances["image_generation"])
	}
}

func TestSweepMultipleBatches(t *testing.T) {
	sweeper, svc, repo := newTestSweeper(t, SweeperConfig{BatchSize: 2, Concurrency: 2})
	ctx := context.Background()

	cutoff := time.Now().UTC()
	past := cutoff.Add(-time.Hour)

	const grants = 7
	for i := 0; i < grants; i++ {
		userID := newUser(repo)
		if _, err := svc.AddCredits(ctx, userID, "image_generation", 10, "", nil, &past); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	report, err := sweeper.RunAt(ctx, cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Found != grants || report.Processed != grants {
		t.Fatalf("expected all %d grants processed, got %+v", grants, report)
	}
}

func TestSweepOffsetEntriesCarryProvenance(t *testing.T) {
	sweeper, svc, repo := newTestSweeper(t, SweeperConfig{})
	ctx := context.Background()

	userID := newUser(repo)
	cutoff := time.Now().UTC()
	past := cutoff.Add(-time.Hour)

	if _, err := svc.AddCredits(ctx, userID, "image_generation", 25, "pay_1", nil, &past); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sweeper.RunAt(ctx, cutoff); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := svc.History(ctx, userID, Pagination{Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var offset *HistoryEntry
	for i := range entries {
		if entries[i].TransactionType == TransactionTypeExpired {
			offset = &entries[i]
		}
	}
	if offset == nil {
		t.Fatal("expected an offsetting expired entry")
	}
	if offset.Amount != 25 {
		t.Fatalf("offset must mirror the original amount, got %d", offset.Amount)
	}
	if !strings.HasPrefix(offset.PaymentID, ExpiredPaymentPrefix) {
		t.Fatalf("expected derived payment id, got %q", offset.PaymentID)
	}
	if offset.Reason != "Credits expired" {
		t.Fatalf("unexpected reason: %q", offset.Reason)
	}
}

func TestSweepPartialFailureIsolation(t *testing.T) {
	repo := NewMemoryRepository()
	flaky := &failingAppendRepo{MemoryRepository: repo, failCreditType: "video_generation"}
	svc := NewService(flaky, nil)
	sweeper := NewSweeper(svc, flaky, SweeperConfig{Concurrency: 1})
	ctx := context.Background()

	userID := newUser(repo)
	cutoff := time.Now().UTC()
	past := cutoff.Add(-time.Hour)

	seed := NewService(repo, nil)
	if _, err := seed.AddCredits(ctx, userID, "image_generation", 10, "pay_1", nil, &past); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := seed.AddCredits(ctx, userID, "video_generation", 20, "pay_2", nil, &past); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := sweeper.RunAt(ctx, cutoff)
	if err != nil {
		t.Fatalf("a per-entry failure must not fail the run: %v", err)
	}
	if report.Processed != 1 || report.Errors != 1 {
		t.Fatalf("expected 1 processed and 1 error, got %+v", report)
	}

	balances, _ := seed.Balances(ctx, userID)
	if balances["image_generation"] != 0 {
		t.Fatalf("healthy entry must still be expired, got %d", balances["image_generation"])
	}
	if balances["video_generation"] != 20 {
		t.Fatalf("failed entry must keep its balance, got %d", balances["video_generation"])
	}
}

func TestSweepEmptyLedger(t *testing.T) {
	sweeper, _, _ := newTestSweeper(t, SweeperConfig{})

	report, err := sweeper.RunAt(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Found != 0 || report.Processed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestEndOfDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	in := time.Date(2026, time.March, 10, 8, 30, 0, 0, loc)
	out := endOfDay(in)

	if out.Hour() != 23 || out.Minute() != 59 || out.Second() != 59 {
		t.Fatalf("expected end of day, got %v", out)
	}
	if out.Location() != loc {
		t.Fatalf("cutoff must stay in the reference timezone, got %v", out.Location())
	}
	if out.Day() != 10 {
		t.Fatalf("cutoff must stay on the same day, got %v", out)
	}
}

func newUser(repo *MemoryRepository) uuid.UUID {
	id := uuid.New()
	repo.AddUser(id)
	return id
}

type failingAppendRepo struct {
	*MemoryRepository
	failCreditType string
}

func (r *failingAppendRepo) Append(ctx context.Context, t *Transaction) (Balances, error) {
	if t.CreditType == r.failCreditType {
		return nil, ErrInternal
	}
	return r.MemoryRepository.Append(ctx, t)
}
