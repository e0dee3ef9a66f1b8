package credit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/launchbase/launchbase-api/internal/middleware"
)

func newTestHandler(t *testing.T) (*Handler, *MemoryRepository, uuid.UUID) {
	t.Helper()
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	sweeper := NewSweeper(svc, repo, SweeperConfig{})
	userID := uuid.New()
	repo.AddUser(userID)
	return NewHandler(svc, DefaultPricing(), sweeper), repo, userID
}

func asUser(req *http.Request, userID uuid.UUID) *http.Request {
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, userID)
	return req.WithContext(ctx)
}

func TestGrantEndpoint(t *testing.T) {
	h, _, userID := newTestHandler(t)
	adminID := uuid.New()

	body, _ := json.Marshal(GrantRequest{
		UserID:     userID.String(),
		CreditType: "image_generation",
		Amount:     100,
		PaymentID:  "pay_admin_1",
		Reason:     "Support goodwill",
	})
	req := asUser(httptest.NewRequest(http.MethodPost, "/grant", bytes.NewReader(body)), adminID)
	rec := httptest.NewRecorder()

	h.Grant(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data BalanceResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if resp.Data.Credits["image_generation"] != 100 {
		t.Fatalf("expected balance 100, got %d", resp.Data.Credits["image_generation"])
	}
}

func TestGrantEndpointDuplicateReturnsCurrentBalances(t *testing.T) {
	h, repo, userID := newTestHandler(t)
	adminID := uuid.New()

	body, _ := json.Marshal(GrantRequest{
		UserID:     userID.String(),
		CreditType: "image_generation",
		Amount:     100,
		PaymentID:  "pay_admin_1",
	})

	for i := 0; i < 2; i++ {
		req := asUser(httptest.NewRequest(http.MethodPost, "/grant", bytes.NewReader(body)), adminID)
		rec := httptest.NewRecorder()
		h.Grant(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	if repo.TransactionCount() != 1 {
		t.Fatalf("expected 1 transaction, got %d", repo.TransactionCount())
	}
}

func TestGrantEndpointWithoutPaymentIDStacksOnRetry(t *testing.T) {
	h, repo, userID := newTestHandler(t)
	adminID := uuid.New()

	body, _ := json.Marshal(GrantRequest{
		UserID:     userID.String(),
		CreditType: "image_generation",
		Amount:     50,
	})

	for i := 0; i < 2; i++ {
		req := asUser(httptest.NewRequest(http.MethodPost, "/grant", bytes.NewReader(body)), adminID)
		rec := httptest.NewRecorder()
		h.Grant(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	// Each request gets a fresh generated payment id, so both apply.
	if repo.TransactionCount() != 2 {
		t.Fatalf("expected 2 transactions, got %d", repo.TransactionCount())
	}
}

func TestGrantEndpointUnknownUser(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body, _ := json.Marshal(GrantRequest{
		UserID:     uuid.New().String(),
		CreditType: "image_generation",
		Amount:     100,
	})
	req := asUser(httptest.NewRequest(http.MethodPost, "/grant", bytes.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()

	h.Grant(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGrantEndpointValidation(t *testing.T) {
	h, _, userID := newTestHandler(t)

	body, _ := json.Marshal(GrantRequest{
		UserID:     userID.String(),
		CreditType: "image_generation",
		Amount:     -5,
	})
	req := asUser(httptest.NewRequest(http.MethodPost, "/grant", bytes.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()

	h.Grant(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBalanceEndpoint(t *testing.T) {
	h, repo, userID := newTestHandler(t)

	svc := NewService(repo, nil)
	if _, err := svc.AddCredits(context.Background(), userID, "image_generation", 30, "pay_1", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/balance", nil), userID)
	rec := httptest.NewRecorder()

	h.GetBalance(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Data BalanceResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if resp.Data.Credits["image_generation"] != 30 {
		t.Fatalf("expected balance 30, got %d", resp.Data.Credits["image_generation"])
	}
}

func TestPriceEndpoint(t *testing.T) {
	h, _, userID := newTestHandler(t)

	req := asUser(httptest.NewRequest(http.MethodGet, "/price?credit_type=image_generation&amount=100", nil), userID)
	rec := httptest.NewRecorder()

	h.GetPrice(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data PriceResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if resp.Data.Price != "1.00" || resp.Data.Currency != "USD" {
		t.Fatalf("unexpected price response: %+v", resp.Data)
	}
}
