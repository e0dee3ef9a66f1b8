package credit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/middleware"
	"github.com/launchbase/launchbase-api/internal/pkg/response"
	"github.com/launchbase/launchbase-api/internal/pkg/validator"
)

// Handler handles credit HTTP requests
type Handler struct {
	svc     *Service
	pricing PricingConfig
	sweeper *Sweeper
}

func NewHandler(svc *Service, pricing PricingConfig, sweeper *Sweeper) *Handler {
	return &Handler{svc: svc, pricing: pricing, sweeper: sweeper}
}

// Routes returns the user-facing credits router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/balance", h.GetBalance)
	r.Get("/history", h.GetHistory)
	r.Get("/price", h.GetPrice)
	r.Get("/can-deduct", h.CanDeduct)
	return r
}

// AdminRoutes returns the admin credits router
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/grant", h.Grant)
	r.Post("/deduct", h.Deduct)
	r.Post("/recalculate/{userID}", h.Recalculate)
	r.Get("/history/{userID}", h.GetUserHistory)
	return r
}

// CronRoutes returns the scheduler-facing router
func (h *Handler) CronRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/expire-credits", h.ExpireCredits)
	return r
}

// ExpireCredits handles POST /cron/expire-credits. Runs the expiration
// sweep synchronously and returns the report.
func (h *Handler) ExpireCredits(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Run(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Expiration sweep failed")
		response.InternalError(w)
		return
	}

	response.OK(w, report)
}

// GetBalance handles GET /app/credits/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	balances, err := h.svc.Balances(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to read balances")
		response.InternalError(w)
		return
	}

	response.OK(w, BalanceResponse{Credits: balances})
}

// GetHistory handles GET /app/credits/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.writeHistory(w, r, userID)
}

// GetUserHistory handles GET /admin/credits/history/{userID}
func (h *Handler) GetUserHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}
	h.writeHistory(w, r, userID)
}

func (h *Handler) writeHistory(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	p := paginationFromQuery(r)

	entries, err := h.svc.History(r.Context(), userID, p)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to list history")
		response.InternalError(w)
		return
	}

	response.OK(w, entries)
}

// GetPrice handles GET /app/credits/price
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	creditType := r.URL.Query().Get("credit_type")
	amount, err := strconv.Atoi(r.URL.Query().Get("amount"))
	if creditType == "" || err != nil {
		response.BadRequest(w, "credit_type and a numeric amount are required")
		return
	}

	price, err := h.pricing.Price(creditType, amount, "")
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownCreditType):
			response.NotFound(w, "unknown credit type")
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrAmountOutOfRange):
			response.BadRequest(w, err.Error())
		default:
			response.InternalError(w)
		}
		return
	}

	response.OK(w, PriceResponse{
		CreditType: creditType,
		Amount:     amount,
		Price:      price.StringFixed(2),
		Currency:   h.pricing[creditType].Currency,
	})
}

// CanDeduct handles GET /app/credits/can-deduct
func (h *Handler) CanDeduct(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	creditType := r.URL.Query().Get("credit_type")
	amount, err := strconv.Atoi(r.URL.Query().Get("amount"))
	if creditType == "" || err != nil {
		response.BadRequest(w, "credit_type and a numeric amount are required")
		return
	}

	ok, err := h.svc.CanDeduct(r.Context(), userID, creditType, amount)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			response.BadRequest(w, err.Error())
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to check deductibility")
		response.InternalError(w)
		return
	}

	response.OK(w, CanDeductResponse{CanDeduct: ok})
}

// Grant handles POST /admin/credits/grant
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.ValidationFailed(w, details)
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	adminID := middleware.GetUserID(r.Context())

	metadata := Metadata{
		"reason":   req.Reason,
		"admin_id": adminID.String(),
		"source":   "admin_grant",
	}
	if req.Reason == "" {
		metadata["reason"] = "Admin credit grant"
	}

	var expiration *time.Time
	if req.ExpiresInDays > 0 {
		exp := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
		expiration = &exp
	}

	// Admin grants without an explicit payment id get a generated one so
	// the row carries provenance. Retries are only deduplicated when the
	// caller supplies payment_id; a generated id is fresh per request.
	paymentID := req.PaymentID
	if paymentID == "" {
		paymentID = "admin_" + uuid.New().String()
	}

	balances, err := h.svc.AddCredits(r.Context(), userID, req.CreditType, req.Amount, paymentID, metadata, expiration)
	if err != nil {
		h.writeAppendError(w, r, err, userID)
		return
	}

	response.OK(w, BalanceResponse{Credits: balances})
}

// Deduct handles POST /admin/credits/deduct
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req DeductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.ValidationFailed(w, details)
		return
	}

	userID, _ := uuid.Parse(req.UserID)
	adminID := middleware.GetUserID(r.Context())

	metadata := Metadata{
		"reason":   req.Reason,
		"admin_id": adminID.String(),
		"source":   "admin_deduct",
	}
	if req.Reason == "" {
		metadata["reason"] = "Admin credit deduction"
	}

	balances, err := h.svc.DeductCredits(r.Context(), userID, req.CreditType, req.Amount, metadata)
	if err != nil {
		h.writeAppendError(w, r, err, userID)
		return
	}

	response.OK(w, BalanceResponse{Credits: balances})
}

// Recalculate handles POST /admin/credits/recalculate/{userID}
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	balances, err := h.svc.Recalculate(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to recalculate balances")
		response.InternalError(w)
		return
	}

	response.OK(w, BalanceResponse{Credits: balances})
}

func paginationFromQuery(r *http.Request) Pagination {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

func (h *Handler) writeAppendError(w http.ResponseWriter, r *http.Request, err error, userID uuid.UUID) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTransactionType):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrUserNotFound):
		response.NotFound(w, "user not found")
	case errors.Is(err, ErrDuplicatePayment):
		// Already applied: report the current state instead of failing.
		balances, berr := h.svc.Balances(r.Context(), userID)
		if berr != nil {
			log.Error().Err(berr).Str("user_id", userID.String()).Msg("Failed to read balances")
			response.InternalError(w)
			return
		}
		response.OK(w, BalanceResponse{Credits: balances})
	default:
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Ledger append failed")
		response.InternalError(w)
	}
}
