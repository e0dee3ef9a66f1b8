package coupon

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/middleware"
	"github.com/launchbase/launchbase-api/internal/pkg/response"
	"github.com/launchbase/launchbase-api/internal/pkg/validator"
)

// Handler handles coupon HTTP requests
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns the user-facing coupon router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/redeem", h.Redeem)
	return r
}

// AdminRoutes returns the admin coupon router
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/expire-batch", h.ExpireBatch)
	return r
}

// Redeem handles POST /app/coupons/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.ValidationFailed(w, details)
		return
	}

	userID := middleware.GetUserID(r.Context())

	result, err := h.svc.Redeem(r.Context(), userID, req.Code)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			response.BadRequest(w, "invalid coupon code")
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Coupon redemption failed")
		response.InternalError(w)
		return
	}

	response.OK(w, RedeemResponse{
		Code:        result.Coupon.Code,
		PlanName:    result.Plan.Name,
		CouponCount: result.CouponCount,
	})
}

// Create handles POST /admin/coupons
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.ValidationFailed(w, details)
		return
	}

	c, err := h.svc.Create(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, ErrDuplicateCode) {
			response.Error(w, http.StatusConflict, "CONFLICT", "coupon code already exists")
			return
		}
		log.Error().Err(err).Msg("Coupon creation failed")
		response.InternalError(w)
		return
	}

	response.Created(w, CreateResponse{ID: c.ID.String(), Code: c.Code})
}

// ExpireBatch handles POST /admin/coupons/expire-batch
func (h *Handler) ExpireBatch(w http.ResponseWriter, r *http.Request) {
	var req ExpireBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.ValidationFailed(w, details)
		return
	}

	report, err := h.svc.ExpireBatch(r.Context(), req.Codes)
	if err != nil {
		log.Error().Err(err).Msg("Coupon batch expiration failed")
		response.InternalError(w)
		return
	}

	response.OK(w, report)
}
