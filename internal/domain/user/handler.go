package user

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/domain/plan"
	"github.com/launchbase/launchbase-api/internal/middleware"
	"github.com/launchbase/launchbase-api/internal/pkg/response"
)

// MeResponse is the authenticated user's read model: account, current plan
// and credit balances in one round trip.
type MeResponse struct {
	ID       string          `json:"id"`
	Email    string          `json:"email"`
	PlanID   string          `json:"plan_id,omitempty"`
	PlanName string          `json:"plan_name,omitempty"`
	Credits  credit.Balances `json:"credits"`
}

// ProvisionResponse reports the sign-up grants applied to the user.
type ProvisionResponse struct {
	Grants []plan.GrantResult `json:"grants"`
}

// Handler handles user HTTP requests
type Handler struct {
	users     Repository
	plans     plan.Repository
	credits   *credit.Service
	allocator *plan.Allocator
}

func NewHandler(users Repository, plans plan.Repository, credits *credit.Service, allocator *plan.Allocator) *Handler {
	return &Handler{users: users, plans: plans, credits: credits, allocator: allocator}
}

// Routes returns the user-facing router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/me", h.Me)
	r.Post("/provision", h.Provision)
	return r
}

// Me handles GET /app/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	u, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "user not found")
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to load user")
		response.InternalError(w)
		return
	}

	balances, err := h.credits.Balances(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to read balances")
		response.InternalError(w)
		return
	}

	resp := MeResponse{
		ID:      u.ID.String(),
		Email:   u.Email,
		Credits: balances,
	}
	if u.PlanID.Valid {
		resp.PlanID = u.PlanID.UUID.String()
		p, err := h.plans.GetByID(r.Context(), u.PlanID.UUID)
		if err == nil {
			resp.PlanName = p.Name
		} else if !errors.Is(err, plan.ErrPlanNotFound) {
			log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to load plan")
			response.InternalError(w)
			return
		}
	}

	response.OK(w, resp)
}

// Provision handles POST /app/provision. Applies the configured sign-up
// grants; safe to call more than once.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	if _, err := h.users.GetByID(r.Context(), userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(w, "user not found")
			return
		}
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to load user")
		response.InternalError(w)
		return
	}

	results := h.allocator.AllocateRegistrationCredits(r.Context(), userID)
	if results == nil {
		results = []plan.GrantResult{}
	}

	response.OK(w, ProvisionResponse{Grants: results})
}
