package payment

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/pkg/response"
	"github.com/launchbase/launchbase-api/internal/pkg/validator"
)

// Handler handles provider webhook HTTP requests
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes returns the webhook router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Webhook)
	return r
}

// Webhook handles POST /webhooks/{provider}
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := validator.ValidateVar(provider, "provider"); err != nil {
		response.NotFound(w, "unknown provider")
		return
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if details := validator.Validate(req); details != nil {
		response.ValidationFailed(w, details)
		return
	}

	event := req.Event(provider)
	if err := h.svc.Process(r.Context(), event); err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			response.BadRequest(w, err.Error())
			return
		}
		// Non-2xx makes the provider redeliver, which is what we want for
		// transient failures.
		log.Error().
			Err(err).
			Str("provider", provider).
			Str("payment_id", event.PaymentID).
			Msg("Webhook processing failed")
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]string{"status": "processed"})
}
