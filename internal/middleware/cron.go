package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/launchbase/launchbase-api/internal/pkg/response"
)

// CronAuth protects scheduler-triggered endpoints with a shared secret header.
// The scheduler (external cron) sends X-Cron-Secret; an empty configured
// secret disables the endpoints entirely.
func CronAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				response.NotFound(w, "Not found")
				return
			}

			provided := r.Header.Get("X-Cron-Secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				response.Unauthorized(w, "Invalid cron secret")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
