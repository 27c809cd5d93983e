package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5/middleware"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/auth"
	"github.com/apiary/apiary/internal/config"
	"github.com/apiary/apiary/internal/ratelimit"
)

// RateLimit resolves the caller's identifier and limit band, attaches the
// rate-limit headers to every response, and short-circuits with 429 plus
// retry metadata when the window is exhausted. Callers presenting an API
// key are tracked per key (the key's validity is irrelevant here; invalid
// keys are rejected later by the auth layer, and keying on the header
// keeps an attacker from sliding into the shared address bucket).
func RateLimit(limiter *ratelimit.Limiter, cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RateLimitEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get(auth.APIKeyHeader)
			authenticated := apiKey != ""

			identifier := clientAddr(r)
			if authenticated {
				identifier = fmt.Sprintf("api_key:%s", apiKey)
			}
			limit := cfg.RateLimitFor(authenticated)

			allowed, remaining, reset := limiter.Check(identifier, limit, ratelimit.DefaultWindow)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

			if !allowed {
				retryAfter := reset - time.Now().Unix()
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				apierrors.WriteAPIError(w, chi.GetReqID(r.Context()), apierrors.New(
					"Rate limit exceeded", http.StatusTooManyRequests,
					map[string]any{"limit": limit, "reset_time": reset}, ""))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
