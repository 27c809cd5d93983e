// Package middleware holds the gateway's request pipeline stages. Order is
// a contract: the server installs them outermost-first as CORS (from
// go-chi/cors), SecurityHeaders, RequestValidation, Metrics, RateLimit,
// RequestID, Logging, Recoverer, so later stages can rely on state the
// earlier ones set.
package middleware

import (
	"context"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/pkg/reqid"
)

// MaxRequestSize is the request body ceiling enforced before any body
// processing happens.
const MaxRequestSize = 10 * 1024 * 1024

// SecurityHeaders unconditionally stamps defensive response headers. It
// never short-circuits.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "SAMEORIGIN")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// RequestID reuses an inbound correlation ID if present, else mints a new
// one, attaching it to the request context and the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(chi.RequestIDHeader)
		if requestID == "" {
			requestID = reqid.NextRequestID()
		}
		ctx := context.WithValue(r.Context(), chi.RequestIDKey, requestID)
		w.Header().Set(chi.RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var allowedContentTypes = []string{
	"application/json",
	"application/x-www-form-urlencoded",
	"multipart/form-data",
}

// RequestValidation rejects oversized requests before any body processing
// and warns (without rejecting) on unexpected content types for mutating
// methods carrying a body.
func RequestValidation(maxSize int64, log logrus.FieldLogger) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = MaxRequestSize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxSize {
				apierrors.WriteAPIError(w, chi.GetReqID(r.Context()), apierrors.New(
					"Request entity too large", http.StatusRequestEntityTooLarge,
					map[string]any{"max_size": maxSize, "requested_size": r.ContentLength}, ""))
				return
			}

			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				contentType := r.Header.Get("Content-Type")
				if r.ContentLength > 0 && contentType != "" && !hasAllowedContentType(contentType) {
					log.Warnf("Unexpected content-type: %s for %s %s", contentType, r.Method, r.URL.Path)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasAllowedContentType(contentType string) bool {
	for _, allowed := range allowedContentTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}
	return false
}
