package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiary/apiary/internal/auth"
	"github.com/apiary/apiary/internal/config"
	"github.com/apiary/apiary/internal/ratelimit"
)

func rateLimitedChain(cfg *config.Config) http.Handler {
	return RateLimit(ratelimit.New(), cfg)(okHandler())
}

func TestRateLimitHeadersOnAllowedRequest(t *testing.T) {
	cfg := config.NewDefault()
	cfg.RateLimit.PerMinute = 5
	handler := rateLimitedChain(cfg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitDeniesWhenExhausted(t *testing.T) {
	cfg := config.NewDefault()
	cfg.RateLimit.PerMinute = 2
	handler := rateLimitedChain(cfg)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	errObj := decodeErrorEnvelope(t, rec.Body.String())
	assert.Equal(t, "Rate limit exceeded", errObj["message"])
	details, ok := errObj["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), details["limit"])
}

func TestRateLimitAuthenticatedBandIsSeparate(t *testing.T) {
	cfg := config.NewDefault()
	cfg.RateLimit.PerMinute = 1
	cfg.RateLimit.AuthenticatedPerMinute = 3
	handler := rateLimitedChain(cfg)

	// Exhaust the unauthenticated band.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A keyed caller from the same address gets its own, larger band.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(auth.APIKeyHeader, "some-key-0001")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := config.NewDefault()
	cfg.RateLimit.Enabled = false
	handler := rateLimitedChain(cfg)

	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
