// Package auth resolves, per request, which credential source applies and
// checks the supplied API key against it.
package auth

import (
	"net/http"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/auth/keystore"
)

// APIKeyHeader is the request header carrying the credential.
const APIKeyHeader = "X-API-Key"

// Principal is the outcome of a successful credential check. It is
// request-scoped: created per request and discarded afterwards.
type Principal struct {
	APIKey string
}

// Authenticator checks requests against a credential source. The zero
// override means the global source applies; an endpoint-specific override
// replaces the global source entirely rather than extending it.
type Authenticator struct {
	store        *keystore.Store
	globalSource string
	override     string
}

func New(store *keystore.Store, globalSource string) *Authenticator {
	return &Authenticator{store: store, globalSource: globalSource}
}

// WithOverride returns an endpoint-scoped authenticator that validates
// exclusively against the given source.
func (a *Authenticator) WithOverride(source string) *Authenticator {
	return &Authenticator{store: a.store, globalSource: a.globalSource, override: source}
}

func (a *Authenticator) source() string {
	if a.override != "" {
		return a.override
	}
	return a.globalSource
}

// Required validates the request's API key, failing with an
// authentication error on a missing or invalid key. The error never leaks
// which credentials would have been accepted.
func (a *Authenticator) Required(r *http.Request) (*Principal, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, apierrors.NewAuthentication("API key required", map[string]any{"header": APIKeyHeader})
	}
	if !a.store.Validate(key, a.source()) {
		return nil, apierrors.NewAuthentication("Invalid API key", map[string]any{"header": APIKeyHeader})
	}
	return &Principal{APIKey: key}, nil
}

// Optional validates the request's API key but never rejects: a missing
// or invalid key yields a nil principal. Status-probe endpoints use this
// to report validity without turning callers away.
func (a *Authenticator) Optional(r *http.Request) *Principal {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil
	}
	if !a.store.Validate(key, a.source()) {
		return nil
	}
	return &Principal{APIKey: key}
}
