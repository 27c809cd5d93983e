package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/auth/keystore"
)

func newTestAuthenticator(t *testing.T, globalSource string) *Authenticator {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	store := keystore.NewStore(log)
	t.Cleanup(store.Shutdown)
	return New(store, globalSource)
}

func requestWithKey(key string) *http.Request {
	r := httptest.NewRequest("GET", "/protected", nil)
	if key != "" {
		r.Header.Set(APIKeyHeader, key)
	}
	return r
}

func TestRequired(t *testing.T) {
	a := newTestAuthenticator(t, "valid-key-0001,valid-key-0002")

	principal, err := a.Required(requestWithKey("valid-key-0001"))
	require.NoError(t, err)
	assert.Equal(t, "valid-key-0001", principal.APIKey)

	_, err = a.Required(requestWithKey(""))
	require.Error(t, err)
	apiErr := &apierrors.APIError{}
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "ERR_AUTH", apiErr.Code)

	_, err = a.Required(requestWithKey("wrong-key"))
	require.Error(t, err)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.NotContains(t, apiErr.Message, "valid-key", "error must not leak accepted credentials")
}

func TestOptional(t *testing.T) {
	a := newTestAuthenticator(t, "valid-key-0001")

	assert.Nil(t, a.Optional(requestWithKey("")))
	assert.Nil(t, a.Optional(requestWithKey("wrong-key")))

	principal := a.Optional(requestWithKey("valid-key-0001"))
	require.NotNil(t, principal)
	assert.Equal(t, "valid-key-0001", principal.APIKey)
}

func TestOverrideReplacesGlobalSource(t *testing.T) {
	a := newTestAuthenticator(t, "global-key-0001")
	scoped := a.WithOverride("endpoint-key-0001")

	_, err := scoped.Required(requestWithKey("endpoint-key-0001"))
	assert.NoError(t, err)

	// The override is exclusive: the global key no longer validates.
	_, err = scoped.Required(requestWithKey("global-key-0001"))
	assert.Error(t, err)

	// The original authenticator is untouched.
	_, err = a.Required(requestWithKey("global-key-0001"))
	assert.NoError(t, err)
}
