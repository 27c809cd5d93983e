package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiary/apiary/internal/auth"
	"github.com/apiary/apiary/internal/config"
)

const testEndpointsDocument = `{
	"endpoints": [
		{"path": "/hello", "service": "hello", "tags": ["demo"], "summary": "Say hello"},
		{"path": "/greet/{name}", "service": "hello",
		 "parameters": {"name": {"source": "path"}}},
		{"path": "/fixed", "service": "hello",
		 "parameters": {"name": "Team"}},
		{"path": "/protected", "service": "hello", "requires_auth": true},
		{"path": "/scoped", "service": "hello", "requires_auth": true,
		 "api_keys": "scoped-key-0001"},
		{"path": "/disabled", "service": "hello", "enabled": false},
		{"path": "/ghost", "service": "no-such-service"}
	]
}`

// newTestServer builds a fully initialized server over a temp endpoints
// file and returns it together with an httptest frontend.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	endpointsFile := filepath.Join(t.TempDir(), "endpoints.json")
	require.NoError(t, os.WriteFile(endpointsFile, []byte(testEndpointsDocument), 0600))

	cfg := config.NewDefault()
	cfg.Auth.ApiKeys = "global-key-0001"
	cfg.Endpoints.File = endpointsFile
	cfg.RateLimit.PerMinute = 10000
	cfg.RateLimit.AuthenticatedPerMinute = 10000

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	log.SetOutput(io.Discard)

	s := New(log, cfg, nil)
	require.NoError(t, s.initialize())
	t.Cleanup(s.keys.Shutdown)

	router, err := s.Router()
	require.NoError(t, err)

	frontend := httptest.NewServer(router)
	t.Cleanup(frontend.Close)
	return s, frontend
}

func get(t *testing.T, url string, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestHealthEndpoints(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, body := get(t, frontend.URL+"/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotEmpty(t, body["version"])

	resp, body = get(t, frontend.URL+"/health/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, body = get(t, frontend.URL+"/health/ready", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
	deps, ok := body["dependencies"].(map[string]any)
	require.True(t, ok)
	services, ok := deps["services"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), services["count"], "hello and crypto are built in")
}

func TestPipelineHeadersOnEveryResponse(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, _ := get(t, frontend.URL+"/health", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.NotEmpty(t, resp.Header.Get("X-Process-Time"))
	assert.Equal(t, "10000", resp.Header.Get("X-RateLimit-Limit"))

	// Dynamic endpoints encode straight to the writer without an explicit
	// WriteHeader; the processing-time header must still appear.
	resp, _ = get(t, frontend.URL+"/hello", nil)
	header := resp.Header.Get("X-Process-Time")
	require.NotEmpty(t, header)
	assert.Regexp(t, `^\d+\.\d{4}$`, header)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestCORSHeaders(t *testing.T) {
	_, frontend := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, frontend.URL+"/hello", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Process-Time")
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "X-Request-Id")
}

func TestCORSPreflight(t *testing.T) {
	_, frontend := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, frontend.URL+"/hello", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.MethodGet, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestDynamicEndpointDispatch(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, body := get(t, frontend.URL+"/hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, World!", body["message"])
	assert.Equal(t, "hello", body["service"])

	// Flat query bag when no parameter map is declared.
	resp, body = get(t, frontend.URL+"/hello?name=Apiary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, Apiary!", body["message"])

	// Path parameter extraction.
	resp, body = get(t, frontend.URL+"/greet/Maya", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, Maya!", body["message"])

	// Literal constants pass through verbatim and query values for
	// undeclared names are ignored.
	resp, body = get(t, frontend.URL+"/fixed?name=Ignored", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, Team!", body["message"])
}

func TestDisabledAndUnknownServiceEndpointsDoNotServe(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, err := http.Get(frontend.URL + "/disabled")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A declaration naming an unregistered service is skipped without
	// taking down its neighbors.
	resp, err = http.Get(frontend.URL + "/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProtectedEndpointRequiresKey(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, body := get(t, frontend.URL+"/protected", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ERR_AUTH", errObj["error_code"])
	assert.NotEmpty(t, errObj["request_id"])

	resp, body = get(t, frontend.URL+"/protected", map[string]string{auth.APIKeyHeader: "global-key-0001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, World!", body["message"])
}

func TestEndpointKeyOverrideIsExclusive(t *testing.T) {
	_, frontend := newTestServer(t)

	// The endpoint-specific source replaces the global one.
	resp, _ := get(t, frontend.URL+"/scoped", map[string]string{auth.APIKeyHeader: "global-key-0001"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := get(t, frontend.URL+"/scoped", map[string]string{auth.APIKeyHeader: "scoped-key-0001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, World!", body["message"])
}

func TestAuthStatusAndValidate(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, _ := get(t, frontend.URL+"/auth/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := get(t, frontend.URL+"/auth/status", map[string]string{auth.APIKeyHeader: "global-key-0001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])

	resp, body = get(t, frontend.URL+"/auth/validate", map[string]string{auth.APIKeyHeader: "wrong-key"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "validate never rejects")
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, "No API key provided or invalid key", body["message"])

	resp, body = get(t, frontend.URL+"/auth/validate", map[string]string{auth.APIKeyHeader: "global-key-0001"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "Valid API key", body["message"])
}

func TestEndpointsCatalog(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, body := get(t, frontend.URL+"/endpoints", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, float64(7), body["total"], "catalog lists every declaration, disabled included")
	services, ok := body["services"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"crypto", "hello"}, services)

	endpoints, ok := body["endpoints"].([]any)
	require.True(t, ok)
	first, ok := endpoints[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/hello", first["path"])
	assert.Equal(t, "GET", first["method"])
	assert.Equal(t, true, first["enabled"])
	assert.Equal(t, []any{"demo"}, first["tags"])
}

func TestMetricsReportCountsTraffic(t *testing.T) {
	_, frontend := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp, _ := get(t, frontend.URL+"/hello", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := get(t, frontend.URL+"/protected", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := get(t, frontend.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4), body["total_requests"])
	assert.Equal(t, float64(1), body["total_errors"])

	endpoints, ok := body["endpoints"].(map[string]any)
	require.True(t, ok)
	hello, ok := endpoints["GET /hello"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), hello["count"])
}

func TestPrometheusExposition(t *testing.T) {
	_, frontend := newTestServer(t)

	resp, _ := get(t, frontend.URL+"/hello", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	promResp, err := http.Get(frontend.URL + "/metrics/prometheus")
	require.NoError(t, err)
	defer promResp.Body.Close()
	raw, err := io.ReadAll(promResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "apiary_http_requests_total")
}

func TestInitializeFailsOnMissingKeyFile(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Auth.ApiKeys = filepath.Join(t.TempDir(), "missing.keys")
	cfg.Endpoints.File = ""

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := New(log, cfg, nil)
	err := s.initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating global API keys")
}

func TestInitializeFailsOnDuplicateEndpoints(t *testing.T) {
	endpointsFile := filepath.Join(t.TempDir(), "endpoints.json")
	doc := `{"endpoints": [
		{"path": "/dup", "service": "hello"},
		{"path": "/dup", "service": "hello"}
	]}`
	require.NoError(t, os.WriteFile(endpointsFile, []byte(doc), 0600))

	cfg := config.NewDefault()
	cfg.Endpoints.File = endpointsFile

	log := logrus.New()
	log.SetOutput(io.Discard)

	s := New(log, cfg, nil)
	err := s.initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
