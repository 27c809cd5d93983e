package apiserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/samber/lo"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/config"
	"github.com/apiary/apiary/pkg/version"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

type healthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{
		Status:    "healthy",
		Timestamp: timestamp(),
		Version:   version.Get().String(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{
		Status:    "alive",
		Timestamp: timestamp(),
		Version:   version.Get().String(),
	})
}

type healthDetail struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Dependencies  map[string]any `json:"dependencies"`
}

// handleReadiness reports configuration validity and the registered
// services. External backends are deliberately not probed here, so the
// readiness gate never couples to a third-party outage.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	dependencies := map[string]any{}
	status := "ready"

	if _, err := s.keys.Load(s.cfg.GlobalAPIKeys(), "settings.apiKeys"); err != nil {
		dependencies["configuration"] = map[string]any{"status": "unhealthy", "error": err.Error()}
		status = "unready"
	} else {
		dependencies["configuration"] = map[string]any{"status": "healthy"}
	}

	registered := s.registry.List()
	dependencies["services"] = map[string]any{
		"status":     "healthy",
		"registered": registered,
		"count":      len(registered),
	}

	writeJSON(w, http.StatusOK, healthDetail{
		Status:        status,
		Timestamp:     timestamp(),
		Version:       version.Get().String(),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Dependencies:  dependencies,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

type authStatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
	Timestamp     string `json:"timestamp"`
}

// handleAuthStatus requires a valid credential; probing without one gets
// the standard 401 envelope.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticator.Required(r); err != nil {
		apierrors.WriteError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, authStatusResponse{
		Authenticated: true,
		Message:       "Authenticated",
		Timestamp:     timestamp(),
	})
}

// handleAuthValidate never rejects; it reports validity as a boolean so
// callers can probe a key without being turned away.
func (s *Server) handleAuthValidate(w http.ResponseWriter, r *http.Request) {
	principal := s.authenticator.Optional(r)
	resp := authStatusResponse{
		Authenticated: principal != nil,
		Message:       "Valid API key",
		Timestamp:     timestamp(),
	}
	if principal == nil {
		resp.Message = "No API key provided or invalid key"
	}
	writeJSON(w, http.StatusOK, resp)
}

type endpointInfo struct {
	Path         string   `json:"path"`
	Method       string   `json:"method"`
	Service      string   `json:"service"`
	Enabled      bool     `json:"enabled"`
	RequiresAuth bool     `json:"requires_auth"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags"`
	Summary      string   `json:"summary,omitempty"`
}

type endpointsResponse struct {
	Endpoints []endpointInfo `json:"endpoints"`
	Services  []string       `json:"services"`
	Total     int            `json:"total"`
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints := lo.Map(s.endpoints.Endpoints, func(d config.EndpointDeclaration, _ int) endpointInfo {
		tags := d.Tags
		if tags == nil {
			tags = []string{}
		}
		return endpointInfo{
			Path:         d.Path,
			Method:       d.NormalizedMethod(),
			Service:      d.Service,
			Enabled:      d.IsEnabled(),
			RequiresAuth: d.RequiresAuth,
			Description:  d.Description,
			Tags:         tags,
			Summary:      d.Summary,
		}
	})

	writeJSON(w, http.StatusOK, endpointsResponse{
		Endpoints: endpoints,
		Services:  s.registry.List(),
		Total:     len(endpoints),
	})
}
