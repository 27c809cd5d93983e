package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Configuration errors. These are raised while loading declarations or
// credential sources and must prevent the offending piece of configuration
// from ever serving.
var (
	ErrDuplicateEndpoint     = errors.New("duplicate enabled endpoint declaration")
	ErrInvalidEndpointPath   = errors.New("endpoint path must start with '/'")
	ErrInvalidEndpointMethod = errors.New("endpoint method is not supported")
	ErrEmptyKeySource        = errors.New("credential source is empty")
	ErrKeyFileMissing        = errors.New("credential source looks like a file path but the file does not exist")
	ErrKeySourceNotFile      = errors.New("credential source path exists but is not a regular file")
	ErrUnknownService        = errors.New("service is not registered")
	ErrStoreShutDown         = errors.New("credential store has been shut down")
)

// APIError is a client-facing error carrying the HTTP status and a stable
// error code. Backend services signal failures with it and the transport
// layer renders it without reinterpretation.
type APIError struct {
	Message string
	Status  int
	Code    string
	Details map[string]any
}

func (e *APIError) Error() string {
	return e.Message
}

func New(message string, status int, details map[string]any, code string) *APIError {
	if code == "" {
		code = fmt.Sprintf("ERR_%d", status)
	}
	return &APIError{Message: message, Status: status, Code: code, Details: details}
}

// NewValidation returns a 400-class error. Callers may override the status
// to carry an upstream failure code (e.g. 404, 502).
func NewValidation(message string, status int, details map[string]any) *APIError {
	if status == 0 {
		status = http.StatusBadRequest
	}
	return New(message, status, details, "")
}

func NewNotFound(message string, details map[string]any) *APIError {
	if message == "" {
		message = "Resource not found"
	}
	return New(message, http.StatusNotFound, details, "ERR_NOT_FOUND")
}

func NewAuthentication(message string, details map[string]any) *APIError {
	if message == "" {
		message = "Authentication required"
	}
	return New(message, http.StatusUnauthorized, details, "ERR_AUTH")
}

func NewAuthorization(message string, details map[string]any) *APIError {
	if message == "" {
		message = "Insufficient permissions"
	}
	return New(message, http.StatusForbidden, details, "ERR_AUTHORIZATION")
}

type errorBody struct {
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code"`
	ErrorCode  string         `json:"error_code"`
	RequestID  string         `json:"request_id"`
	Details    map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// WriteError renders err in the gateway's error envelope. Unclassified
// errors are logged server-side with full detail and surfaced to the client
// as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	reqID := middleware.GetReqID(r.Context())

	apiErr := &APIError{}
	if !errors.As(err, &apiErr) {
		if log != nil {
			log.WithField("request_id", reqID).Errorf("Unhandled error serving %s %s: %v", r.Method, r.URL.Path, err)
		}
		apiErr = New("Internal server error", http.StatusInternalServerError, nil, "")
	}

	WriteAPIError(w, reqID, apiErr)
}

// WriteAPIError writes an already-classified error with the given request id.
func WriteAPIError(w http.ResponseWriter, reqID string, apiErr *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error: errorBody{
			Message:    apiErr.Message,
			StatusCode: apiErr.Status,
			ErrorCode:  apiErr.Code,
			RequestID:  reqID,
			Details:    apiErr.Details,
		},
	})
}
