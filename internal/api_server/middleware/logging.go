package middleware

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	chi "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/apiary/apiary/internal/apierrors"
	"github.com/apiary/apiary/internal/auth"
	"github.com/apiary/apiary/pkg/log"
)

// slowRequestThreshold is the completion latency above which a request is
// logged at elevated severity.
const slowRequestThreshold = time.Second

// clientAddr extracts the client host from RemoteAddr, falling back to the
// raw value when it carries no port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// processTimeWriter injects the X-Process-Time header at the moment the
// status line is committed, which is the last point headers can change.
// Write is overridden too: a handler that writes a body without an
// explicit WriteHeader commits the status line inside the wrapped
// writer's Write, which would bypass the WriteHeader override here.
type processTimeWriter struct {
	chi.WrapResponseWriter
	start       time.Time
	wroteHeader bool
}

func (w *processTimeWriter) WriteHeader(status int) {
	w.stampProcessTime()
	w.WrapResponseWriter.WriteHeader(status)
}

func (w *processTimeWriter) Write(b []byte) (int, error) {
	w.stampProcessTime()
	return w.WrapResponseWriter.Write(b)
}

func (w *processTimeWriter) stampProcessTime() {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	elapsed := time.Since(w.start).Seconds()
	w.Header().Set("X-Process-Time", fmt.Sprintf("%.4f", elapsed))
}

// Logger logs request start and completion. The credential header's
// presence is logged, never its value. Completions above
// slowRequestThreshold are logged as warnings.
func Logger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.WithReqIDFromCtx(r.Context(), logger)
			authenticated := r.Header.Get(auth.APIKeyHeader) != ""

			reqLog.WithFields(logrus.Fields{
				"method":        r.Method,
				"path":          r.URL.Path,
				"client":        clientAddr(r),
				"authenticated": authenticated,
			}).Infof("Request: %s %s", r.Method, r.URL.Path)

			ww := &processTimeWriter{WrapResponseWriter: chi.NewWrapResponseWriter(w, r.ProtoMajor), start: start}

			defer func() {
				elapsed := time.Since(start)
				fields := logrus.Fields{
					"method":       r.Method,
					"path":         r.URL.Path,
					"status_code":  ww.Status(),
					"process_time": elapsed.Seconds(),
				}
				if rec := recover(); rec != nil {
					reqLog.WithFields(fields).Errorf("Error processing request: %s %s: %v", r.Method, r.URL.Path, rec)
					panic(rec)
				}
				if elapsed > slowRequestThreshold {
					reqLog.WithFields(fields).Warnf("Slow request: %s %s - %.3fs", r.Method, r.URL.Path, elapsed.Seconds())
				} else {
					reqLog.WithFields(fields).Infof("Response: %s %s - %d", r.Method, r.URL.Path, ww.Status())
				}
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer is the innermost stage. It converts panics into the generic
// 500 envelope with no internal detail and logs the stack server-side;
// having it innermost lets metrics and logging still observe the 500 on
// the way out.
func Recoverer(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.WithReqIDFromCtx(r.Context(), logger).
						Errorf("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
					apierrors.WriteAPIError(w, chi.GetReqID(r.Context()),
						apierrors.New("Internal server error", http.StatusInternalServerError, nil, ""))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
