package middleware

import (
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5/middleware"

	"github.com/apiary/apiary/internal/metrics"
)

// Metrics records wall-clock duration and final status per (method, path)
// once the inner chain completes, regardless of outcome: recording happens
// in a defer so a panicking inner stage is still counted before the panic
// propagates to the outer stages.
func Metrics(collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww, ok := w.(chi.WrapResponseWriter)
			if !ok {
				ww = chi.NewWrapResponseWriter(w, r.ProtoMajor)
			}

			defer func() {
				status := ww.Status()
				if status == 0 {
					// Inner chain never wrote a status line; it must
					// have panicked before responding.
					status = http.StatusInternalServerError
				}
				collector.Record(r.Method, r.URL.Path, status, time.Since(start))
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
