package middleware

import (
	"net/http"
	"time"

	"watchover/internal/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// AccessLog logs every request at debug level, or warning when it took at least slow.
func AccessLog(logger *logger.Logger, slow time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			z := logger.Z()
			evt := z.Debug()
			if slow > 0 && elapsed >= slow {
				evt = z.Warn()
			}
			evt.Str("request_id", chimw.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("elapsed", elapsed).
				Msg("request done")
		})
	}
}
