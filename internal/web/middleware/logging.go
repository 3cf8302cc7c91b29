package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// AccessLog writes one Info entry per request. Paths in skip are not
// logged.
func AccessLog(log *zap.Logger, skip ...string) Middleware {
	skipped := make(map[string]bool, len(skip))
	for _, path := range skip {
		skipped[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			log.Info("request",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.Int("bytes", rec.bytesWritten),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
