package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/conduit-lang/japi/internal/apierrors"
)

// Recovery turns a panic into a JSON:API 500 error document and logs it
// with its stack
func Recovery(log *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				value := recover()
				if value == nil {
					return
				}
				if value == http.ErrAbortHandler {
					panic(value)
				}

				log.Error("panic recovered",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("panic", fmt.Sprint(value)),
					zap.Stack("stack"),
				)

				body, status, err := apierrors.Document(
					apierrors.InternalServerError("An unexpected error occurred."), false)
				if err != nil {
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", apierrors.MediaType)
				w.WriteHeader(status)
				_, _ = w.Write(body)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
