package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/vendorportal/core/internal/api"
)

// Recovery turns a handler panic into a 500 response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"request_id", GetRequestID(r.Context()),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			api.HandleError(w, api.ErrInternalServer)
		}()
		next.ServeHTTP(w, r)
	})
}
