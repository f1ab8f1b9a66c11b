package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"falconlic/internal/infrastructure"
)

// AdminAuth guards administrative endpoints with a shared token
// supplied in the X-Admin-Token header. The comparison is constant
// time. An empty configured token disables the endpoints outright.
func AdminAuth(token string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			presented := r.Header.Get("X-Admin-Token")
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.WarnContext(ctx, "admin auth rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)

				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusUnauthorized)

				traceID := infrastructure.GetTraceID(ctx)
				response := `{"type":"/errors/unauthorized","title":"Unauthorized","status":401,"detail":"A valid admin token is required","trace_id":"` + traceID + `"}`
				w.Write([]byte(response))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
