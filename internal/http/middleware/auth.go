package middleware

import (
	"net/http"
	"strings"
)

// Auth requires a bearer token on the dashboard API and the pipeline trigger
// endpoints. Health stays open for probes. An empty configured token disables
// the check (local development).
func Auth(requiredToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !protectedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			if requiredToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			if token == "" || token != requiredToken {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func protectedPath(path string) bool {
	return strings.HasPrefix(path, "/v1/") || strings.HasPrefix(path, "/internal/")
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
}
