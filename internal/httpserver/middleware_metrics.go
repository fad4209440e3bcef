package httpserver

import (
	"net/http"

	"github.com/mrgun/server/internal/errors"
)

// adminMetricsAuth protects the /metrics endpoint with a static API key.
// An empty key leaves the endpoint open; otherwise requests must carry
// "Authorization: Bearer {key}".
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "Bearer "+apiKey {
				errors.WriteSimpleError(w, errors.ErrCodeInvalidToken, "invalid or missing metrics API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
