package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAdminToken allows requests carrying token as a bearer token or as
// the "token" query parameter. Browsers cannot set headers on WebSocket
// upgrades, hence the query fallback.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" || got == r.Header.Get("Authorization") {
				got = r.URL.Query().Get("token")
			}
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
