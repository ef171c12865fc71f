// Package middleware provides HTTP middleware for the assistant API.
package middleware

import (
	"net/http"
	"strings"
)

// allowedHeaders are the request headers a host page may send.
var allowedHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-Assist-Role",
	"X-Assist-Session-ID",
}, ", ")

// CORS returns middleware that lets host pages embedding the widget call
// the assistant API from their own origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			explicit, allowed := matchOrigin(allowedOrigins, origin)
			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicit origins; echoing a wildcard
				// match with credentials enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchOrigin(allowedOrigins []string, origin string) (explicit, allowed bool) {
	for _, o := range allowedOrigins {
		if o != "*" && o == origin {
			return true, true
		}
		if o == "*" {
			allowed = true
		}
	}
	return false, allowed
}
