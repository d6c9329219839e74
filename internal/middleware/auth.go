package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthCookie carries the session token issued at login.
const AuthCookie = "authenticated"

// SessionToken derives the cookie value for password.
func SessionToken(password string) string {
	mac := hmac.New(sha256.New, []byte(password))
	mac.Write([]byte("watchover-session"))
	return hex.EncodeToString(mac.Sum(nil))
}

// PasswordMatches compares passwords in constant time.
func PasswordMatches(expected, given string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}

// AuthMiddleware requires the session cookie on every route except login and the health checks.
// An empty password disables authentication.
func AuthMiddleware(password string) func(http.Handler) http.Handler {
	token := SessionToken(password)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" ||
				r.URL.Path == "/auth/login" ||
				r.URL.Path == "/health" ||
				r.URL.Path == "/readiness" {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(AuthCookie)
			if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) != 1 {
				if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/logs/") {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"error":"Unauthorized"}`))
					return
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
