package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const adminUser = "admin"

// HashPassword returns the bcrypt hash for an admin password.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// requireAdmin checks HTTP basic credentials against the admin password hash.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(adminUser)) != 1 ||
			bcrypt.CompareHashAndPassword(h.config.AdminPasswordHash, []byte(pass)) != nil {
			if ok {
				slog.Warn("admin authentication failed", "user", user, "remote", r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="interntest admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
