package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAdmin accepts requests carrying "Authorization: Bearer <admin key>".
// Without a configured key every request is refused.
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.cfg.AdminKey == "" {
			writeError(w, http.StatusForbidden, "admin api disabled")
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(c.cfg.AdminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
