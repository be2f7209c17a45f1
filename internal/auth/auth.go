// Package auth guards the operator surface with optional BasicAuth. The
// user surface never goes through here: its only credential is the access
// token itself.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sammhicks/file-sharer/internal/config"
)

// Require wraps the admin handler. If no users are configured the admin
// surface trusts its bind address (loopback by default) and allows all.
func Require(cfg config.Config, next http.Handler) http.Handler {
	if !cfg.HasAuth() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := parseBasicAuth(r.Header.Get("Authorization"))
		if !ok {
			deny(w)
			return
		}
		user, ok := cfg.AdminUsers[u]
		if !ok {
			// Burn a comparison anyway so unknown users cost the same.
			_ = bcrypt.CompareHashAndPassword([]byte(phantomHash), []byte(p))
			deny(w)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Bcrypt), []byte(p)); err != nil {
			deny(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// phantomHash is a hash of nothing in particular, used to equalize timing
// for unknown usernames.
const phantomHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func deny(w http.ResponseWriter) {
	_ = subtle.ConstantTimeByteEq(1, 1)
	w.Header().Set("WWW-Authenticate", `Basic realm="file-sharer admin"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func parseBasicAuth(v string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(v, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimPrefix(v, prefix)))
	if err != nil {
		return "", "", false
	}
	s := string(raw)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	u, p := s[:i], s[i+1:]
	if u == "" || strings.Contains(u, "\x00") || strings.Contains(p, "\x00") {
		return "", "", false
	}
	return u, p, true
}
