package api

import (
	"net/http"
	"regexp"
	"time"
)

const (
	AdminCookie = "lockboard_admin"
)

type (
	// SecurityRealm knows how admin credentials travel over HTTP.
	SecurityRealm struct {
		cookieName     string
		insecureCookie bool
	}
)

var (
	bearerTokenRE = regexp.MustCompile(`^Bearer ([^\s]+)$`)
)

func NewRealm(allowHTTPCookie bool) *SecurityRealm {
	return &SecurityRealm{
		cookieName:     AdminCookie,
		insecureCookie: allowHTTPCookie,
	}
}

// AdminTokens returns every admin token presented with r, the cookie first
// and then the Authorization header.
func (s *SecurityRealm) AdminTokens(r *http.Request) []string {
	var out []string
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		out = append(out, c.Value)
	}
	groups := bearerTokenRE.FindStringSubmatch(r.Header.Get("Authorization"))
	if len(groups) == 2 && (len(out) == 0 || out[0] != groups[1]) {
		out = append(out, groups[1])
	}
	return out
}

func (s *SecurityRealm) SetSession(w http.ResponseWriter, tk string, expiresAt, now time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    tk,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(expiresAt.Sub(now).Seconds()),
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *SecurityRealm) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !s.insecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}
