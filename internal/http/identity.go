package http

import (
	"net/http"
	"strings"

	"cutpro/internal/core"
)

const (
	defaultIdentityCookie = "cutpro_temp_user_id"
	identityCookieMaxAge  = 400 * 24 * 60 * 60
)

// identityResolver decides the owner of a request once: an upstream
// authenticated header wins, then the pseudo-identity cookie, then a freshly
// generated pseudo-identity that is written back as a cookie.
type identityResolver struct {
	header string
	cookie string
}

func (ir identityResolver) resolve(w http.ResponseWriter, r *http.Request) core.Identity {
	if ir.header != "" {
		if v := strings.TrimSpace(r.Header.Get(ir.header)); v != "" {
			if id, err := core.AuthenticatedIdentity(v); err == nil {
				return id
			}
		}
	}

	if c, err := r.Cookie(ir.cookie); err == nil {
		if id, ok := core.AnonymousIdentity(c.Value); ok {
			return id
		}
	}

	id := core.NewAnonymousIdentity()
	http.SetCookie(w, &http.Cookie{
		Name:     ir.cookie,
		Value:    id.OwnerID,
		Path:     "/",
		MaxAge:   identityCookieMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
