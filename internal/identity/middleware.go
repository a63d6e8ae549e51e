// Package identity resolves who owns the cart on each request.
//
// Authentication itself happens upstream: an API gateway injects the
// authenticated user id as a header. Everyone else is a guest, identified by
// a stable random cookie so their cart and promo redemptions have an owner.
package identity

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harborlane/storefront-api/internal/common"
)

const (
	userHeader  = "X-User-ID"
	guestCookie = "guest_session"
)

// Middleware attaches the request's common.Identity to the context, minting
// a guest cookie when the visitor has neither a user id nor a session.
type Middleware struct {
	CookieDomain string
	CookieSecure bool
	CookieTTL    time.Duration
}

// Handler resolves the identity for downstream handlers.
func (m Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := m.resolve(w, r)
		next.ServeHTTP(w, r.WithContext(common.WithIdentity(r.Context(), owner)))
	})
}

func (m Middleware) resolve(w http.ResponseWriter, r *http.Request) common.Identity {
	if raw := strings.TrimSpace(r.Header.Get(userHeader)); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return common.Identity{UserID: &id}
		}
	}
	if c, err := r.Cookie(guestCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return common.Identity{GuestKey: c.Value}
	}

	key := uuid.NewString()
	ttl := m.CookieTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	http.SetCookie(w, &http.Cookie{
		Name:     guestCookie,
		Value:    key,
		Path:     "/",
		Domain:   m.CookieDomain,
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   m.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return common.Identity{GuestKey: key}
}
