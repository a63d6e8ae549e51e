package common

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Identity names the owner of a cart: either an authenticated user or a
// guest session. Exactly one side is populated. Guests are identified by a
// stable opaque key so promo redemptions can be attributed to them too.
type Identity struct {
	UserID   *uuid.UUID
	GuestKey string
}

// IsZero reports whether neither side of the identity is set.
func (id Identity) IsZero() bool {
	return id.UserID == nil && strings.TrimSpace(id.GuestKey) == ""
}

// Authenticated reports whether the identity belongs to a signed-in user.
func (id Identity) Authenticated() bool { return id.UserID != nil }

// Key returns a stable string form usable as a cache or lock key.
func (id Identity) Key() string {
	if id.UserID != nil {
		return "user:" + id.UserID.String()
	}
	return "guest:" + id.GuestKey
}

type identityKey struct{}

// WithIdentity stores the request identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the request identity from the context if present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || v.IsZero() {
		return Identity{}, false
	}
	return v, true
}
