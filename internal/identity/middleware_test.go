package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/harborlane/storefront-api/internal/common"
)

func capture(t *testing.T, req *http.Request) (common.Identity, *httptest.ResponseRecorder) {
	t.Helper()
	var got common.Identity
	h := Middleware{}.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = common.IdentityFrom(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return got, rec
}

func TestUserHeaderWins(t *testing.T) {
	userID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", userID.String())
	req.AddCookie(&http.Cookie{Name: "guest_session", Value: "g-abc"})

	got, rec := capture(t, req)
	require.NotNil(t, got.UserID)
	require.Equal(t, userID, *got.UserID)
	require.Empty(t, rec.Result().Cookies(), "authenticated requests mint no guest cookie")
}

func TestExistingGuestCookieReused(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "guest_session", Value: "g-abc"})

	got, rec := capture(t, req)
	require.Nil(t, got.UserID)
	require.Equal(t, "g-abc", got.GuestKey)
	require.Empty(t, rec.Result().Cookies())
}

func TestNewGuestGetsCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	got, rec := capture(t, req)
	require.Nil(t, got.UserID)
	require.NotEmpty(t, got.GuestKey)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "guest_session", cookies[0].Name)
	require.Equal(t, got.GuestKey, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
}

func TestMalformedUserHeaderFallsBackToGuest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "not-a-uuid")

	got, _ := capture(t, req)
	require.Nil(t, got.UserID)
	require.NotEmpty(t, got.GuestKey)
}
