package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := NewAuthenticator("secret", "funds-engine")

	tok, err := a.IssueToken("ops-jane", RoleAdmin, time.Minute)
	require.NoError(t, err)

	claims, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops-jane", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := NewAuthenticator("secret", "funds-engine")
	valid, err := a.IssueToken("alice", RoleCustomer, time.Minute)
	require.NoError(t, err)

	expired := NewAuthenticator("secret", "funds-engine")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.IssueToken("alice", RoleCustomer, time.Hour)
	require.NoError(t, err)

	other, err := NewAuthenticator("other-secret", "funds-engine").IssueToken("alice", RoleCustomer, time.Minute)
	require.NoError(t, err)

	foreign, err := NewAuthenticator("secret", "someone-else").IssueToken("alice", RoleCustomer, time.Minute)
	require.NoError(t, err)

	anonymous, err := a.IssueToken("", RoleAdmin, time.Minute)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "mallory",
			Issuer:    "funds-engine",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = a.Verify(valid)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"expired":      old,
		"wrong secret": other,
		"wrong issuer": foreign,
		"no subject":   anonymous,
		"alg none":     unsigned,
		"garbage":      "a.b.c",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	a := NewAuthenticator("secret", "")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := PrincipalFrom(r.Context())
		w.Write([]byte(p.Subject))
	})
	h := a.Authenticate(RequireAdmin(ok))

	serve := func(sub, role string) *httptest.ResponseRecorder {
		tok, err := a.IssueToken(sub, role, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("ops-jane", RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops-jane", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, serve("alice", RoleCustomer).Code)
}
