package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/lesson-booking/generic"
)

func TestAuthenticator_IssueAndParse(t *testing.T) {
	auth := NewAuthenticator("secret")
	manager := generic.Actor{ID: 7, Role: generic.RoleCSKH, IsManager: true}

	token, err := auth.Issue(manager, time.Minute)
	require.NoError(t, err)

	got, err := auth.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, manager, got)
}

func TestAuthenticator_Rejects(t *testing.T) {
	auth := NewAuthenticator("secret")
	sign := func(c Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"system role", sign(Claims{UserID: 1, Role: "system", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"unknown role", sign(Claims{UserID: 1, Role: "janitor", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"missing user", sign(Claims{Role: "student", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"expired", sign(Claims{UserID: 1, Role: "student", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: past}}, jwt.SigningMethodHS256, []byte("secret"))},
		{"other algorithm", sign(Claims{UserID: 1, Role: "student", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.SigningMethodHS512, []byte("secret"))},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Parse(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestMiddleware_PutsActorInContext(t *testing.T) {
	auth := NewAuthenticator("secret")
	token, err := auth.Issue(generic.Actor{ID: 20, Role: generic.RoleStudent}, time.Minute)
	require.NoError(t, err)

	var seen generic.Actor
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, generic.Actor{ID: 20, Role: generic.RoleStudent}, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
