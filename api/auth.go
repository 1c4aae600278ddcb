/*
auth.go - Bearer token authentication

PURPOSE:
  Every /api route except /health runs as an actor taken from an HS256
  JWT. The token carries the account id, the role and the manager flag;
  the booking service does the authorization itself.

CLAIMS:
  {"user_id": 20, "role": "student", "is_manager": false, "exp": ...}

  user_id is the student id for students, the teacher id for teachers and
  the staff account id for admin, cskh and tng. The system role is never
  accepted from a token.

SEE ALSO:
  - generic/types.go: Actor, Role
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/warp/lesson-booking/generic"
)

type Claims struct {
	UserID    int64  `json:"user_id"`
	Role      string `json:"role"`
	IsManager bool   `json:"is_manager,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for actor. Used by tests and the demo tooling.
func (a *Authenticator) Issue(actor generic.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	claims := &Claims{
		UserID:    actor.ID,
		Role:      string(actor.Role),
		IsManager: actor.IsManager,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates tokenString and returns its actor.
func (a *Authenticator) Parse(tokenString string) (generic.Actor, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return generic.Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return generic.Actor{}, errors.New("invalid token claims")
	}

	role, err := generic.ParseRole(claims.Role)
	if err != nil {
		return generic.Actor{}, err
	}
	if role == generic.RoleSystem {
		return generic.Actor{}, errors.New("system role is not accepted from tokens")
	}
	if claims.UserID <= 0 {
		return generic.Actor{}, errors.New("user_id is required")
	}
	return generic.Actor{ID: claims.UserID, Role: role, IsManager: claims.IsManager}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if header == "" || tokenString == header {
			writeStatus(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		actor, err := a.Parse(tokenString)
		if err != nil {
			writeStatus(w, r, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

type actorKey struct{}

func WithActor(ctx context.Context, actor generic.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor of the request.
func ActorFrom(ctx context.Context) (generic.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(generic.Actor)
	return actor, ok
}
