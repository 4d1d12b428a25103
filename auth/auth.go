/*
Package auth identifies the caller of the ledger API.

PURPOSE:
  Sessions are issued by another service. This package only verifies the
  bearer token it hands out and puts the caller's organization and id into
  the request context, where handlers and the journal pick them up.

MODES:
  Token:   HS256 bearer tokens carrying org_id and sub (JWT_SECRET set)
  Header:  X-Organization-ID / X-Actor-ID are trusted as-is (development,
           no secret configured)

SEE ALSO:
  - api/server.go: Mounts the middleware on /api
  - generic/actor.go: Actor id recorded on journal entries
*/
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/Wizard254-ux/gabbage-web-sub000/bags"
	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

const (
	HeaderOrganization = "X-Organization-ID"
	HeaderActor        = "X-Actor-ID"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the authenticated caller.
type Principal struct {
	OrganizationID bags.OrganizationID
	ActorID        string
	Role           string
}

// Claims is the token payload.
type Claims struct {
	OrganizationID string `json:"org_id"`
	Role           string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type principalKey struct{}

// WithPrincipal stores the principal and its actor id in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return generic.WithActorID(ctx, p.ActorID)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// =============================================================================
// AUTHENTICATOR
// =============================================================================

type Authenticator struct {
	secret []byte
}

// New returns an authenticator for the secret. An empty secret switches to
// header mode.
func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) HeaderMode() bool { return len(a.secret) == 0 }

// IssueToken signs a token for the caller. Used by tests and bagctl; the
// real issuer lives in the session service.
func (a *Authenticator) IssueToken(p Principal, ttl time.Duration) (string, error) {
	if a.HeaderMode() {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		OrganizationID: string(p.OrganizationID),
		Role:           p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate resolves the principal of a request.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if a.HeaderMode() {
		org := strings.TrimSpace(r.Header.Get(HeaderOrganization))
		if org == "" {
			return Principal{}, fmt.Errorf("%w: %s header required", ErrMissingToken, HeaderOrganization)
		}
		return Principal{
			OrganizationID: bags.OrganizationID(org),
			ActorID:        strings.TrimSpace(r.Header.Get(HeaderActor)),
		}, nil
	}

	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Principal{}, ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.OrganizationID == "" || claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: org_id and sub are required", ErrInvalidToken)
	}
	return Principal{
		OrganizationID: bags.OrganizationID(claims.OrganizationID),
		ActorID:        claims.Subject,
		Role:           claims.Role,
	}, nil
}

// Middleware rejects unauthenticated requests with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": err.Error(),
				"code":  "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}
