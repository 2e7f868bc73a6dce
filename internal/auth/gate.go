package auth

import (
	"context"
	"net/http"
	"strings"
)

// UserStore is the subset of the relational store (§6.2) the Auth Gate
// needs: resolving the user a valid token belongs to.
type UserStore interface {
	GetUserByToken(ctx context.Context, token string) (User, bool, error)
}

// Gate validates session tokens on HTTP and WebSocket paths and attaches
// an identity envelope (§4.8).
type Gate struct {
	issuer *TokenIssuer
	store  UserStore
}

// NewGate creates a Gate backed by issuer and store.
func NewGate(issuer *TokenIssuer, store UserStore) *Gate {
	return &Gate{issuer: issuer, store: store}
}

type identityCtxKey struct{}

// WithIdentity returns a context carrying id, retrievable with IdentityFromContext.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the identity attached to ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// Authenticate verifies tokenString and resolves it to a user record.
// Verification is two-stage: the JWT signature/expiry must check out, and
// the token must still match the user's most-recently-issued token in the
// store (§6.4 users.lastToken) so that logging in elsewhere invalidates
// older sessions.
func (g *Gate) Authenticate(ctx context.Context, tokenString string) (Identity, bool) {
	if tokenString == "" {
		return Identity{}, false
	}
	if _, err := g.issuer.Verify(tokenString); err != nil {
		return Identity{}, false
	}
	user, ok, err := g.store.GetUserByToken(ctx, tokenString)
	if err != nil || !ok {
		return Identity{}, false
	}
	return user.Sanitize(), true
}

// Middleware implements the HTTP auth entry point (§4.8): on success it
// attaches the identity to the request context; on any failure it
// proceeds without identity so downstream handlers can 401/404 as
// appropriate. The middleware itself never rejects a request.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if id, ok := g.Authenticate(r.Context(), token); ok {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}
