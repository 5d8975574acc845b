package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/tallyapp/tally-server/internal/auth"
	"github.com/tallyapp/tally-server/internal/domain"
)

// TokenVerifier verifies bearer access tokens.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.AccessClaims, error)
}

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

const (
	identityKey ctxKey = "identity"
	tokenIDKey  ctxKey = "token_id"
)

// GetIdentity returns the authenticated identity from context.
// Returns 401 error if the request carried no valid token.
func GetIdentity(ctx context.Context) (domain.Identity, error) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	if !ok || identity.IsZero() {
		return domain.Identity{}, huma.Error401Unauthorized("Authentication required")
	}
	return identity, nil
}

// WithIdentity stores the identity in context.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func getTokenID(ctx context.Context) string {
	tokenID, _ := ctx.Value(tokenIDKey).(string)
	return tokenID
}

// authMiddleware returns a middleware that validates Bearer tokens and stores the identity in context.
// If no token is present or it is invalid, continues without identity in context.
// Handlers use GetIdentity to check authentication.
func authMiddleware(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || tokens == nil {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.VerifyAccessToken(token)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := WithIdentity(r.Context(), claims.Identity())
			ctx = context.WithValue(ctx, tokenIDKey, claims.TokenID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
