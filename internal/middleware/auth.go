package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/docport/chat-relay/internal/model/identity"
	apperrors "github.com/docport/chat-relay/pkg/errors"
)

type ctxKey int

const identityKey ctxKey = iota

// Auth resolves a bearer identity from the request, when one is present.
// Users authenticate with a `token` header, doctors with `dtoken`; a
// standard Authorization bearer is honored too. An absent or invalid token
// leaves the request anonymous rather than rejecting it — handlers that need
// an identity demand one via RequireIdentity. This mirrors the relay's
// guest-tolerant connection policy.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ident, ok := identityFromRequest(secret, r); ok {
				r = r.WithContext(WithIdentity(r.Context(), ident))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func identityFromRequest(secret string, r *http.Request) (identity.Identity, bool) {
	if raw := r.Header.Get("token"); raw != "" {
		if ident, err := ParseToken(secret, raw, identity.RoleUser); err == nil {
			return ident, true
		}
	}
	if raw := r.Header.Get("dtoken"); raw != "" {
		if ident, err := ParseToken(secret, raw, identity.RoleDoctor); err == nil {
			return ident, true
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if ident, err := ParseToken(secret, parts[1], identity.RoleUser); err == nil {
				return ident, true
			}
		}
	}
	return identity.Identity{}, false
}

// ParseToken verifies an HMAC token carrying {id, role} claims. The fallback
// role applies when the token predates the role claim (doctor tokens arrive
// on their own header, so the fallback disambiguates them).
func ParseToken(secret, raw string, fallback identity.Role) (identity.Identity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return identity.Identity{}, apperrors.Unauthorized("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity.Identity{}, apperrors.Unauthorized("invalid token claims")
	}

	id, _ := claims["id"].(string)
	if id == "" {
		return identity.Identity{}, apperrors.Unauthorized("token missing id")
	}

	role := fallback
	if raw, ok := claims["role"].(string); ok && raw != "" {
		role = identity.ParseRole(raw)
	}

	return identity.Identity{ID: id, Role: role}, nil
}

// WithIdentity stores an identity on the context.
func WithIdentity(ctx context.Context, ident identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// IdentityFrom extracts the request identity, ok=false for anonymous
// requests.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(identity.Identity)
	return ident, ok && !ident.Zero()
}
