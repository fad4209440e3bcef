package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/storage"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// contextKeyClaims stores the verified token claims in request context.
const contextKeyClaims contextKey = "token_claims"

// WithClaims attaches verified claims to a request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims, claims)
}

// ClaimsFromContext extracts the claims a Require middleware attached.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKeyClaims).(*Claims)
	return claims, ok
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// hasLegacyAuthHeaders reports whether the request authenticates with the
// retired header scheme old headset firmware used.
func hasLegacyAuthHeaders(r *http.Request) bool {
	return r.Header.Get("X-API-Key") != "" || r.Header.Get("X-Session-ID") != ""
}

// Require gates a route group on one token kind. Verified claims land in
// the request context for handlers to read.
//
// Headset endpoints additionally answer the retired X-API-Key /
// X-Session-ID scheme with the wrong-scheme error instead of the generic
// missing-token one, so old firmware gets an actionable message.
func (s *TokenService) Require(expected TokenType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				if expected == TokenHeadset && hasLegacyAuthHeaders(r) {
					errors.WriteSimpleError(w, errors.ErrCodeInvalidTokenType,
						"header authentication is no longer supported; send a headset bearer token")
					return
				}
				errors.WriteSimpleError(w, errors.ErrCodeInvalidToken, "missing bearer token")
				return
			}

			claims, err := s.Verify(token, expected)
			if err == ErrInvalidTokenType {
				errors.WriteSimpleError(w, errors.ErrCodeInvalidTokenType,
					"token is not valid for this endpoint")
				return
			}
			if err != nil {
				errors.WriteSimpleError(w, errors.ErrCodeInvalidToken, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdminRole gates a route group on the back-office capability
// matrix. It must sit inside a Require(TokenAdmin) middleware so claims
// are present.
func RequireAdminRole(allowed func(storage.AdminRole) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				errors.WriteSimpleError(w, errors.ErrCodeInvalidToken, "missing bearer token")
				return
			}
			role := claims.AdminRole()
			if !role.Valid() || !allowed(role) {
				errors.WriteSimpleError(w, errors.ErrCodePermissionDenied,
					"this role may not perform the requested action")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
