package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/BardiaPzK/ribooster/internal/api/response"
	"github.com/BardiaPzK/ribooster/internal/model"
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

// TokenValidator turns a bearer token into tenancy claims.
type TokenValidator interface {
	ValidateToken(token string) (*model.JWTClaims, error)
}

// Auth returns a middleware that requires a valid portal session token in the
// Authorization header.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing authorization")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *model.JWTClaims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts JWT claims from the request context.
func GetClaims(ctx context.Context) *model.JWTClaims {
	claims, _ := ctx.Value(claimsKey).(*model.JWTClaims)
	return claims
}

// GetScope returns the caller's tenancy scope, or false when the request was
// not authenticated.
func GetScope(ctx context.Context) (model.Scope, bool) {
	claims := GetClaims(ctx)
	if claims == nil {
		return model.Scope{}, false
	}
	return claims.Scope(), true
}
