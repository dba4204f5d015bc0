package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// audienceLongTermArchive is the required JWT audience for every Coordinator
// route (spec.md §6: "All routes require a bearer token with the
// long-term-archive audience").
const audienceLongTermArchive = "long-term-archive"

// Role is a Coordinator authorization scope (spec.md §6).
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
	RoleReadOnly Role = "read-only"
)

// claims is the subset of the bearer token payload the Coordinator cares
// about: the audience check and a role claim used for authorization.
type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type ctxKey int

const claimsCtxKey ctxKey = iota

var errMissingBearer = errors.New("missing bearer token")

// AuthMiddleware validates the bearer token's signature, expiry, and
// audience, then stores its claims on the request context for downstream
// authorization checks.
func AuthMiddleware(keyFunc jwt.Keyfunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			var c claims
			token, err := jwt.ParseWithClaims(tokenString, &c, keyFunc,
				jwt.WithAudience(audienceLongTermArchive),
				jwt.WithValidMethods([]string{"RS256", "HS256"}),
			)
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsCtxKey, &c)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errMissingBearer
	}
	return strings.TrimPrefix(header, prefix), nil
}

func claimsFromContext(ctx context.Context) *claims {
	c, _ := ctx.Value(claimsCtxKey).(*claims)
	return c
}

// RequireRole rejects requests whose token role is not in allowed. admin
// is always permitted, mirroring the teacher's ensureLeader-style guard
// applied per write operation rather than globally.
func RequireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := claimsFromContext(r.Context())
			if c == nil {
				writeError(w, http.StatusUnauthorized, "no token claims on request")
				return
			}
			if Role(c.Role) == RoleAdmin {
				next.ServeHTTP(w, r)
				return
			}
			for _, role := range allowed {
				if Role(c.Role) == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "role "+c.Role+" is not authorized for this route")
		})
	}
}
