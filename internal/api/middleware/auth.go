package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/breatheroute/airnav/internal/api/models"
	"github.com/breatheroute/airnav/internal/auth"
)

type sessionClaimsKey struct{}

// TokenValidator validates session bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.SessionClaims, error)
}

// SessionAuth validates the bearer session token and stores its claims in
// the request context.
func SessionAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, r, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if len(header) < len(bearerPrefix) ||
				!strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
				writeUnauthorized(w, r, "invalid authorization header format")
				return
			}

			token := header[len(bearerPrefix):]
			if token == "" {
				writeUnauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					writeUnauthorized(w, r, "session token has expired")
				case errors.Is(err, auth.ErrInvalidToken):
					writeUnauthorized(w, r, "invalid session token")
				default:
					writeUnauthorized(w, r, "authentication failed")
				}
				return
			}

			ctx := context.WithValue(r.Context(), sessionClaimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized writes the problem directly; the response package
// imports this one.
func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	problem := models.NewUnauthorized(GetRequestID(r.Context()), detail)
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetSessionClaims returns the validated session claims, or nil.
func GetSessionClaims(ctx context.Context) *auth.SessionClaims {
	claims, _ := ctx.Value(sessionClaimsKey{}).(*auth.SessionClaims)
	return claims
}
