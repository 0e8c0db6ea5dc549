// Package actor extracts an opaque actor identifier from the bearer
// token the surrounding application issued. Authorization itself lives
// outside the custody core; the core only records who acted.
package actor

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"custodia/pkg/requestcontext"
)

// TokenParser validates HS256 bearer tokens and yields the subject as
// the actor identifier.
type TokenParser struct {
	signingKey []byte
}

// NewTokenParser constructs a parser over the shared signing key.
func NewTokenParser(signingKey string) *TokenParser {
	return &TokenParser{signingKey: []byte(signingKey)}
}

// Actor parses the token and returns its subject claim.
func (p *TokenParser) Actor(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return p.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}
	return token.Claims.GetSubject()
}

const bearerPrefix = "Bearer "

// Require rejects requests without a valid bearer token and injects the
// token subject into the context as the actor.
func Require(parser *TokenParser, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				writeUnauthorized(w, "bearer token required")
				return
			}

			subject, err := parser.Actor(strings.TrimPrefix(authHeader, bearerPrefix))
			if err != nil || subject == "" {
				logger.WarnContext(r.Context(), "rejected bearer token",
					"request_id", requestcontext.RequestID(r.Context()),
					"error", err,
				)
				writeUnauthorized(w, "invalid bearer token")
				return
			}

			ctx := requestcontext.WithActor(r.Context(), subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + desc + `"}`))
}
