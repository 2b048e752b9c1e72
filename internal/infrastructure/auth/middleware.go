package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExternalIDKey is the request-context key carrying the identity provider's
// user ID after successful authentication.
const ExternalIDKey = "external_id"

// Middleware validates the session token the identity provider's backend mints
// (HS256, shared secret) and injects the external user ID into the context.
func Middleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			externalID, ok := claims["sub"].(string)
			if !ok || externalID == "" {
				slog.Error("token missing subject claim")
				http.Error(w, "invalid subject in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ExternalIDKey, externalID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExternalIDFromContext extracts the authenticated external user ID.
func ExternalIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ExternalIDKey).(string)
	return id, ok && id != ""
}
