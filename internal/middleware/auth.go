package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"textcast/internal/db"
	"textcast/internal/models"
)

type contextKey string

// UserContextKey is the key for the authenticated user in the request context.
const UserContextKey = contextKey("user")

// UserFromContext returns the authenticated user, or nil outside the
// auth middleware.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(UserContextKey).(*models.User)
	return user
}

// AuthMiddleware validates the bearer API token and stores the owning user
// in the request context.
func AuthMiddleware(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				http.Error(w, "Authorization header format must be 'Bearer <token>'", http.StatusUnauthorized)
				return
			}

			user, err := db.GetUserByAPIToken(parts[1])
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					http.Error(w, "Invalid API token", http.StatusUnauthorized)
					return
				}
				log.WithField("event", "auth_lookup_failed").WithError(err).Error("Token lookup failed")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
