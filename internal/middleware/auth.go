package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/abaquiz/backend/internal/models"
)

// TokenValidator turns a bearer token into the admin it was issued to.
type TokenValidator interface {
	ValidateToken(token string) (*models.Admin, error)
}

type contextKey string

const adminKey contextKey = "admin"

// AdminFromContext returns the admin set by JWTAuth.
func AdminFromContext(ctx context.Context) (*models.Admin, bool) {
	a, ok := ctx.Value(adminKey).(*models.Admin)
	return a, ok
}

// JWTAuth requires an "Authorization: Bearer <token>" header.
func JWTAuth(v TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "authorization header required")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			admin, err := v.ValidateToken(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), adminKey, admin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BotAuth requires the X-Bot-API-Key header to match apiKey. An empty
// apiKey rejects every request.
func BotAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Bot-API-Key")
			if apiKey == "" || key == "" || key != apiKey {
				writeError(w, http.StatusUnauthorized, "invalid bot API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: msg})
}
