package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"discussd/internal/auth"
	"discussd/internal/constants"
)

type contextKey string

const userIDKey contextKey = "userID"

type AuthMiddleware struct {
	jwtService    *auth.JWTService
	sessionCookie string
}

func NewAuthMiddleware(jwtService *auth.JWTService, sessionCookie string) *AuthMiddleware {
	return &AuthMiddleware{jwtService: jwtService, sessionCookie: sessionCookie}
}

// tokenFromRequest extracts the platform session token. The browser sends it
// as a cookie; API clients may use a bearer header instead.
func (m *AuthMiddleware) tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(m.sessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
		return parts[1]
	}
	return ""
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.tokenFromRequest(r)
		if token == "" {
			unauthorized(w, "Session token required")
			return
		}

		claims, err := m.jwtService.ValidateAccessToken(token)
		if errors.Is(err, auth.ErrTokenExpired) {
			writeError(w, http.StatusUnauthorized, constants.ErrCodeAuthExpired, "Session token expired")
			return
		}
		if err != nil {
			unauthorized(w, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUserID(r *http.Request) string {
	if v := r.Context().Value(userIDKey); v != nil {
		if userID, ok := v.(string); ok {
			return userID
		}
	}
	return ""
}
