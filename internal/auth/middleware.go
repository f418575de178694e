package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Middleware admits requests carrying a valid operator JWT, either as a
// Bearer token or in the operator_session cookie set by Login.
func Middleware(jwtSecret string, next http.Handler) http.Handler {
	secret := []byte(jwtSecret)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr, message := operatorToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, message)
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if tokenType, _ := claims["typ"].(string); tokenType != "access" {
			writeError(w, http.StatusUnauthorized, "invalid token type")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func operatorToken(r *http.Request) (string, string) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", "invalid authorization format"
		}
		tokenStr := strings.TrimSpace(parts[1])
		if tokenStr == "" {
			return "", "invalid authorization token"
		}
		return tokenStr, ""
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, ""
	}

	return "", "missing authorization token"
}
