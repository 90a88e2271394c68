package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	UserKey = "userID"
	RoleKey = "userRole"

	RoleAdmin = "admin"

	// TokenCookie carries the session JWT for browser requests.
	TokenCookie = "token"
)

// Auth resolves the caller's identity. The API gateway forwards it as
// X-User-ID / X-User-Role; direct callers may present an HS256 JWT as a
// bearer token or in the session cookie when jwtSecret is set.
func Auth(jwtSecret string) gin.HandlerFunc {
	secret := []byte(jwtSecret)
	return func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set(UserKey, userID)
			c.Set(RoleKey, c.GetHeader("X-User-Role"))
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" || len(secret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		userID, role, err := parseToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(UserKey, userID)
		c.Set(RoleKey, role)
		c.Next()
	}
}

// AdminOnly must run after Auth.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetUserRole(c) != RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil {
		return cookie
	}
	return ""
}

func parseToken(tokenStr string, secret []byte) (string, string, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return "", "", fmt.Errorf("invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", fmt.Errorf("invalid token claims")
	}
	if typ, ok := claims["typ"].(string); ok && typ != "access" {
		return "", "", fmt.Errorf("invalid token type")
	}
	userID, _ := claims["sub"].(string)
	if userID == "" {
		return "", "", fmt.Errorf("token has no subject")
	}
	role, _ := claims["role"].(string)
	return userID, role, nil
}

func GetUserID(c *gin.Context) string {
	return c.GetString(UserKey)
}

func GetUserRole(c *gin.Context) string {
	return c.GetString(RoleKey)
}
