package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

var errTokenMissing = errors.New("authorization header or token query required")

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, bearerOrQuery)
}

// RequireAdminJWT validates an admin JWT from the Authorization header, or
// the token query for EventSource clients that cannot send headers.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeAdmin, bearerOrQuery)
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, func(c *gin.Context) string {
		return c.Query("token")
	})
}

func requireToken(authService *service.AuthService, want service.TokenType, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validate(authService, extract(c))
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, tokenErrCode(err))
			return
		}

		if claims.TokenType != want {
			code := response.ErrStudentAccessOnly
			if want == service.TokenTypeAdmin {
				code = response.ErrAdminAccessOnly
			}
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func bearerOrQuery(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	// Fallback for EventSource (SSE) which cannot send headers
	return c.Query("token")
}

func validate(authService *service.AuthService, tokenStr string) (*service.Claims, error) {
	if tokenStr == "" {
		return nil, errTokenMissing
	}
	return authService.ValidateToken(tokenStr)
}

func tokenErrCode(err error) response.ErrCode {
	switch {
	case errors.Is(err, errTokenMissing):
		return response.ErrTokenRequired
	case errors.Is(err, jwt.ErrTokenExpired):
		return response.ErrTokenExpired
	}
	return response.ErrTokenInvalid
}
