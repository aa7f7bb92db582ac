package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*service.Claims, error)
}

// RequireJWT validates the bearer token of any role and stores its claims.
func RequireJWT(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, auth)
		if !ok {
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(auth TokenValidator) gin.HandlerFunc {
	return requireTokenType(auth, service.TokenTypeStudent, response.ErrStudentAccessOnly)
}

// RequireTeacherJWT validates a teacher JWT from the Authorization header.
func RequireTeacherJWT(auth TokenValidator) gin.HandlerFunc {
	return requireTokenType(auth, service.TokenTypeTeacher, response.ErrTeacherAccessOnly)
}

func requireTokenType(auth TokenValidator, tokenType service.TokenType, code response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := authenticate(c, auth)
		if !ok {
			return
		}
		if claims.TokenType != tokenType {
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

func authenticate(c *gin.Context, auth TokenValidator) (*service.Claims, bool) {
	claims, err := extractAndValidateClaims(c, auth)
	if err != nil {
		code := response.ErrTokenInvalid
		if errors.Is(err, errNoToken) {
			code = response.ErrTokenRequired
		}
		response.AbortFail(c, http.StatusUnauthorized, code)
		return nil, false
	}
	return claims, true
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests, which cannot carry headers from browsers.
func RequireStudentWSAuth(auth TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := auth.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != service.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
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

var errNoToken = errors.New("authorization header or token query required")

func extractAndValidateClaims(c *gin.Context, auth TokenValidator) (*service.Claims, error) {
	tokenStr := ""

	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			tokenStr = strings.TrimSpace(parts[1])
		}
	}

	// Fallback for EventSource (SSE) which cannot send headers
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}

	if tokenStr == "" {
		return nil, errNoToken
	}

	return auth.ValidateToken(tokenStr)
}
