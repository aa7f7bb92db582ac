package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
)

// RequireRole checks that the authenticated token is one of the given types.
// Must run after RequireJWT.
func RequireRole(types ...service.TokenType) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, t := range types {
			if claims.TokenType == t {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
	}
}
