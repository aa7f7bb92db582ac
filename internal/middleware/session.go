package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
)

// ContextKeySession is the Gin context key for the student's live session.
const ContextKeySession = "session"

// SessionLookup finds a student's live session.
type SessionLookup interface {
	Get(testID uuid.UUID, studentID int) (*service.Session, error)
}

// RequireLiveSession resolves the live session of the authenticated student for
// the test in the :id path parameter. Must run after a student JWT guard.
func RequireLiveSession(sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		testID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		sess, err := sessions.Get(testID, claims.UserID)
		if err != nil {
			response.AbortFail(c, http.StatusNotFound, response.ErrSessionNotFound)
			return
		}

		c.Set(ContextKeySession, sess)
		c.Next()
	}
}

// GetSession retrieves the session stored by RequireLiveSession.
func GetSession(c *gin.Context) *service.Session {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return nil
	}
	sess, _ := val.(*service.Session)
	return sess
}
