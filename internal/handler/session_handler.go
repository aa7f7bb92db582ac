package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/middleware"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
)

const submitTimeout = 15 * time.Second

// SessionStarter starts or resumes a student's session.
type SessionStarter interface {
	Start(ctx context.Context, testID uuid.UUID, studentID int) (*service.Session, error)
}

// SessionHandler handles the REST side of a proctored session. Interaction
// during the test goes through the session stream.
type SessionHandler struct {
	sessions SessionStarter
	log      zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionStarter, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "session_handler").Logger(),
	}
}

// SessionView is what a client needs to render or resume a session.
type SessionView struct {
	State   model.SessionState    `json:"state"`
	Test    *model.TestDefinition `json:"test,omitempty"`
	Answers model.AnswerSet       `json:"answers"`
}

func buildSessionView(sess *service.Session) SessionView {
	view := SessionView{State: sess.State(), Answers: model.AnswerSet{}}
	def := sess.Definition()
	if def == nil {
		return view
	}
	view.Test = def.PublicView()
	for _, q := range def.Questions {
		if a, ok := sess.GetAnswer(q.ID); ok {
			view.Answers[q.ID] = a
		}
	}
	return view
}

// StartSession godoc
// POST /api/v1/student/tests/:id/session
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)

	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	sess, err := h.sessions.Start(c.Request.Context(), testID, claims.UserID)
	if err != nil {
		failFromError(c, err)
		return
	}

	h.log.Info().
		Str("test_id", testID.String()).
		Int("student_id", claims.UserID).
		Msg("Session opened")
	response.Success(c, http.StatusOK, buildSessionView(sess))
}

// GetSession godoc
// GET /api/v1/student/tests/:id/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	response.Success(c, http.StatusOK, buildSessionView(middleware.GetSession(c)))
}

// SubmitSession godoc
// POST /api/v1/student/tests/:id/session/submit
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	sess := middleware.GetSession(c)

	// A client hanging up must not abort delivery of the submission.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), submitTimeout)
	defer cancel()

	if !sess.Submit(ctx, model.SubmitReasonManual) {
		if err := resubmit(ctx, sess); err != nil {
			failFromError(c, err)
			return
		}
	}

	response.Success(c, http.StatusOK, sess.State())
}
