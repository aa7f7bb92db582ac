package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/middleware"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/proctor"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
	ws "github.com/stemsi/uexam-backend/internal/websocket"
)

var errUnknownAction = errors.New("unknown action")

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StreamHandler drives a live session over a WebSocket: the client sends
// actions, the server pushes state, ticks, results and violations.
type StreamHandler struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(log zerolog.Logger, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		log:      log.With().Str("component", "stream_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/tests/:id/stream
// Requires RequireStudentWSAuth and RequireLiveSession.
func (h *StreamHandler) SessionStream(c *gin.Context) {
	sess := middleware.GetSession(c)
	if sess == nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)

	state := sess.State()
	wsLog := h.log.With().
		Int("student_id", state.StudentID).
		Str("test_id", state.TestID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if err := conn.WriteEvent(ws.EventState, buildSessionView(sess)); err != nil {
		_ = conn.Close(websocket.CloseInternalServerErr, "")
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.pump(ctx, conn, events)
	}()

	for {
		var req ws.Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(ctx, conn, sess, &req, wsLog)
	}

	cancel()
	<-pumpDone
	_ = conn.Close(websocket.CloseNormalClosure, "")
}

// pump forwards session events to the client until ctx ends.
func (h *StreamHandler) pump(ctx context.Context, conn *ws.Conn, events <-chan proctor.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var err error
			switch ev.Kind {
			case proctor.EventTick:
				err = conn.WriteEvent(ws.EventTick, ws.TickData{
					Remaining: ev.Remaining,
					LowTime:   model.IsLowTime(ev.Remaining),
				})
			case proctor.EventViolation:
				err = conn.WriteEvent(ws.EventViolation, ev.Violation)
			case proctor.EventSubmitted:
				err = conn.WriteEvent(ws.EventSubmitted, submittedData(ev.Payload, ev.Err))
			}
			if err != nil {
				return
			}
		}
	}
}

func submittedData(p *model.SubmissionPayload, submitErr error) ws.SubmittedData {
	data := ws.SubmittedData{}
	if p != nil {
		data.Reason = p.Reason
		data.Answered = len(p.Answers)
		data.TimeSpent = p.ElapsedSeconds
		data.Violations = len(p.Violations)
	}
	if submitErr != nil {
		data.SubmitError = submitErr.Error()
	}
	return data
}

// dispatch applies one client action and replies with the resulting state,
// an execution report, or an error event.
func (h *StreamHandler) dispatch(ctx context.Context, conn *ws.Conn, sess *service.Session, req *ws.Request, log zerolog.Logger) {
	var err error
	switch req.Action {
	case ws.ActionPing:
		_ = conn.WriteEvent(ws.EventPong, nil)
		return

	case ws.ActionAnswer:
		err = applyAnswer(sess, req)
	case ws.ActionGoTo:
		sess.GoTo(req.Index)
	case ws.ActionNext:
		sess.Next()
	case ws.ActionPrevious:
		sess.Previous()
	case ws.ActionFlag:
		_, err = sess.ToggleFlag(req.QuestionID)
	case ws.ActionVisibility:
		sess.Signals.Visibility(req.Hidden)
	case ws.ActionFullscreen:
		sess.Signals.Fullscreen(req.Fullscreen)

	case ws.ActionRun, ws.ActionSubmitCode:
		var report *model.ExecutionReport
		if req.Action == ws.ActionRun {
			report, err = sess.RunCode(ctx, req.QuestionID, req.Code, req.Language.ID())
		} else {
			report, err = sess.SubmitCode(ctx, req.QuestionID, req.Code, req.Language.ID())
		}
		if report != nil {
			_ = conn.WriteEvent(ws.EventResults, ws.ResultsData{Mode: req.Action, Report: report})
		}

	case ws.ActionSubmit, ws.ActionSubmitLast:
		// Delivery continues even if the client disconnects mid-submit.
		subCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
		if req.Action == ws.ActionSubmit {
			if !sess.Submit(subCtx, model.SubmitReasonManual) {
				err = resubmit(subCtx, sess)
			}
		} else {
			var performed bool
			performed, err = sess.SubmitLast(subCtx)
			if err == nil && !performed && sess.DeliveryPending() {
				err = resubmit(subCtx, sess)
			}
		}
		cancel()

	default:
		err = errUnknownAction
	}

	if err != nil {
		writeStreamError(conn, err, log)
		return
	}
	_ = conn.WriteEvent(ws.EventState, sess.State())
}

// applyAnswer stores an MCQ option. Code goes through submit_code instead.
func applyAnswer(sess *service.Session, req *ws.Request) error {
	if req.Code != "" {
		return proctor.ErrCodeNeedsSubmit
	}
	return sess.AnswerMCQ(req.QuestionID, req.Value)
}

// resubmit handles a submit on a session that already left Active: a payload
// whose delivery failed is sent again, anything else is a duplicate.
func resubmit(ctx context.Context, sess *service.Session) error {
	if !sess.DeliveryPending() {
		return service.ErrAlreadySubmitted
	}
	// The outcome shows up in the state's submit_error.
	_ = sess.Resend(ctx)
	return nil
}

func writeStreamError(conn *ws.Conn, err error, log zerolog.Logger) {
	if errors.Is(err, errUnknownAction) {
		_ = conn.WriteError(string(response.ErrInvalidPayload), err.Error())
		return
	}
	status, code := classify(err)
	if status >= 500 {
		log.Error().Err(err).Msg("Session action failed")
	}
	_ = conn.WriteError(string(code), response.GetMessage(code))
}
