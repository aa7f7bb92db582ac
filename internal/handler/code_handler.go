package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/middleware"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/validator"
)

// TrialRunner executes code without scoring it.
type TrialRunner interface {
	Run(ctx context.Context, questionID, code string, languageID int, cases []model.TestCase) (*model.ExecutionReport, error)
}

// CodeHandler exposes ad-hoc code execution and the language table.
type CodeHandler struct {
	runner TrialRunner
	log    zerolog.Logger
}

// NewCodeHandler creates a new CodeHandler.
func NewCodeHandler(runner TrialRunner, log zerolog.Logger) *CodeHandler {
	return &CodeHandler{
		runner: runner,
		log:    log.With().Str("component", "code_handler").Logger(),
	}
}

// RunCode godoc
// POST /api/v1/code/run
func (h *CodeHandler) RunCode(c *gin.Context) {
	var req model.RunCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	report, err := h.runner.Run(c.Request.Context(), req.QuestionID, req.Code, req.Language.ID(), req.Cases())
	if err != nil {
		h.log.Warn().Err(err).
			Int("user_id", middleware.GetClaims(c).UserID).
			Int("language_id", req.Language.ID()).
			Msg("Code run failed")
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// ListLanguages godoc
// GET /api/v1/code/languages
func (h *CodeHandler) ListLanguages(c *gin.Context) {
	response.Success(c, http.StatusOK, model.Languages)
}
