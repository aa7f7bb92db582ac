package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/uexam-backend/internal/judge"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/proctor"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
)

// classify maps domain errors to an HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrTestNotFound):
		return http.StatusNotFound, response.ErrTestNotFound
	case errors.Is(err, service.ErrTestLinkTaken):
		return http.StatusConflict, response.ErrTestLinkTaken
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable, response.ErrInternal
	case errors.Is(err, model.ErrInvalidDefinition):
		return http.StatusUnprocessableEntity, response.ErrInvalidDefinition
	case errors.Is(err, proctor.ErrNotActive), errors.Is(err, proctor.ErrAlreadyLoaded):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, proctor.ErrUnknownQuestion):
		return http.StatusNotFound, response.ErrUnknownQuestion
	case errors.Is(err, proctor.ErrTypeKindMismatch), errors.Is(err, proctor.ErrNilAnswer):
		return http.StatusUnprocessableEntity, response.ErrAnswerKindInvalid
	case errors.Is(err, proctor.ErrCodeNeedsSubmit):
		return http.StatusUnprocessableEntity, response.ErrCodeNeedsSubmit
	case errors.Is(err, proctor.ErrNotSubmitted):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, proctor.ErrInvalidOption):
		return http.StatusUnprocessableEntity, response.ErrInvalidOption
	case errors.Is(err, proctor.ErrNotLastQuestion):
		return http.StatusConflict, response.ErrNotLastQuestion
	case errors.Is(err, proctor.ErrNotCoding):
		return http.StatusUnprocessableEntity, response.ErrNotCodingQuestion
	case errors.Is(err, judge.ErrUnsupportedLanguage):
		return http.StatusUnprocessableEntity, response.ErrUnsupportedLanguage
	case errors.Is(err, judge.ErrServiceUnavailable), errors.Is(err, proctor.ErrNoRunner),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, response.ErrJudgeUnavailable
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failFromError writes the error envelope for err. Unclassified errors are
// logged through the gin context and reported as internal.
func failFromError(c *gin.Context, err error) {
	status, code := classify(err)
	switch {
	case status >= 500:
		_ = c.Error(err)
		response.Fail(c, status, code)
	case code == response.ErrInvalidDefinition:
		response.FailWithDetail(c, status, code, err.Error())
	default:
		response.Fail(c, status, code)
	}
}
