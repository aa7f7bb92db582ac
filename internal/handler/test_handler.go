package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/middleware"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/response"
	"github.com/stemsi/uexam-backend/internal/service"
	"github.com/stemsi/uexam-backend/internal/validator"
)

// TestCatalog is the test-definition side TestHandler needs.
type TestCatalog interface {
	Create(ctx context.Context, req *model.CreateTestRequest, creatorID int) (*model.TestDefinition, error)
	GetDefinition(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error)
	GetByLink(ctx context.Context, link string) (*model.TestDefinition, error)
	ListByCreator(ctx context.Context, creatorID int) ([]model.TestDefinition, error)
}

// OverviewProvider builds the teacher view of a test's results.
type OverviewProvider interface {
	GetOverview(ctx context.Context, testID uuid.UUID) (*service.TestOverview, error)
	GetStudentViolations(ctx context.Context, testID uuid.UUID, studentID int) (*service.StudentViolations, error)
}

// TestHandler handles test authoring and lookup endpoints.
type TestHandler struct {
	tests    TestCatalog
	overview OverviewProvider
	log      zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(tests TestCatalog, overview OverviewProvider, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		tests:    tests,
		overview: overview,
		log:      log.With().Str("component", "test_handler").Logger(),
	}
}

// CreateTest godoc
// POST /api/v1/teacher/tests
func (h *TestHandler) CreateTest(c *gin.Context) {
	claims := middleware.GetClaims(c)

	var req model.CreateTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	def, err := h.tests.Create(c.Request.Context(), &req, claims.UserID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, def)
}

// ListMyTests godoc
// GET /api/v1/teacher/tests
func (h *TestHandler) ListMyTests(c *gin.Context) {
	claims := middleware.GetClaims(c)

	tests, err := h.tests.ListByCreator(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, tests)
}

// GetTest godoc
// GET /api/v1/teacher/tests/:id
// Returns the full definition, including private cases, to its author.
func (h *TestHandler) GetTest(c *gin.Context) {
	def, ok := h.ownedTest(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, def)
}

// GetOverview godoc
// GET /api/v1/teacher/tests/:id/submissions
func (h *TestHandler) GetOverview(c *gin.Context) {
	def, ok := h.ownedTest(c)
	if !ok {
		return
	}

	overview, err := h.overview.GetOverview(c.Request.Context(), def.ID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, overview)
}

// GetStudentViolations godoc
// GET /api/v1/teacher/tests/:id/students/:studentId/violations
func (h *TestHandler) GetStudentViolations(c *gin.Context) {
	def, ok := h.ownedTest(c)
	if !ok {
		return
	}

	studentID, err := strconv.Atoi(c.Param("studentId"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	log, err := h.overview.GetStudentViolations(c.Request.Context(), def.ID, studentID)
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, log)
}

// GetByLink godoc
// GET /api/v1/student/tests/link/:link
func (h *TestHandler) GetByLink(c *gin.Context) {
	def, err := h.tests.GetByLink(c.Request.Context(), c.Param("link"))
	if err != nil {
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, def)
}

func (h *TestHandler) ownedTest(c *gin.Context) (*model.TestDefinition, bool) {
	return loadOwnedTest(c, h.tests)
}

// loadOwnedTest loads the :id test and checks the caller authored it.
func loadOwnedTest(c *gin.Context, tests TestCatalog) (*model.TestDefinition, bool) {
	testID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	def, err := tests.GetDefinition(c.Request.Context(), testID)
	if err != nil {
		failFromError(c, err)
		return nil, false
	}

	if claims := middleware.GetClaims(c); claims == nil || def.CreatorID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return nil, false
	}
	return def, true
}
