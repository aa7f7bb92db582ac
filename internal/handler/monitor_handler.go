package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// MonitorFeed streams the raw JSON events published for a test.
type MonitorFeed interface {
	Subscribe(ctx context.Context, testID uuid.UUID) (<-chan string, func())
}

// MonitorHandler serves the live teacher dashboard of a test.
type MonitorHandler struct {
	tests    TestCatalog
	overview OverviewProvider
	feed     MonitorFeed
	log      zerolog.Logger
}

func NewMonitorHandler(tests TestCatalog, overview OverviewProvider, feed MonitorFeed, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		tests:    tests,
		overview: overview,
		feed:     feed,
		log:      log.With().Str("component", "monitor_handler").Logger(),
	}
}

type monitorSnapshot struct {
	Type string                `json:"type"`
	Test monitorTestInfo       `json:"test"`
	Data *service.TestOverview `json:"data"`
}

type monitorTestInfo struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration"`
	TotalQuestions  int       `json:"total_questions"`
}

type monitorRefresh struct {
	Type            string      `json:"type"`
	Submitted       int         `json:"submitted"`
	ViolationCounts map[int]int `json:"violation_counts"`
	TotalViolations int         `json:"total_violations"`
}

// MonitorTestSSE godoc
// GET /api/v1/teacher/tests/:id/monitor
func (h *MonitorHandler) MonitorTestSSE(c *gin.Context) {
	def, ok := loadOwnedTest(c, h.tests)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()
	testLog := h.log.With().Str("test_id", def.ID.String()).Logger()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, def, testLog)

	events, stop := h.feed.Subscribe(reqCtx, def.ID)
	defer stop()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Refreshes are skipped until someone starts, submits or violates.
	active := false
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	testLog.Info().Msg("Teacher attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			testLog.Info().Msg("Teacher disconnected from live monitor SSE")
			return

		case payload, ok := <-events:
			if !ok {
				return
			}
			writeSSE(c, []byte(payload))
			active = true

		case <-refreshTicker.C:
			if active {
				h.sendRefresh(c, reqCtx, def.ID, testLog)
			}

		case <-keepAliveTicker.C:
			writeSSE(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, parentCtx context.Context, def *model.TestDefinition, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	overview, err := h.overview.GetOverview(ctx, def.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load overview for snapshot")
		overview = &service.TestOverview{Submissions: []model.Submission{}, ViolationCounts: map[int]int{}}
	}

	data, err := json.Marshal(monitorSnapshot{
		Type: "snapshot",
		Test: monitorTestInfo{
			ID:              def.ID,
			Title:           def.Title,
			DurationMinutes: def.DurationMinutes,
			TotalQuestions:  len(def.Questions),
		},
		Data: overview,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	writeSSE(c, data)
}

func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, testID uuid.UUID, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	overview, err := h.overview.GetOverview(ctx, testID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch overview for refresh")
		return
	}

	data, _ := json.Marshal(monitorRefresh{
		Type:            "refresh",
		Submitted:       len(overview.Submissions),
		ViolationCounts: overview.ViolationCounts,
		TotalViolations: overview.TotalViolations,
	})
	writeSSE(c, data)
}

// writeSSE writes one unnamed SSE event and flushes it.
func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
