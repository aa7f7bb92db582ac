package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/uexam-backend/internal/model"
)

// SubmissionLister lists graded submissions of a test.
type SubmissionLister interface {
	ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Submission, error)
}

// ViolationLog reads persisted violations.
type ViolationLog interface {
	CountByTest(ctx context.Context, testID uuid.UUID) (map[int]int, error)
	ListByStudent(ctx context.Context, testID uuid.UUID, studentID int) ([]model.ViolationEvent, error)
}

// MonitorService assembles the teacher-facing view of a running test.
type MonitorService struct {
	submissions SubmissionLister
	violations  ViolationLog
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(submissions SubmissionLister, violations ViolationLog) *MonitorService {
	return &MonitorService{submissions: submissions, violations: violations}
}

// TestOverview holds the submissions of a test and per-student violation counts.
type TestOverview struct {
	Submissions     []model.Submission `json:"submissions"`
	ViolationCounts map[int]int        `json:"violation_counts"` // student_id → violations
	TotalViolations int                `json:"total_violations"`
}

// GetOverview fetches submissions and violation counts concurrently.
// Submissions are critical; violation counts are best-effort.
func (s *MonitorService) GetOverview(ctx context.Context, testID uuid.UUID) (*TestOverview, error) {
	var (
		subs      []model.Submission
		counts    map[int]int
		subsErr   error
		countsErr error
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		subs, subsErr = s.submissions.ListByTest(ctx, testID)
	}()
	go func() {
		defer wg.Done()
		counts, countsErr = s.violations.CountByTest(ctx, testID)
	}()
	wg.Wait()

	if subsErr != nil {
		return nil, subsErr
	}

	overview := &TestOverview{
		Submissions:     subs,
		ViolationCounts: make(map[int]int),
	}
	if overview.Submissions == nil {
		overview.Submissions = []model.Submission{}
	}
	if countsErr == nil && counts != nil {
		overview.ViolationCounts = counts
		for _, n := range counts {
			overview.TotalViolations += n
		}
	}
	return overview, nil
}

// StudentViolations is one student's persisted violation log for a test.
type StudentViolations struct {
	StudentID int                    `json:"student_id"`
	Events    []model.ViolationEvent `json:"events"`
	Summary   model.ViolationSummary `json:"summary"`
}

// GetStudentViolations returns a student's violations in record order with their summary.
func (s *MonitorService) GetStudentViolations(ctx context.Context, testID uuid.UUID, studentID int) (*StudentViolations, error) {
	events, err := s.violations.ListByStudent(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.ViolationEvent{}
	}
	return &StudentViolations{
		StudentID: studentID,
		Events:    events,
		Summary:   model.SummarizeViolations(events),
	}, nil
}
