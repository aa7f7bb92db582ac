package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/uexam-backend/internal/model"
)

type stubSubmissions struct {
	subs []model.Submission
	err  error
}

func (s stubSubmissions) ListByTest(context.Context, uuid.UUID) ([]model.Submission, error) {
	return s.subs, s.err
}

type stubCounts struct {
	counts map[int]int
	events []model.ViolationEvent
	err    error
}

func (s stubCounts) CountByTest(context.Context, uuid.UUID) (map[int]int, error) {
	return s.counts, s.err
}

func (s stubCounts) ListByStudent(context.Context, uuid.UUID, int) ([]model.ViolationEvent, error) {
	return s.events, s.err
}

func TestMonitorServiceOverview(t *testing.T) {
	svc := NewMonitorService(
		stubSubmissions{subs: []model.Submission{{StudentID: 1, Score: 4}, {StudentID: 2, Score: 3}}},
		stubCounts{counts: map[int]int{1: 2, 3: 5}},
	)
	ov, err := svc.GetOverview(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetOverview: %v", err)
	}
	if len(ov.Submissions) != 2 || ov.TotalViolations != 7 || ov.ViolationCounts[3] != 5 {
		t.Fatalf("unexpected overview %+v", ov)
	}
}

func TestMonitorServiceCountsAreBestEffort(t *testing.T) {
	svc := NewMonitorService(stubSubmissions{}, stubCounts{err: errors.New("timeout")})
	ov, err := svc.GetOverview(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("GetOverview: %v", err)
	}
	if ov.Submissions == nil || ov.ViolationCounts == nil || ov.TotalViolations != 0 {
		t.Fatalf("unexpected overview %+v", ov)
	}

	failing := NewMonitorService(stubSubmissions{err: errors.New("db down")}, stubCounts{})
	if _, err := failing.GetOverview(context.Background(), uuid.New()); err == nil {
		t.Fatal("submission failure should fail the overview")
	}
}

func TestMonitorServiceStudentViolations(t *testing.T) {
	svc := NewMonitorService(stubSubmissions{}, stubCounts{events: []model.ViolationEvent{
		{Type: model.ViolationTabSwitch, Severity: model.SeverityHigh},
		{Type: model.ViolationNoFace, Severity: model.SeverityMedium},
	}})
	log, err := svc.GetStudentViolations(context.Background(), uuid.New(), 4)
	if err != nil {
		t.Fatalf("GetStudentViolations: %v", err)
	}
	if log.StudentID != 4 || len(log.Events) != 2 || log.Summary.Total != 2 || !log.Summary.FlaggedForReview {
		t.Fatalf("unexpected log %+v", log)
	}

	empty, err := NewMonitorService(stubSubmissions{}, stubCounts{}).GetStudentViolations(context.Background(), uuid.New(), 4)
	if err != nil || empty.Events == nil || empty.Summary.Total != 0 {
		t.Fatalf("empty log = %+v, %v", empty, err)
	}

	if _, err := NewMonitorService(stubSubmissions{}, stubCounts{err: errors.New("db down")}).
		GetStudentViolations(context.Background(), uuid.New(), 4); err == nil {
		t.Fatal("expected error")
	}
}
