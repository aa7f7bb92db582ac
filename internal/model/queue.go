package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ViolationRecord is a violation queued for persistence.
type ViolationRecord struct {
	TestID    uuid.UUID      `json:"test_id"`
	StudentID int            `json:"student_id"`
	Violation ViolationEvent `json:"violation"`
}

// AnswerRecord is an autosaved answer queued for persistence. Answer holds the
// tagged JSON produced by MarshalAnswer.
type AnswerRecord struct {
	TestID     uuid.UUID       `json:"test_id"`
	StudentID  int             `json:"student_id"`
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
	SavedAt    time.Time       `json:"saved_at"`
}

// MonitorEventType enumerates messages on a test's monitor channel.
type MonitorEventType string

const (
	MonitorViolation MonitorEventType = "violation"
	MonitorStarted   MonitorEventType = "started"
	MonitorSubmitted MonitorEventType = "submitted"
)

// MonitorEvent is published on a test's monitor channel for live teacher dashboards.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	TestID    uuid.UUID        `json:"test_id"`
	StudentID int              `json:"student_id"`
	Violation *ViolationEvent  `json:"violation,omitempty"`
	Reason    SubmitReason     `json:"reason,omitempty"`
	Answered  int              `json:"answered,omitempty"`
	At        time.Time        `json:"at"`
}
