package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates the lifecycle of a proctored test session.
type SessionStatus string

const (
	SessionStatusLoading    SessionStatus = "LOADING"
	SessionStatusActive     SessionStatus = "ACTIVE"
	SessionStatusSubmitting SessionStatus = "SUBMITTING"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// LowTimeThresholdSeconds is the remaining time under which the session warns the test-taker.
const LowTimeThresholdSeconds = 600

// IsLowTime reports whether remaining seconds fall under the warning threshold.
func IsLowTime(remaining int) bool {
	return remaining < LowTimeThresholdSeconds
}

// SessionState is a read-only snapshot of a session.
type SessionState struct {
	TestID               uuid.UUID        `json:"test_id"`
	StudentID            int              `json:"student_id"`
	Status               SessionStatus    `json:"status"`
	CurrentQuestionIndex int              `json:"current_question_index"`
	QuestionCount        int              `json:"question_count"`
	AnsweredCount        int              `json:"answered_count"`
	FlaggedQuestionIDs   []string         `json:"flagged_question_ids"`
	TimeRemainingSeconds int              `json:"time_remaining"`
	Submitted            bool             `json:"submitted"`
	LowTime              bool             `json:"low_time"`
	Violations           ViolationSummary `json:"violations"`
	SubmitError          string           `json:"submit_error,omitempty"`
}

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	SubmitReasonManual       SubmitReason = "manual"
	SubmitReasonExpired      SubmitReason = "expired"
	SubmitReasonLastQuestion SubmitReason = "last_question"
	SubmitReasonShutdown     SubmitReason = "shutdown"
)

// SubmissionPayload is what a session hands to the grading collaborator on submission.
type SubmissionPayload struct {
	TestID         uuid.UUID        `json:"test_id"`
	StudentID      int              `json:"student_id"`
	Answers        AnswerSet        `json:"answers"`
	ElapsedSeconds int              `json:"time_spent"`
	Violations     []ViolationEvent `json:"violations"`
	Reason         SubmitReason     `json:"reason"`
	SubmittedAt    time.Time        `json:"submitted_at"`
}
