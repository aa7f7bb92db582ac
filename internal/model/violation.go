package model

import "time"

// ViolationType enumerates proctoring events.
type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "tab_switch"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
	ViolationAudioAnomaly   ViolationType = "audio_anomaly"
	ViolationNoFace         ViolationType = "no_face"
	ViolationMultipleFaces  ViolationType = "multiple_faces"
)

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	switch t {
	case ViolationTabSwitch, ViolationFullscreenExit, ViolationAudioAnomaly, ViolationNoFace, ViolationMultipleFaces:
		return true
	}
	return false
}

// Severity grades a violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

// ViolationEvent is one entry of a session's append-only violation log.
type ViolationEvent struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  Severity      `json:"severity"`
}

// ViolationSummary aggregates a violation log.
type ViolationSummary struct {
	Total      int                   `json:"total"`
	BySeverity map[Severity]int      `json:"by_severity"`
	ByType     map[ViolationType]int `json:"by_type"`
	// FlaggedForReview is set once any high-severity violation is recorded.
	FlaggedForReview bool `json:"flagged_for_review"`
}

// SummarizeViolations counts events per severity and type.
func SummarizeViolations(events []ViolationEvent) ViolationSummary {
	s := ViolationSummary{
		Total:      len(events),
		BySeverity: make(map[Severity]int),
		ByType:     make(map[ViolationType]int),
	}
	for _, ev := range events {
		s.BySeverity[ev.Severity]++
		s.ByType[ev.Type]++
	}
	s.FlaggedForReview = s.BySeverity[SeverityHigh] > 0
	return s
}
