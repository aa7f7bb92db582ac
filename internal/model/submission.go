package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Submission is a persisted, graded test submission.
type Submission struct {
	ID             uuid.UUID    `json:"id"`
	TestID         uuid.UUID    `json:"test_id"`
	StudentID      int          `json:"student_id"`
	Score          float64      `json:"score"`
	MaxScore       int          `json:"max_score"`
	ElapsedSeconds int          `json:"time_spent"`
	ViolationCount int          `json:"violation_count"`
	HighViolations int          `json:"high_violations"`
	Reason         SubmitReason `json:"reason"`
	SubmittedAt    time.Time    `json:"submitted_at"`
}

// Grade is the marks breakdown of a submission.
type Grade struct {
	Score       float64            `json:"score"`
	MaxScore    int                `json:"max_score"`
	PerQuestion map[string]float64 `json:"per_question"`
}

// Grade awards marks for answers against the definition. An MCQ earns its full marks
// when the selected option matches the correct option; a coding answer earns
// marks proportional to its test-case score.
func (d *TestDefinition) Grade(answers AnswerSet) Grade {
	g := Grade{PerQuestion: make(map[string]float64, len(d.Questions))}

	for _, q := range d.Questions {
		g.MaxScore += q.Marks

		a, ok := answers[q.ID]
		if !ok || a.Kind() != q.Kind || a.IsEmpty() {
			continue
		}

		var earned float64
		switch v := a.(type) {
		case MCQAnswer:
			if q.CorrectOption != "" && v.SelectedOption == q.CorrectOption {
				earned = float64(q.Marks)
			}
		case CodingAnswer:
			earned = float64(q.Marks) * float64(v.Score) / 100
		}

		earned = math.Round(earned*100) / 100
		g.PerQuestion[q.ID] = earned
		g.Score += earned
	}
	return g
}
