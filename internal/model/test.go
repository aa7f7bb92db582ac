package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidDefinition is returned when a test definition breaks one of its structural rules.
var ErrInvalidDefinition = errors.New("invalid test definition")

// QuestionKind enumerates the supported question types.
type QuestionKind string

const (
	QuestionKindMultipleChoice QuestionKind = "MCQ"
	QuestionKindCoding         QuestionKind = "CODING"
)

// TestCase is a single stdin/expected-output pair for a coding question.
// Public cases are shown to the test-taker as samples; private ones are only used for grading.
type TestCase struct {
	ID       string `json:"id"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	IsPublic bool   `json:"is_public"`
}

// Question is a single question in a test.
type Question struct {
	ID     string       `json:"id"`
	Kind   QuestionKind `json:"type"`
	Prompt string       `json:"question"`
	Marks  int          `json:"marks"`

	// MCQ only.
	Options       []string `json:"options,omitempty"`
	CorrectOption string   `json:"correct_option,omitempty"`

	// Coding only.
	TestCases []TestCase `json:"test_cases,omitempty"`
}

// PublicTestCases returns the sample cases a test-taker may run against.
func (q *Question) PublicTestCases() []TestCase {
	out := make([]TestCase, 0, len(q.TestCases))
	for _, tc := range q.TestCases {
		if tc.IsPublic {
			out = append(out, tc)
		}
	}
	return out
}

// HasPrivateTestCase reports whether at least one case is hidden from the test-taker.
func (q *Question) HasPrivateTestCase() bool {
	for _, tc := range q.TestCases {
		if !tc.IsPublic {
			return true
		}
	}
	return false
}

// TestDefinition is the immutable description of a test, loaded once per session.
type TestDefinition struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Subject         string     `json:"subject"`
	TestLink        string     `json:"test_link"`
	Department      string     `json:"department"`
	Degree          string     `json:"degree"`
	StudentYear     string     `json:"student_year"`
	Date            *time.Time `json:"date,omitempty"`
	DurationMinutes int        `json:"duration"`
	TotalMarks      int        `json:"total_marks"`
	CreatorID       int        `json:"creator_id"`
	Questions       []Question `json:"questions"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DurationSeconds returns the session length in seconds.
func (d *TestDefinition) DurationSeconds() int {
	return d.DurationMinutes * 60
}

// QuestionByID looks a question up by its id.
func (d *TestDefinition) QuestionByID(id string) (*Question, bool) {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i], true
		}
	}
	return nil, false
}

// Validate checks the structural rules of a definition.
func (d *TestDefinition) Validate() error {
	if d.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidDefinition)
	}
	if len(d.Questions) == 0 {
		return fmt.Errorf("%w: at least one question is required", ErrInvalidDefinition)
	}

	seen := make(map[string]struct{}, len(d.Questions))
	for i, q := range d.Questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidDefinition, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidDefinition, q.ID)
		}
		seen[q.ID] = struct{}{}

		if q.Marks <= 0 {
			return fmt.Errorf("%w: question %q must carry positive marks", ErrInvalidDefinition, q.ID)
		}

		switch q.Kind {
		case QuestionKindMultipleChoice:
			if len(q.Options) < 2 {
				return fmt.Errorf("%w: question %q needs at least two options", ErrInvalidDefinition, q.ID)
			}
			if q.CorrectOption != "" {
				idx, err := strconv.Atoi(q.CorrectOption)
				if err != nil || idx < 0 || idx >= len(q.Options) {
					return fmt.Errorf("%w: question %q has an out-of-range correct option", ErrInvalidDefinition, q.ID)
				}
			}
		case QuestionKindCoding:
			if len(q.TestCases) == 0 {
				return fmt.Errorf("%w: question %q needs at least one test case", ErrInvalidDefinition, q.ID)
			}
		default:
			return fmt.Errorf("%w: question %q has unknown type %q", ErrInvalidDefinition, q.ID, q.Kind)
		}
	}
	return nil
}

// PublicView returns a copy safe to send to a test-taker: no correct options
// and only the public test cases.
func (d *TestDefinition) PublicView() *TestDefinition {
	out := *d
	out.Questions = make([]Question, len(d.Questions))
	for i, q := range d.Questions {
		q.CorrectOption = ""
		if q.Kind == QuestionKindCoding {
			q.TestCases = q.PublicTestCases()
		}
		if q.Options != nil {
			q.Options = append([]string(nil), q.Options...)
		}
		out.Questions[i] = q
	}
	return &out
}

// ─── Requests ──────────────────────────────────────────────────────────

// CreateTestCaseRequest is a test case inside a CreateQuestionRequest.
type CreateTestCaseRequest struct {
	Input    string `json:"input" binding:"max=65536"`
	Expected string `json:"expected" binding:"max=65536"`
	IsPublic bool   `json:"is_public"`
}

// CreateQuestionRequest is a question inside a CreateTestRequest.
type CreateQuestionRequest struct {
	Type          string                  `json:"type" binding:"required,oneof=MCQ CODING"`
	Question      string                  `json:"question" binding:"required,min=1,max=5000"`
	Options       []string                `json:"options" binding:"omitempty,dive,max=1000"`
	CorrectOption string                  `json:"correct_option" binding:"omitempty,numeric"`
	Marks         int                     `json:"marks" binding:"omitempty,min=1,max=1000"`
	TestCases     []CreateTestCaseRequest `json:"test_cases" binding:"omitempty,dive"`
}

// CreateTestRequest is the payload a teacher sends to create a test.
type CreateTestRequest struct {
	Title       string                  `json:"title" binding:"required,min=3,max=255"`
	Subject     string                  `json:"subject" binding:"required,max=255"`
	TestLink    string                  `json:"test_link" binding:"required,min=4,max=64,slug"`
	Department  string                  `json:"department" binding:"required,max=255"`
	Degree      string                  `json:"degree" binding:"required,max=255"`
	StudentYear string                  `json:"student_year" binding:"required,max=32"`
	Date        *time.Time              `json:"date" binding:"required"`
	Duration    int                     `json:"duration" binding:"required,min=1,max=480"`
	TotalMarks  int                     `json:"total_marks" binding:"required,min=1"`
	Questions   []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

// ToDefinition builds a TestDefinition with fresh ids from the request.
func (r *CreateTestRequest) ToDefinition(creatorID int) *TestDefinition {
	def := &TestDefinition{
		ID:              uuid.New(),
		Title:           r.Title,
		Subject:         r.Subject,
		TestLink:        r.TestLink,
		Department:      r.Department,
		Degree:          r.Degree,
		StudentYear:     r.StudentYear,
		Date:            r.Date,
		DurationMinutes: r.Duration,
		TotalMarks:      r.TotalMarks,
		CreatorID:       creatorID,
		Questions:       make([]Question, 0, len(r.Questions)),
	}

	for _, q := range r.Questions {
		marks := q.Marks
		if marks == 0 {
			marks = 1
		}
		question := Question{
			ID:     uuid.NewString(),
			Kind:   QuestionKind(q.Type),
			Prompt: q.Question,
			Marks:  marks,
		}
		if question.Kind == QuestionKindMultipleChoice {
			question.Options = q.Options
			question.CorrectOption = q.CorrectOption
		}
		for _, tc := range q.TestCases {
			question.TestCases = append(question.TestCases, TestCase{
				ID:       uuid.NewString(),
				Input:    tc.Input,
				Expected: tc.Expected,
				IsPublic: tc.IsPublic,
			})
		}
		def.Questions = append(def.Questions, question)
	}
	return def
}
