package worker

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/uexam-backend/internal/model"
)

func TestDecodeViolation(t *testing.T) {
	rec := model.ViolationRecord{
		TestID:    uuid.New(),
		StudentID: 3,
		Violation: model.ViolationEvent{Type: model.ViolationNoFace, Severity: model.SeverityMedium, Message: "no face"},
	}
	raw, _ := json.Marshal(rec)

	got, err := decodeViolation(string(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Violation.Timestamp.IsZero() {
		t.Fatal("missing timestamp was not filled")
	}
	if row := violationRow(got); len(row) != 6 || row[2] != "no_face" || row[4] != "medium" {
		t.Fatalf("unexpected row %v", row)
	}

	rec.Violation.Type = "telepathy"
	raw, _ = json.Marshal(rec)
	if _, err := decodeViolation(string(raw)); err == nil {
		t.Fatal("unknown violation type accepted")
	}
}

func TestDecodeAnswerRecord(t *testing.T) {
	answer, _ := model.MarshalAnswer(model.MCQAnswer{SelectedOption: "1"})
	good, _ := json.Marshal(model.AnswerRecord{TestID: uuid.New(), StudentID: 1, QuestionID: "q1", Answer: answer})
	if _, err := decodeAnswerRecord(string(good)); err != nil {
		t.Fatalf("decode: %v", err)
	}

	untagged, _ := json.Marshal(model.AnswerRecord{TestID: uuid.New(), StudentID: 1, QuestionID: "q1", Answer: json.RawMessage(`{"value":"1"}`)})
	if _, err := decodeAnswerRecord(string(untagged)); err == nil {
		t.Fatal("untagged answer accepted")
	}
	noQuestion, _ := json.Marshal(model.AnswerRecord{TestID: uuid.New(), Answer: answer})
	if _, err := decodeAnswerRecord(string(noQuestion)); err == nil {
		t.Fatal("answer without question accepted")
	}
}

func TestGradeSubmission(t *testing.T) {
	def := &model.TestDefinition{
		ID:              uuid.New(),
		DurationMinutes: 30,
		Questions: []model.Question{
			{ID: "q1", Kind: model.QuestionKindMultipleChoice, Marks: 2, Options: []string{"a", "b"}, CorrectOption: "1"},
			{ID: "q2", Kind: model.QuestionKindMultipleChoice, Marks: 2, Options: []string{"a", "b"}, CorrectOption: "0"},
			{ID: "q3", Kind: model.QuestionKindCoding, Marks: 6, TestCases: []model.TestCase{{ID: "t1"}}},
		},
	}
	p := &model.SubmissionPayload{
		TestID:    def.ID,
		StudentID: 4,
		Answers: model.AnswerSet{
			"q1": model.MCQAnswer{SelectedOption: "1"},
			"q2": model.MCQAnswer{SelectedOption: "1"},
			"q3": model.CodingAnswer{SourceCode: "x", Score: 50},
		},
		ElapsedSeconds: 900,
		Violations: []model.ViolationEvent{
			{Type: model.ViolationTabSwitch, Severity: model.SeverityHigh},
			{Type: model.ViolationNoFace, Severity: model.SeverityLow},
		},
		Reason:      model.SubmitReasonExpired,
		SubmittedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	row, err := gradeSubmission(def, p)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if row.score != 5 || row.maxScore != 10 {
		t.Fatalf("score = %v/%d, want 5/10", row.score, row.maxScore)
	}
	if row.violations != 2 || row.highViolations != 1 || row.reason != "expired" || row.elapsedSeconds != 900 {
		t.Fatalf("unexpected row %+v", row)
	}

	var perQuestion map[string]float64
	if err := json.Unmarshal(row.perQuestion, &perQuestion); err != nil {
		t.Fatalf("per_question: %v", err)
	}
	if perQuestion["q1"] != 2 || perQuestion["q2"] != 0 || perQuestion["q3"] != 3 {
		t.Fatalf("per_question = %v", perQuestion)
	}

	var answers model.AnswerSet
	if err := json.Unmarshal(row.answers, &answers); err != nil {
		t.Fatalf("answers: %v", err)
	}
	if answers.CountKind(model.QuestionKindCoding) != 1 {
		t.Fatal("stored answers lost their kind tags")
	}
	if len(row.args()) != 11 {
		t.Fatalf("args = %d, want 11", len(row.args()))
	}
}

func TestDecodeSubmissionRejectsAnonymous(t *testing.T) {
	raw, _ := json.Marshal(model.SubmissionPayload{TestID: uuid.New()})
	if _, err := decodeSubmission(string(raw)); err == nil {
		t.Fatal("submission without student accepted")
	}
	raw, _ = json.Marshal(model.SubmissionPayload{TestID: uuid.New(), StudentID: 2})
	p, err := decodeSubmission(string(raw))
	if err != nil || p.Answers == nil {
		t.Fatalf("decode = %+v, %v", p, err)
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("nil error classified")
	}
	if err := classify(&pgconn.PgError{Code: "23503", Message: "fk"}); !errors.Is(err, errDrop) {
		t.Fatalf("constraint violation should drop, got %v", err)
	}
	if err := classify(&pgconn.PgError{Code: "22P02", Message: "bad uuid"}); !errors.Is(err, errDrop) {
		t.Fatalf("data exception should drop, got %v", err)
	}
	if err := classify(&pgconn.PgError{Code: "57P01"}); errors.Is(err, errDrop) {
		t.Fatal("admin shutdown should stay retryable")
	}
	if err := classify(errors.New("conn reset")); errors.Is(err, errDrop) {
		t.Fatal("network error should stay retryable")
	}
}
