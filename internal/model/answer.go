package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Answer is the tagged union of answer kinds. Only MCQAnswer and CodingAnswer implement it.
type Answer interface {
	Kind() QuestionKind
	// IsEmpty reports whether the answer carries no usable response.
	IsEmpty() bool
	isAnswer()
}

// MCQAnswer is the selected option of a multiple-choice question, as a string-encoded index.
type MCQAnswer struct {
	SelectedOption string `json:"value"`
}

func (MCQAnswer) Kind() QuestionKind { return QuestionKindMultipleChoice }
func (a MCQAnswer) IsEmpty() bool    { return a.SelectedOption == "" }
func (MCQAnswer) isAnswer()          {}

// CodingAnswer is a finalized code submission together with its graded results.
type CodingAnswer struct {
	SourceCode string       `json:"code"`
	Language   string       `json:"language"`
	LanguageID int          `json:"language_id"`
	Results    []TestResult `json:"results"`
	Score      int          `json:"score"`
}

func (CodingAnswer) Kind() QuestionKind { return QuestionKindCoding }
func (a CodingAnswer) IsEmpty() bool    { return strings.TrimSpace(a.SourceCode) == "" }
func (CodingAnswer) isAnswer()          {}

// answerEnvelope is the JSON form of an Answer; Type carries the tag.
type answerEnvelope struct {
	Type QuestionKind `json:"type"`

	Value string `json:"value,omitempty"`

	Code       string       `json:"code,omitempty"`
	Language   string       `json:"language,omitempty"`
	LanguageID int          `json:"language_id,omitempty"`
	Results    []TestResult `json:"results,omitempty"`
	Score      int          `json:"score,omitempty"`
}

// MarshalAnswer encodes an answer with its type tag.
func MarshalAnswer(a Answer) ([]byte, error) {
	switch v := a.(type) {
	case MCQAnswer:
		return json.Marshal(answerEnvelope{Type: QuestionKindMultipleChoice, Value: v.SelectedOption})
	case *MCQAnswer:
		return MarshalAnswer(*v)
	case CodingAnswer:
		return json.Marshal(answerEnvelope{
			Type:       QuestionKindCoding,
			Code:       v.SourceCode,
			Language:   v.Language,
			LanguageID: v.LanguageID,
			Results:    v.Results,
			Score:      v.Score,
		})
	case *CodingAnswer:
		return MarshalAnswer(*v)
	default:
		return nil, fmt.Errorf("unsupported answer type %T", a)
	}
}

// UnmarshalAnswer decodes a tagged answer.
func UnmarshalAnswer(data []byte) (Answer, error) {
	var env answerEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case QuestionKindMultipleChoice:
		return MCQAnswer{SelectedOption: env.Value}, nil
	case QuestionKindCoding:
		return CodingAnswer{
			SourceCode: env.Code,
			Language:   env.Language,
			LanguageID: env.LanguageID,
			Results:    env.Results,
			Score:      env.Score,
		}, nil
	default:
		return nil, fmt.Errorf("unknown answer type %q", env.Type)
	}
}

// AnswerSet maps question ids to answers.
type AnswerSet map[string]Answer

func (s AnswerSet) MarshalJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(s))
	for id, a := range s {
		b, err := MarshalAnswer(a)
		if err != nil {
			return nil, fmt.Errorf("answer %s: %w", id, err)
		}
		raw[id] = b
	}
	return json.Marshal(raw)
}

func (s *AnswerSet) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(AnswerSet, len(raw))
	for id, b := range raw {
		a, err := UnmarshalAnswer(b)
		if err != nil {
			return fmt.Errorf("answer %s: %w", id, err)
		}
		out[id] = a
	}
	*s = out
	return nil
}

// CountKind returns how many answers of the given kind the set holds.
func (s AnswerSet) CountKind(kind QuestionKind) int {
	n := 0
	for _, a := range s {
		if a.Kind() == kind {
			n++
		}
	}
	return n
}
