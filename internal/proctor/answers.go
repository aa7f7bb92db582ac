package proctor

import (
	"sync"

	"github.com/stemsi/uexam-backend/internal/model"
)

// AnswerStore keeps one answer slot per question. Slots are created on first
// write, overwritten on later writes and never removed.
type AnswerStore struct {
	kinds map[string]model.QuestionKind

	mu      sync.RWMutex
	answers map[string]model.Answer
}

// NewAnswerStore creates a store for the given questions.
func NewAnswerStore(questions []model.Question) *AnswerStore {
	kinds := make(map[string]model.QuestionKind, len(questions))
	for _, q := range questions {
		kinds[q.ID] = q.Kind
	}
	return &AnswerStore{
		kinds:   kinds,
		answers: make(map[string]model.Answer, len(questions)),
	}
}

// SetAnswer overwrites the slot for questionID. It fails with ErrTypeKindMismatch,
// leaving the store untouched, when the answer kind differs from the question's.
func (s *AnswerStore) SetAnswer(questionID string, answer model.Answer) error {
	if answer == nil {
		return ErrNilAnswer
	}
	kind, ok := s.kinds[questionID]
	if !ok {
		return ErrUnknownQuestion
	}
	if answer.Kind() != kind {
		return ErrTypeKindMismatch
	}

	if ca, ok := answer.(model.CodingAnswer); ok {
		ca.Results = append([]model.TestResult(nil), ca.Results...)
		answer = ca
	}

	s.mu.Lock()
	s.answers[questionID] = answer
	s.mu.Unlock()
	return nil
}

// GetAnswer returns the current answer; ok is false when the question is unanswered.
func (s *AnswerStore) GetAnswer(questionID string) (model.Answer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[questionID]
	return a, ok
}

// CountAnswered counts questions holding a non-empty answer. It is recomputed on every call.
func (s *AnswerStore) CountAnswered(questions []model.Question) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, q := range questions {
		if a, ok := s.answers[q.ID]; ok && !a.IsEmpty() {
			n++
		}
	}
	return n
}

// Snapshot copies the current answers.
func (s *AnswerStore) Snapshot() model.AnswerSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(model.AnswerSet, len(s.answers))
	for id, a := range s.answers {
		out[id] = a
	}
	return out
}
