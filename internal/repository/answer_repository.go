package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/uexam-backend/internal/model"
)

// AnswerRepository reads autosaved session answers.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// ListByStudent returns the student's autosaved answers keyed by question id.
func (r *AnswerRepository) ListByStudent(ctx context.Context, testID uuid.UUID, studentID int) (model.AnswerSet, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM session_answers
		 WHERE test_id = $1 AND student_id = $2`, testID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(model.AnswerSet)
	for rows.Next() {
		var (
			questionID string
			raw        []byte
		)
		if err := rows.Scan(&questionID, &raw); err != nil {
			return nil, err
		}
		a, err := model.UnmarshalAnswer(raw)
		if err != nil {
			return nil, err
		}
		answers[questionID] = a
	}
	return answers, rows.Err()
}
