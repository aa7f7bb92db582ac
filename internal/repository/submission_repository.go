package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/uexam-backend/internal/model"
)

// SubmissionRepository reads graded submissions. Writes go through the submission worker.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// ListByTest returns all submissions of a test, best score first.
func (r *SubmissionRepository) ListByTest(ctx context.Context, testID uuid.UUID) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, student_id, score, max_score, elapsed_seconds,
		        violation_count, high_violations, reason, submitted_at
		 FROM submissions WHERE test_id = $1
		 ORDER BY score DESC, submitted_at`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		var s model.Submission
		if err := rows.Scan(&s.ID, &s.TestID, &s.StudentID, &s.Score, &s.MaxScore, &s.ElapsedSeconds,
			&s.ViolationCount, &s.HighViolations, &s.Reason, &s.SubmittedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Exists reports whether the student already has a persisted submission for the test.
func (r *SubmissionRepository) Exists(ctx context.Context, testID uuid.UUID, studentID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE test_id = $1 AND student_id = $2)`,
		testID, studentID,
	).Scan(&exists)
	return exists, err
}
