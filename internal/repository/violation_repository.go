package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/uexam-backend/internal/model"
)

// ViolationRepository reads persisted proctoring violations.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// ListByStudent returns a student's violations for a test in record order.
func (r *ViolationRepository) ListByStudent(ctx context.Context, testID uuid.UUID, studentID int) ([]model.ViolationEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT type, message, severity, recorded_at
		 FROM test_violations
		 WHERE test_id = $1 AND student_id = $2
		 ORDER BY recorded_at, id`, testID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ViolationEvent
	for rows.Next() {
		var ev model.ViolationEvent
		if err := rows.Scan(&ev.Type, &ev.Message, &ev.Severity, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountByTest returns the violation count per student for a test.
func (r *ViolationRepository) CountByTest(ctx context.Context, testID uuid.UUID) (map[int]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*) FROM test_violations
		 WHERE test_id = $1 GROUP BY student_id`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var studentID, n int
		if err := rows.Scan(&studentID, &n); err != nil {
			return nil, err
		}
		counts[studentID] = n
	}
	return counts, rows.Err()
}
