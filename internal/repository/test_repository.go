package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/uexam-backend/internal/model"
)

// ErrDuplicateLink is returned when a test link is already taken.
var ErrDuplicateLink = errors.New("test link already exists")

// TestRepository handles test definition data access.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// Create inserts a test with its questions and test cases in one transaction.
func (r *TestRepository) Create(ctx context.Context, def *model.TestDefinition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO tests (id, title, subject, test_link, department, degree, student_year,
		                    test_date, duration_minutes, total_marks, creator_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		def.ID, def.Title, def.Subject, def.TestLink, def.Department, def.Degree, def.StudentYear,
		def.Date, def.DurationMinutes, def.TotalMarks, def.CreatorID,
	).Scan(&def.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateLink
		}
		return fmt.Errorf("insert test: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range def.Questions {
		options, err := json.Marshal(nonNil(q.Options))
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		batch.Queue(
			`INSERT INTO questions (test_id, id, position, kind, prompt, marks, options, correct_option)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			def.ID, q.ID, i, q.Kind, q.Prompt, q.Marks, options, q.CorrectOption,
		)
		for j, tc := range q.TestCases {
			batch.Queue(
				`INSERT INTO test_cases (test_id, question_id, id, position, input, expected, is_public)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				def.ID, q.ID, tc.ID, j, tc.Input, tc.Expected, tc.IsPublic,
			)
		}
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID loads a full definition. It returns pgx.ErrNoRows for an unknown id.
func (r *TestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.TestDefinition, error) {
	def := &model.TestDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, subject, test_link, department, degree, student_year,
		        test_date, duration_minutes, total_marks, creator_id, created_at
		 FROM tests WHERE id = $1`, id,
	).Scan(&def.ID, &def.Title, &def.Subject, &def.TestLink, &def.Department, &def.Degree,
		&def.StudentYear, &def.Date, &def.DurationMinutes, &def.TotalMarks, &def.CreatorID, &def.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := r.loadQuestions(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// GetIDByLink resolves a share link to a test id. It returns pgx.ErrNoRows when unknown.
func (r *TestRepository) GetIDByLink(ctx context.Context, link string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT id FROM tests WHERE test_link = $1`, link).Scan(&id)
	return id, err
}

// ListByCreator returns the tests a teacher created, newest first, without questions.
func (r *TestRepository) ListByCreator(ctx context.Context, creatorID int) ([]model.TestDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, subject, test_link, department, degree, student_year,
		        test_date, duration_minutes, total_marks, creator_id, created_at
		 FROM tests WHERE creator_id = $1
		 ORDER BY created_at DESC`, creatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.TestDefinition
	for rows.Next() {
		var d model.TestDefinition
		if err := rows.Scan(&d.ID, &d.Title, &d.Subject, &d.TestLink, &d.Department, &d.Degree,
			&d.StudentYear, &d.Date, &d.DurationMinutes, &d.TotalMarks, &d.CreatorID, &d.CreatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, d)
	}
	return tests, rows.Err()
}

func (r *TestRepository) loadQuestions(ctx context.Context, def *model.TestDefinition) error {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, prompt, marks, options, correct_option
		 FROM questions WHERE test_id = $1
		 ORDER BY position`, def.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var (
			q       model.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.Kind, &q.Prompt, &q.Marks, &options, &q.CorrectOption); err != nil {
			return err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		if len(q.Options) == 0 {
			q.Options = nil
		}
		index[q.ID] = len(def.Questions)
		def.Questions = append(def.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	caseRows, err := r.pool.Query(ctx,
		`SELECT question_id, id, input, expected, is_public
		 FROM test_cases WHERE test_id = $1
		 ORDER BY question_id, position`, def.ID)
	if err != nil {
		return fmt.Errorf("list test cases: %w", err)
	}
	defer caseRows.Close()

	for caseRows.Next() {
		var (
			questionID string
			tc         model.TestCase
		)
		if err := caseRows.Scan(&questionID, &tc.ID, &tc.Input, &tc.Expected, &tc.IsPublic); err != nil {
			return err
		}
		if i, ok := index[questionID]; ok {
			def.Questions[i].TestCases = append(def.Questions[i].TestCases, tc)
		}
	}
	return caseRows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
