package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/service"
)

const insertSubmissionSQL = `
	INSERT INTO submissions (test_id, student_id, score, max_score, elapsed_seconds,
	                         violation_count, high_violations, reason, answers, per_question, submitted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (test_id, student_id) DO NOTHING`

// DefinitionLoader provides the full test definition used for grading.
type DefinitionLoader interface {
	GetDefinition(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error)
}

// SubmissionWorker grades queued submissions and stores them. A student keeps
// their first stored submission.
type SubmissionWorker struct {
	pool  *pgxpool.Pool
	rdb   *redis.Client
	tests DefinitionLoader
	log   zerolog.Logger
	b     *batcher[*model.SubmissionPayload]
}

// NewSubmissionWorker creates a new SubmissionWorker.
func NewSubmissionWorker(pool *pgxpool.Pool, rdb *redis.Client, tests DefinitionLoader, log zerolog.Logger) *SubmissionWorker {
	w := &SubmissionWorker{
		pool:  pool,
		rdb:   rdb,
		tests: tests,
		log:   log.With().Str("component", "submission_worker").Logger(),
	}
	w.b = &batcher[*model.SubmissionPayload]{
		queue:          redisQueue{rdb: rdb, key: config.WorkerKey.PersistSubmissionsQueue},
		size:           BatchSize,
		timeout:        BatchTimeout,
		poll:           PollTimeout,
		decode:         decodeSubmission,
		insertBulk:     w.bulkInsert,
		insertOne:      w.insertOne,
		persisted:      w.clearAutosavedAnswers,
		errBackoff:     3 * time.Second,
		requeueBackoff: 2 * time.Second,
		log:            w.log,
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *SubmissionWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

func decodeSubmission(raw string) (*model.SubmissionPayload, error) {
	var p model.SubmissionPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	if p.TestID == uuid.Nil || p.StudentID <= 0 {
		return nil, errors.New("submission without test or student")
	}
	if p.Answers == nil {
		p.Answers = model.AnswerSet{}
	}
	return &p, nil
}

// submissionRow is the graded form of a payload, in insertSubmissionSQL order.
type submissionRow struct {
	testID         uuid.UUID
	studentID      int
	score          float64
	maxScore       int
	elapsedSeconds int
	violations     int
	highViolations int
	reason         string
	answers        []byte
	perQuestion    []byte
	submittedAt    time.Time
}

func (r submissionRow) args() []interface{} {
	return []interface{}{
		r.testID, r.studentID, r.score, r.maxScore, r.elapsedSeconds,
		r.violations, r.highViolations, r.reason, r.answers, r.perQuestion, r.submittedAt,
	}
}

func gradeSubmission(def *model.TestDefinition, p *model.SubmissionPayload) (submissionRow, error) {
	grade := def.Grade(p.Answers)
	summary := model.SummarizeViolations(p.Violations)

	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return submissionRow{}, err
	}
	perQuestion, err := json.Marshal(grade.PerQuestion)
	if err != nil {
		return submissionRow{}, err
	}

	submittedAt := p.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	reason := p.Reason
	if reason == "" {
		reason = model.SubmitReasonManual
	}

	return submissionRow{
		testID:         p.TestID,
		studentID:      p.StudentID,
		score:          grade.Score,
		maxScore:       grade.MaxScore,
		elapsedSeconds: p.ElapsedSeconds,
		violations:     summary.Total,
		highViolations: summary.BySeverity[model.SeverityHigh],
		reason:         string(reason),
		answers:        answers,
		perQuestion:    perQuestion,
		submittedAt:    submittedAt,
	}, nil
}

func (w *SubmissionWorker) grade(ctx context.Context, p *model.SubmissionPayload) (submissionRow, error) {
	def, err := w.tests.GetDefinition(ctx, p.TestID)
	if err != nil {
		if errors.Is(err, service.ErrTestNotFound) {
			return submissionRow{}, fmt.Errorf("%w: test %s", errDrop, p.TestID)
		}
		return submissionRow{}, err
	}
	row, err := gradeSubmission(def, p)
	if err != nil {
		return submissionRow{}, fmt.Errorf("%w: %v", errDrop, err)
	}
	return row, nil
}

func (w *SubmissionWorker) bulkInsert(ctx context.Context, batch []*model.SubmissionPayload) error {
	b := &pgx.Batch{}
	for _, p := range batch {
		row, err := w.grade(ctx, p)
		if err != nil {
			// Let the row-by-row path sort out which item failed.
			return err
		}
		b.Queue(insertSubmissionSQL, row.args()...)
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	w.log.Info().Int("count", len(batch)).Msg("Submissions graded and stored")
	return nil
}

func (w *SubmissionWorker) insertOne(ctx context.Context, p *model.SubmissionPayload) error {
	row, err := w.grade(ctx, p)
	if err != nil {
		return err
	}
	tag, err := w.pool.Exec(ctx, insertSubmissionSQL, row.args()...)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		w.log.Warn().
			Str("test_id", p.TestID.String()).
			Int("student_id", p.StudentID).
			Msg("Duplicate submission ignored")
	}
	return nil
}

// clearAutosavedAnswers drops the Redis answer buffers of stored submissions.
func (w *SubmissionWorker) clearAutosavedAnswers(ctx context.Context, batch []*model.SubmissionPayload) {
	pipe := w.rdb.Pipeline()
	for _, p := range batch {
		pipe.Del(ctx, config.CacheKey.StudentAnswersKey(p.TestID.String(), p.StudentID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear autosaved answers")
	}
}
