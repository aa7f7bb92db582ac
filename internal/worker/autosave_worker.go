package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/model"
)

// upsertAnswerSQL keeps the newest save when retries arrive out of order.
const upsertAnswerSQL = `
	INSERT INTO session_answers (test_id, student_id, question_id, answer, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (test_id, student_id, question_id) DO UPDATE
	SET answer = EXCLUDED.answer, updated_at = EXCLUDED.updated_at
	WHERE session_answers.updated_at <= EXCLUDED.updated_at`

// AutosaveWorker consumes the answer queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	b    *batcher[model.AnswerRecord]
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	w := &AutosaveWorker{pool: pool}
	w.b = &batcher[model.AnswerRecord]{
		queue:          redisQueue{rdb: rdb, key: config.WorkerKey.PersistAnswersQueue},
		size:           BatchSize,
		timeout:        BatchTimeout,
		poll:           PollTimeout,
		decode:         decodeAnswerRecord,
		insertBulk:     w.bulkUpsert,
		insertOne:      w.upsertOne,
		errBackoff:     3 * time.Second,
		requeueBackoff: 5 * time.Second,
		log:            log.With().Str("component", "autosave_worker").Logger(),
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

func decodeAnswerRecord(raw string) (model.AnswerRecord, error) {
	var rec model.AnswerRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, err
	}
	if rec.QuestionID == "" {
		return rec, errors.New("answer record has no question id")
	}
	// Reject answers the session could not restore.
	if _, err := model.UnmarshalAnswer(rec.Answer); err != nil {
		return rec, fmt.Errorf("answer %s: %w", rec.QuestionID, err)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	return rec, nil
}

func (w *AutosaveWorker) bulkUpsert(ctx context.Context, batch []model.AnswerRecord) error {
	b := &pgx.Batch{}
	for _, r := range batch {
		b.Queue(upsertAnswerSQL, r.TestID, r.StudentID, r.QuestionID, []byte(r.Answer), r.SavedAt)
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *AutosaveWorker) upsertOne(ctx context.Context, r model.AnswerRecord) error {
	_, err := w.pool.Exec(ctx, upsertAnswerSQL, r.TestID, r.StudentID, r.QuestionID, []byte(r.Answer), r.SavedAt)
	return classify(err)
}
