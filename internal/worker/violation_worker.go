package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/model"
)

// ViolationWorker consumes the violation queue and bulk-copies events into test_violations.
type ViolationWorker struct {
	pool *pgxpool.Pool
	b    *batcher[model.ViolationRecord]
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	w := &ViolationWorker{pool: pool}
	w.b = &batcher[model.ViolationRecord]{
		queue:          redisQueue{rdb: rdb, key: config.WorkerKey.PersistViolationsQueue},
		size:           BatchSize,
		timeout:        BatchTimeout,
		poll:           PollTimeout,
		decode:         decodeViolation,
		insertBulk:     w.bulkInsert,
		insertOne:      w.insertOne,
		errBackoff:     3 * time.Second,
		requeueBackoff: 2 * time.Second,
		log:            log.With().Str("component", "violation_worker").Logger(),
	}
	return w
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.b.run(ctx)
}

func decodeViolation(raw string) (model.ViolationRecord, error) {
	var rec model.ViolationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return rec, err
	}
	if !rec.Violation.Type.Valid() || !rec.Violation.Severity.Valid() {
		return rec, fmt.Errorf("unknown violation %q/%q", rec.Violation.Type, rec.Violation.Severity)
	}
	if rec.Violation.Timestamp.IsZero() {
		rec.Violation.Timestamp = time.Now()
	}
	return rec, nil
}

func violationRow(r model.ViolationRecord) []interface{} {
	v := r.Violation
	return []interface{}{r.TestID, r.StudentID, string(v.Type), v.Message, string(v.Severity), v.Timestamp}
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []model.ViolationRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, r := range batch {
		rows = append(rows, violationRow(r))
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"test_violations"},
		[]string{"test_id", "student_id", "type", "message", "severity", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *ViolationWorker) insertOne(ctx context.Context, r model.ViolationRecord) error {
	_, err := w.pool.Exec(ctx,
		`INSERT INTO test_violations (test_id, student_id, type, message, severity, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		violationRow(r)...,
	)
	return classify(err)
}
