package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/proctor"
)

// ─── Violations ────────────────────────────────────────────────────────

// QueueCollector forwards violations to the persistence queue and announces
// them on the test's monitor channel.
type QueueCollector struct {
	rdb *redis.Client
}

// NewQueueCollector creates a new QueueCollector.
func NewQueueCollector(rdb *redis.Client) *QueueCollector {
	return &QueueCollector{rdb: rdb}
}

func (c *QueueCollector) Collect(ctx context.Context, testID uuid.UUID, studentID int, ev model.ViolationEvent) error {
	record, err := encodeViolation(testID, studentID, ev)
	if err != nil {
		return err
	}
	event, err := encodeMonitorEvent(model.MonitorEvent{
		Type:      model.MonitorViolation,
		TestID:    testID,
		StudentID: studentID,
		Violation: &ev,
		At:        ev.Timestamp,
	})
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, record)
	pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(testID.String()), event)
	_, err = pipe.Exec(ctx)
	return err
}

func encodeViolation(testID uuid.UUID, studentID int, ev model.ViolationEvent) ([]byte, error) {
	return json.Marshal(model.ViolationRecord{TestID: testID, StudentID: studentID, Violation: ev})
}

func encodeMonitorEvent(ev model.MonitorEvent) ([]byte, error) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return json.Marshal(ev)
}

// HTTPCollector posts violations to an external collector endpoint.
type HTTPCollector struct {
	url    string
	client *http.Client
}

// NewHTTPCollector creates an HTTPCollector for url.
func NewHTTPCollector(url string, timeout time.Duration) *HTTPCollector {
	return &HTTPCollector{url: url, client: &http.Client{Timeout: timeout}}
}

type violationPost struct {
	TestID    uuid.UUID            `json:"test_id"`
	StudentID int                  `json:"student_id"`
	Violation model.ViolationEvent `json:"violation"`
}

func (c *HTTPCollector) Collect(ctx context.Context, testID uuid.UUID, studentID int, ev model.ViolationEvent) error {
	body, err := json.Marshal(violationPost{TestID: testID, StudentID: studentID, Violation: ev})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post violation: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("violation collector responded %d", resp.StatusCode)
	}
	return nil
}

// MultiCollector fans a violation out to every collector and joins their errors.
type MultiCollector []proctor.Collector

func (m MultiCollector) Collect(ctx context.Context, testID uuid.UUID, studentID int, ev model.ViolationEvent) error {
	var errs []error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Collect(ctx, testID, studentID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ─── Submissions ───────────────────────────────────────────────────────

// QueueSubmitter hands submission payloads to the submission worker for grading.
type QueueSubmitter struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewQueueSubmitter creates a new QueueSubmitter.
func NewQueueSubmitter(rdb *redis.Client, log zerolog.Logger) *QueueSubmitter {
	return &QueueSubmitter{rdb: rdb, log: log.With().Str("component", "submitter").Logger()}
}

func (s *QueueSubmitter) Submit(ctx context.Context, p *model.SubmissionPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	event, err := encodeMonitorEvent(model.MonitorEvent{
		Type:      model.MonitorSubmitted,
		TestID:    p.TestID,
		StudentID: p.StudentID,
		Reason:    p.Reason,
		Answered:  len(p.Answers),
		At:        p.SubmittedAt,
	})
	if err != nil {
		return err
	}

	testID := p.TestID.String()
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistSubmissionsQueue, data)
	pipe.Set(ctx, config.CacheKey.StudentSubmittedKey(testID, p.StudentID), p.SubmittedAt.Unix(), 24*time.Hour)
	pipe.Publish(ctx, config.CacheKey.TestMonitorChannel(testID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue submission: %w", err)
	}

	s.log.Debug().Str("test_id", testID).Int("student_id", p.StudentID).Msg("Submission queued")
	return nil
}

// SubmittedIndex answers whether a student already submitted a test: first the
// marker QueueSubmitter sets, then the persisted submissions.
type SubmittedIndex struct {
	rdb   *redis.Client
	store SubmissionChecker
}

// NewSubmittedIndex creates a new SubmittedIndex. store may be nil.
func NewSubmittedIndex(rdb *redis.Client, store SubmissionChecker) *SubmittedIndex {
	return &SubmittedIndex{rdb: rdb, store: store}
}

func (i *SubmittedIndex) Exists(ctx context.Context, testID uuid.UUID, studentID int) (bool, error) {
	n, err := i.rdb.Exists(ctx, config.CacheKey.StudentSubmittedKey(testID.String(), studentID)).Result()
	if err == nil && n > 0 {
		return true, nil
	}
	if i.store == nil {
		return false, err
	}
	return i.store.Exists(ctx, testID, studentID)
}

// ─── Autosave ──────────────────────────────────────────────────────────

// QueueAutosaver mirrors accepted answers into a Redis hash and queues them
// for Postgres persistence.
type QueueAutosaver struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewQueueAutosaver creates a new QueueAutosaver. ttl bounds how long the Redis
// copy of a session's answers is kept.
func NewQueueAutosaver(rdb *redis.Client, ttl time.Duration) *QueueAutosaver {
	return &QueueAutosaver{rdb: rdb, ttl: ttl}
}

func (a *QueueAutosaver) SaveAnswer(ctx context.Context, testID uuid.UUID, studentID int, questionID string, answer model.Answer) error {
	raw, record, err := encodeAnswerRecord(testID, studentID, questionID, answer, time.Now())
	if err != nil {
		return err
	}

	key := config.CacheKey.StudentAnswersKey(testID.String(), studentID)
	pipe := a.rdb.Pipeline()
	pipe.HSet(ctx, key, questionID, raw)
	pipe.Expire(ctx, key, a.ttl)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, record)
	_, err = pipe.Exec(ctx)
	return err
}

func encodeAnswerRecord(testID uuid.UUID, studentID int, questionID string, answer model.Answer, at time.Time) ([]byte, []byte, error) {
	raw, err := model.MarshalAnswer(answer)
	if err != nil {
		return nil, nil, err
	}
	record, err := json.Marshal(model.AnswerRecord{
		TestID:     testID,
		StudentID:  studentID,
		QuestionID: questionID,
		Answer:     raw,
		SavedAt:    at,
	})
	if err != nil {
		return nil, nil, err
	}
	return raw, record, nil
}

// AnswerLister reads persisted answers.
type AnswerLister interface {
	ListByStudent(ctx context.Context, testID uuid.UUID, studentID int) (model.AnswerSet, error)
}

// RedisAnswerSource restores a student's saved answers, preferring the Redis
// hash and falling back to the database.
type RedisAnswerSource struct {
	rdb  *redis.Client
	repo AnswerLister
}

// NewRedisAnswerSource creates a new RedisAnswerSource. Either side may be nil.
func NewRedisAnswerSource(rdb *redis.Client, repo AnswerLister) *RedisAnswerSource {
	return &RedisAnswerSource{rdb: rdb, repo: repo}
}

func (s *RedisAnswerSource) LoadAnswers(ctx context.Context, testID uuid.UUID, studentID int) (model.AnswerSet, error) {
	if s.rdb != nil {
		fields, err := s.rdb.HGetAll(ctx, config.CacheKey.StudentAnswersKey(testID.String(), studentID)).Result()
		if err == nil && len(fields) > 0 {
			return decodeAnswerHash(fields), nil
		}
	}
	if s.repo == nil {
		return model.AnswerSet{}, nil
	}
	return s.repo.ListByStudent(ctx, testID, studentID)
}

// decodeAnswerHash skips fields that do not decode.
func decodeAnswerHash(fields map[string]string) model.AnswerSet {
	out := make(model.AnswerSet, len(fields))
	for qid, raw := range fields {
		a, err := model.UnmarshalAnswer([]byte(raw))
		if err != nil {
			continue
		}
		out[qid] = a
	}
	return out
}

// ─── Monitor ───────────────────────────────────────────────────────────

// MonitorPublisher publishes session lifecycle events on a test's monitor channel.
type MonitorPublisher struct {
	rdb *redis.Client
}

// NewMonitorPublisher creates a new MonitorPublisher.
func NewMonitorPublisher(rdb *redis.Client) *MonitorPublisher {
	return &MonitorPublisher{rdb: rdb}
}

func (p *MonitorPublisher) Announce(ctx context.Context, ev model.MonitorEvent) error {
	data, err := encodeMonitorEvent(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID.String()), data).Err()
}

// Subscribe follows a test's monitor channel. Payloads are the raw JSON
// published by Announce. The channel closes when ctx ends or stop is called.
func (p *MonitorPublisher) Subscribe(ctx context.Context, testID uuid.UUID) (<-chan string, func()) {
	pubsub := p.rdb.Subscribe(ctx, config.CacheKey.TestMonitorChannel(testID.String()))
	out := make(chan string, 16)
	done := make(chan struct{})

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
}
