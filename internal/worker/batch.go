// Package worker drains the Redis persistence queues into PostgreSQL.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// errDrop marks an item that can never be persisted. It is logged and discarded
// instead of requeued.
var errDrop = errors.New("unpersistable item")

// queue is a FIFO of raw JSON items.
type queue interface {
	// Pop blocks up to timeout and returns redis.Nil when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) (string, error)
	Push(ctx context.Context, items ...string) error
}

type redisQueue struct {
	rdb *redis.Client
	key string
}

func (q redisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		return "", err
	}
	if len(result) < 2 {
		return "", redis.Nil
	}
	return result[1], nil
}

func (q redisQueue) Push(ctx context.Context, items ...string) error {
	if len(items) == 0 {
		return nil
	}
	pipe := q.rdb.Pipeline()
	for _, item := range items {
		pipe.RPush(ctx, q.key, item)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// item keeps the raw form of a decoded payload so it can be requeued untouched.
type item[T any] struct {
	raw   string
	value T
}

// batcher pops items from a queue and persists them in batches: bulk insert
// first, then row-by-row, then requeue whatever still failed.
type batcher[T any] struct {
	queue   queue
	size    int
	timeout time.Duration
	poll    time.Duration

	decode     func(raw string) (T, error)
	insertBulk func(ctx context.Context, batch []T) error
	insertOne  func(ctx context.Context, v T) error
	// persisted, if set, runs after items reached the database.
	persisted func(ctx context.Context, batch []T)

	errBackoff     time.Duration
	requeueBackoff time.Duration
	log            zerolog.Logger
}

func (b *batcher[T]) run(ctx context.Context) {
	b.log.Info().Msg("Worker started")

	buffer := make([]item[T], 0, b.size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= b.size || time.Since(lastFlush) >= b.timeout) {
			b.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		raw, err := b.queue.Pop(ctx, b.poll)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Msg("Redis connection error, backing off")
			sleep(ctx, b.errBackoff)
			continue
		}

		v, err := b.decode(raw)
		if err != nil {
			b.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed payload")
			continue
		}
		buffer = append(buffer, item[T]{raw: raw, value: v})
	}
}

func (b *batcher[T]) flushSafe(ctx context.Context, batch []item[T]) {
	if len(batch) == 0 {
		return
	}

	values := make([]T, len(batch))
	for i, it := range batch {
		values[i] = it.value
	}

	err := b.insertBulk(ctx, values)
	if err == nil {
		b.afterPersist(ctx, values)
		return
	}
	b.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var (
		requeue []string
		stored  []T
	)
	for _, it := range batch {
		err := b.insertOne(ctx, it.value)
		switch {
		case err == nil:
			stored = append(stored, it.value)
		case errors.Is(err, errDrop):
			b.log.Error().Err(err).Str("data", it.raw).Msg("Dropping unpersistable item")
		default:
			b.log.Error().Err(err).Msg("Insert failed, requeueing")
			requeue = append(requeue, it.raw)
		}
	}

	b.afterPersist(ctx, stored)
	if len(requeue) > 0 {
		b.requeue(ctx, requeue)
	}
}

func (b *batcher[T]) afterPersist(ctx context.Context, values []T) {
	if b.persisted != nil && len(values) > 0 {
		b.persisted(ctx, values)
	}
}

func (b *batcher[T]) requeue(ctx context.Context, raws []string) {
	if err := b.queue.Push(context.WithoutCancel(ctx), raws...); err != nil {
		b.log.Error().Err(err).Int("count", len(raws)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(raws)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleep(ctx, b.requeueBackoff)
}

func (b *batcher[T]) shutdown(buffer []item[T]) {
	b.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.flushSafe(shutdownCtx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
