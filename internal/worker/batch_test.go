package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type memQueue struct {
	mu     sync.Mutex
	items  []string
	pushed []string
}

func (q *memQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		it := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return it, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Millisecond):
		return "", redis.Nil
	}
}

func (q *memQueue) Push(_ context.Context, items ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed = append(q.pushed, items...)
	return nil
}

type recordingSink struct {
	mu        sync.Mutex
	bulkErr   error
	oneErr    func(int) error
	bulk      [][]int
	one       []int
	persisted []int
}

func (s *recordingSink) insertBulk(_ context.Context, batch []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulk = append(s.bulk, append([]int(nil), batch...))
	return s.bulkErr
}

func (s *recordingSink) insertOne(_ context.Context, v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.one = append(s.one, v)
	if s.oneErr != nil {
		return s.oneErr(v)
	}
	return nil
}

func (s *recordingSink) markPersisted(_ context.Context, batch []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = append(s.persisted, batch...)
}

func newTestBatcher(q queue, sink *recordingSink, size int) *batcher[int] {
	return &batcher[int]{
		queue:   q,
		size:    size,
		timeout: time.Hour,
		poll:    time.Millisecond,
		decode: func(raw string) (int, error) {
			return strconv.Atoi(raw)
		},
		insertBulk: sink.insertBulk,
		insertOne:  sink.insertOne,
		persisted:  sink.markPersisted,
		log:        zerolog.Nop(),
	}
}

func runUntil(t *testing.T, b *batcher[int], cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if !cond() {
		t.Fatal("condition not reached before deadline")
	}
}

func TestBatcherFlushesFullBatches(t *testing.T) {
	q := &memQueue{items: []string{"1", "2", "oops", "3", "4"}}
	sink := &recordingSink{}
	b := newTestBatcher(q, sink, 2)

	runUntil(t, b, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.persisted) == 4
	})

	if len(sink.bulk) != 2 || fmt.Sprint(sink.bulk) != "[[1 2] [3 4]]" {
		t.Fatalf("bulk batches = %v", sink.bulk)
	}
	if len(sink.one) != 0 {
		t.Fatalf("fallback used without bulk failure: %v", sink.one)
	}
}

func TestBatcherFlushesOnShutdown(t *testing.T) {
	q := &memQueue{items: []string{"7"}}
	sink := &recordingSink{}
	b := newTestBatcher(q, sink, 50)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.run(ctx)
		close(done)
	}()
	for {
		q.mu.Lock()
		empty := len(q.items) == 0
		q.mu.Unlock()
		if empty {
			break
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)
	cancel()
	<-done

	if fmt.Sprint(sink.persisted) != "[7]" {
		t.Fatalf("persisted = %v, want [7]", sink.persisted)
	}
}

func TestBatcherFallbackDropsAndRequeues(t *testing.T) {
	q := &memQueue{items: []string{"1", "2", "3"}}
	sink := &recordingSink{
		bulkErr: errors.New("copy failed"),
		oneErr: func(v int) error {
			switch v {
			case 2:
				return fmt.Errorf("%w: bad row", errDrop)
			case 3:
				return errors.New("connection refused")
			}
			return nil
		},
	}
	b := newTestBatcher(q, sink, 3)

	runUntil(t, b, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.pushed) == 1
	})

	if fmt.Sprint(sink.one) != "[1 2 3]" {
		t.Fatalf("row-by-row = %v", sink.one)
	}
	if fmt.Sprint(sink.persisted) != "[1]" {
		t.Fatalf("persisted = %v, want [1]", sink.persisted)
	}
	if q.pushed[0] != "3" {
		t.Fatalf("requeued %v, want [3]", q.pushed)
	}
}
