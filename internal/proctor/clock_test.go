package proctor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestClockCountsDownAndExpiresOnce(t *testing.T) {
	c := NewClock(time.Millisecond)

	var (
		mu    sync.Mutex
		ticks []int
	)
	var expires atomic.Int32
	done := make(chan struct{})

	ok := c.Start(5, func(remaining int) {
		mu.Lock()
		ticks = append(ticks, remaining)
		mu.Unlock()
	}, func() {
		if expires.Add(1) == 1 {
			close(done)
		}
	})
	if !ok {
		t.Fatal("Start returned false on an idle clock")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("clock did not expire")
	}
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	want := []int{4, 3, 2, 1, 0}
	if len(ticks) != len(want) {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Fatalf("ticks = %v, want %v", ticks, want)
		}
	}
	if n := expires.Load(); n != 1 {
		t.Fatalf("onExpire fired %d times", n)
	}
	if !c.Expired() || c.Remaining() != 0 {
		t.Fatalf("expected expired clock at zero, remaining %d", c.Remaining())
	}

	// Terminal: restart and stop are no-ops.
	if c.Start(10, nil, nil) {
		t.Fatal("expired clock restarted")
	}
	c.Stop()
	if !c.Expired() {
		t.Fatal("Stop changed an expired clock")
	}
}

func TestClockStopPreventsExpiry(t *testing.T) {
	c := NewClock(5 * time.Millisecond)
	var expired atomic.Bool
	c.Start(1000, nil, func() { expired.Store(true) })

	time.Sleep(20 * time.Millisecond)
	c.Stop()
	left := c.Remaining()
	time.Sleep(30 * time.Millisecond)

	if c.Remaining() != left {
		t.Fatalf("clock kept ticking after Stop: %d -> %d", left, c.Remaining())
	}
	if expired.Load() || c.Expired() {
		t.Fatal("stopped clock expired")
	}
	c.Stop()
	if c.Start(10, nil, nil) {
		t.Fatal("stopped clock restarted")
	}
}

func TestClockZeroDurationExpiresImmediately(t *testing.T) {
	c := NewClock(time.Hour)
	done := make(chan struct{})
	c.Start(0, func(int) { t.Error("unexpected tick") }, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("zero-duration clock did not expire")
	}
}

func TestClockStopFromExpireCallback(t *testing.T) {
	c := NewClock(time.Millisecond)
	done := make(chan struct{})
	c.Start(1, nil, func() {
		c.Stop()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop inside onExpire blocked")
	}
}
