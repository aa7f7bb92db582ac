package proctor

import (
	"sync"
	"time"
)

type clockState int

const (
	clockIdle clockState = iota
	clockRunning
	clockStopped
	clockExpired
)

// Clock is a one-shot countdown. Each tick decrements the remaining time by one
// second and reports it; when it reaches zero onExpire fires exactly once.
// Stopped and expired are terminal: a clock never restarts.
type Clock struct {
	mu        sync.Mutex
	interval  time.Duration
	state     clockState
	remaining int
	stop      chan struct{}
}

// NewClock returns a clock ticking every interval. Production sessions use one second.
func NewClock(interval time.Duration) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{interval: interval}
}

// Start begins the countdown. It returns false if the clock was already started,
// stopped or expired, in which case nothing happens.
func (c *Clock) Start(durationSeconds int, onTick func(remaining int), onExpire func()) bool {
	c.mu.Lock()
	if c.state != clockIdle {
		c.mu.Unlock()
		return false
	}
	c.state = clockRunning
	c.remaining = durationSeconds
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.run(stop, onTick, onExpire)
	return true
}

func (c *Clock) run(stop <-chan struct{}, onTick func(int), onExpire func()) {
	// A non-positive duration has nothing to count down.
	if c.expireIfDone() {
		if onExpire != nil {
			onExpire()
		}
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != clockRunning {
				c.mu.Unlock()
				return
			}
			c.remaining--
			remaining := c.remaining
			expired := remaining <= 0
			if expired {
				c.state = clockExpired
			}
			c.mu.Unlock()

			if onTick != nil {
				onTick(remaining)
			}
			if expired {
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}
}

func (c *Clock) expireIfDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == clockRunning && c.remaining <= 0 {
		c.remaining = 0
		c.state = clockExpired
		return true
	}
	return false
}

// Stop cancels pending ticks. Stopping an idle, stopped or expired clock is a no-op.
// Stop never waits for the tick goroutine, so callbacks may call it.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case clockRunning:
		c.state = clockStopped
		close(c.stop)
	case clockIdle:
		c.state = clockStopped
	}
}

// Remaining returns the seconds left on the clock.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Expired reports whether the countdown reached zero.
func (c *Clock) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == clockExpired
}
