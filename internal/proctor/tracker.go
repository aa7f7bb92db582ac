package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
)

const (
	forwardBuffer  = 64
	forwardTimeout = 5 * time.Second
)

// Collector receives every recorded violation. Implementations may be slow or
// fail; the tracker forwards asynchronously and only logs failures.
type Collector interface {
	Collect(ctx context.Context, testID uuid.UUID, studentID int, event model.ViolationEvent) error
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	TestID    uuid.UUID
	StudentID int
	Collector Collector
	Log       zerolog.Logger
	// OnRecord is called after every append, outside the tracker's lock.
	OnRecord func(model.ViolationEvent)
	Now      func() time.Time
}

// Tracker owns a session's append-only violation log.
type Tracker struct {
	testID    uuid.UUID
	studentID int
	collector Collector
	onRecord  func(model.ViolationEvent)
	now       func() time.Time
	log       zerolog.Logger

	mu      sync.RWMutex
	events  []model.ViolationEvent
	forward chan model.ViolationEvent
	closed  bool

	active  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	senders sync.WaitGroup
}

// NewTracker creates an active tracker and starts its forwarder.
func NewTracker(cfg TrackerConfig) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		testID:    cfg.TestID,
		studentID: cfg.StudentID,
		collector: cfg.Collector,
		onRecord:  cfg.OnRecord,
		now:       now,
		log:       cfg.Log.With().Str("component", "violation_tracker").Logger(),
		forward:   make(chan model.ViolationEvent, forwardBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	t.active.Store(true)

	t.senders.Add(1)
	go t.forwardLoop()
	return t
}

// RecordViolation appends an event to the log. It never fails and never drops:
// forwarding to the collector happens off the caller's path.
func (t *Tracker) RecordViolation(vType model.ViolationType, message string, severity model.Severity) model.ViolationEvent {
	ev, _ := t.record(vType, message, severity, false)
	return ev
}

// detected records a detector finding unless the tracker was stopped. The check
// and the append share the lock Stop takes, so nothing lands after Stop returns.
func (t *Tracker) detected(vType model.ViolationType, message string, severity model.Severity) {
	t.record(vType, message, severity, true)
}

func (t *Tracker) record(vType model.ViolationType, message string, severity model.Severity, onlyActive bool) (model.ViolationEvent, bool) {
	ev := model.ViolationEvent{
		Type:      vType,
		Message:   message,
		Timestamp: t.now(),
		Severity:  severity,
	}

	t.mu.Lock()
	if onlyActive && t.closed {
		t.mu.Unlock()
		return ev, false
	}
	t.events = append(t.events, ev)
	if t.closed {
		t.senders.Add(1)
		go func() {
			defer t.senders.Done()
			t.send(ev)
		}()
	} else {
		select {
		case t.forward <- ev:
		default:
			t.senders.Add(1)
			go func() {
				defer t.senders.Done()
				t.send(ev)
			}()
		}
	}
	t.mu.Unlock()

	if t.onRecord != nil {
		t.onRecord(ev)
	}
	return ev, true
}

func (t *Tracker) forwardLoop() {
	defer t.senders.Done()
	for ev := range t.forward {
		t.send(ev)
	}
}

func (t *Tracker) send(ev model.ViolationEvent) {
	if t.collector == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	if err := t.collector.Collect(ctx, t.testID, t.studentID, ev); err != nil {
		t.log.Error().
			Err(err).
			Str("type", string(ev.Type)).
			Msg("Failed to forward violation")
	}
}

// Attach wires the visibility and fullscreen detectors to the environment.
// A nil environment leaves the tracker without passive detectors.
func (t *Tracker) Attach(env EnvironmentSignals) {
	if env == nil {
		return
	}
	env.OnVisibilityChange(func(hidden bool) {
		if hidden {
			t.detected(model.ViolationTabSwitch, "Student switched tabs or minimized window", model.SeverityHigh)
		}
	})
	env.OnFullscreenChange(func(fullscreen bool) {
		if !fullscreen {
			t.detected(model.ViolationFullscreenExit, "Student exited fullscreen mode", model.SeverityHigh)
		}
	})
}

// StartDetector polls an anomaly detector every interval until the tracker stops.
// Detector errors, such as a missing camera permission, are logged and skipped.
func (t *Tracker) StartDetector(detector AnomalyDetector, interval time.Duration) {
	if detector == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
				anomalies, err := detector.Detect(t.ctx)
				if err != nil {
					t.log.Debug().Err(err).Msg("Anomaly detector unavailable")
					continue
				}
				if !t.active.Load() {
					return
				}
				for _, a := range anomalies {
					t.detected(a.Type, a.Message, a.Severity)
				}
			}
		}
	}()
}

// Stop deactivates the detectors. The log remains readable, explicit
// RecordViolation calls keep appending and queued events are still forwarded.
func (t *Tracker) Stop() {
	t.active.Store(false)
	t.cancel()

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.forward)
	}
	t.mu.Unlock()
}

// Active reports whether the detectors are still running.
func (t *Tracker) Active() bool {
	return t.active.Load()
}

// Flush waits until every recorded event has been handed to the collector.
// Only meaningful after Stop.
func (t *Tracker) Flush() {
	t.senders.Wait()
}

// Events returns a copy of the log in record order.
func (t *Tracker) Events() []model.ViolationEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.ViolationEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of recorded events.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Summary aggregates the log by severity and type.
func (t *Tracker) Summary() model.ViolationSummary {
	return model.SummarizeViolations(t.Events())
}
