package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
)

type fakeCollector struct {
	mu     sync.Mutex
	events []model.ViolationEvent
	err    error
	delay  time.Duration
}

func (f *fakeCollector) Collect(_ context.Context, _ uuid.UUID, _ int, ev model.ViolationEvent) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeCollector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type stubDetector struct {
	mu    sync.Mutex
	calls int
	out   []Anomaly
	err   error
}

func (d *stubDetector) Detect(context.Context) ([]Anomaly, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.out, d.err
}

func TestTrackerKeepsRecordOrder(t *testing.T) {
	col := &fakeCollector{}
	tr := NewTracker(TrackerConfig{TestID: uuid.New(), StudentID: 7, Collector: col, Log: zerolog.Nop()})

	types := []model.ViolationType{
		model.ViolationTabSwitch,
		model.ViolationFullscreenExit,
		model.ViolationNoFace,
		model.ViolationTabSwitch,
	}
	for _, vt := range types {
		tr.RecordViolation(vt, "msg", model.SeverityMedium)
	}

	events := tr.Events()
	if len(events) != len(types) {
		t.Fatalf("len = %d, want %d", len(events), len(types))
	}
	for i, vt := range types {
		if events[i].Type != vt {
			t.Fatalf("event %d = %s, want %s", i, events[i].Type, vt)
		}
	}

	tr.Stop()
	tr.Flush()
	if col.count() != len(types) {
		t.Fatalf("collector got %d events, want %d", col.count(), len(types))
	}
}

func TestTrackerSwallowsCollectorFailures(t *testing.T) {
	col := &fakeCollector{err: errors.New("collector down"), delay: 50 * time.Millisecond}
	tr := NewTracker(TrackerConfig{Collector: col, Log: zerolog.Nop()})

	start := time.Now()
	for i := 0; i < 3; i++ {
		tr.RecordViolation(model.ViolationTabSwitch, "x", model.SeverityHigh)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Fatal("RecordViolation waited on the collector")
	}
	if tr.Len() != 3 {
		t.Fatalf("Len = %d, want 3", tr.Len())
	}

	tr.Stop()
	tr.Flush()
	if col.count() != 3 {
		t.Fatalf("collector saw %d events, want 3", col.count())
	}
}

func TestTrackerAttachRecordsHighSeverity(t *testing.T) {
	bus := NewSignalBus()
	tr := NewTracker(TrackerConfig{Log: zerolog.Nop()})
	tr.Attach(bus)

	bus.Visibility(false)
	bus.Fullscreen(true)
	if tr.Len() != 0 {
		t.Fatal("benign signals recorded violations")
	}

	bus.Visibility(true)
	bus.Fullscreen(false)

	events := tr.Events()
	if len(events) != 2 {
		t.Fatalf("len = %d, want 2", len(events))
	}
	if events[0].Type != model.ViolationTabSwitch || events[0].Message != "Student switched tabs or minimized window" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].Type != model.ViolationFullscreenExit || events[1].Message != "Student exited fullscreen mode" {
		t.Fatalf("unexpected second event %+v", events[1])
	}
	for _, ev := range events {
		if ev.Severity != model.SeverityHigh {
			t.Fatalf("expected high severity, got %s", ev.Severity)
		}
	}
	if !tr.Summary().FlaggedForReview {
		t.Fatal("high severity violations should flag for review")
	}
}

func TestTrackerDetectorsStopWithTracker(t *testing.T) {
	bus := NewSignalBus()
	det := &stubDetector{out: []Anomaly{{Type: model.ViolationMultipleFaces, Message: "two faces", Severity: model.SeverityMedium}}}
	tr := NewTracker(TrackerConfig{Log: zerolog.Nop()})
	tr.Attach(bus)
	tr.StartDetector(det, time.Millisecond)

	deadline := time.Now().Add(time.Second)
	for tr.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if tr.Len() == 0 {
		t.Fatal("detector findings were not recorded")
	}

	tr.Stop()
	time.Sleep(5 * time.Millisecond)
	n := tr.Len()

	bus.Visibility(true)
	time.Sleep(10 * time.Millisecond)
	if tr.Len() != n {
		t.Fatalf("violations recorded after Stop: %d -> %d", n, tr.Len())
	}
	if tr.Active() {
		t.Fatal("tracker still active")
	}

	// Explicit records still land after Stop.
	tr.RecordViolation(model.ViolationAudioAnomaly, "noise", model.SeverityLow)
	if tr.Len() != n+1 {
		t.Fatal("explicit record after Stop was dropped")
	}
	tr.Flush()
}

func TestTrackerIgnoresDetectorErrors(t *testing.T) {
	det := &stubDetector{err: errors.New("camera permission denied")}
	tr := NewTracker(TrackerConfig{Log: zerolog.Nop()})
	tr.StartDetector(det, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	tr.Stop()

	if tr.Len() != 0 {
		t.Fatalf("detector errors recorded %d violations", tr.Len())
	}
}
