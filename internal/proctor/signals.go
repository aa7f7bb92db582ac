package proctor

import (
	"context"
	"slices"
	"sync"

	"github.com/stemsi/uexam-backend/internal/model"
)

// EnvironmentSignals is the host environment the visibility and fullscreen
// detectors listen to.
type EnvironmentSignals interface {
	OnVisibilityChange(func(hidden bool))
	OnFullscreenChange(func(fullscreen bool))
}

// Anomaly is a single finding of an AnomalyDetector.
type Anomaly struct {
	Type     model.ViolationType
	Message  string
	Severity model.Severity
}

// AnomalyDetector is a pluggable camera/audio heuristic polled by the tracker.
// Detectors that lack permissions return an error, which the tracker ignores.
type AnomalyDetector interface {
	Detect(ctx context.Context) ([]Anomaly, error)
}

// NoopDetector never reports anything.
type NoopDetector struct{}

func (NoopDetector) Detect(context.Context) ([]Anomaly, error) { return nil, nil }

// SignalBus is an EnvironmentSignals fed by the caller. The session stream pushes
// the client's visibility and fullscreen reports into it.
type SignalBus struct {
	mu         sync.RWMutex
	visibility []func(bool)
	fullscreen []func(bool)
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus() *SignalBus {
	return &SignalBus{}
}

func (b *SignalBus) OnVisibilityChange(fn func(hidden bool)) {
	b.mu.Lock()
	b.visibility = append(b.visibility, fn)
	b.mu.Unlock()
}

func (b *SignalBus) OnFullscreenChange(fn func(fullscreen bool)) {
	b.mu.Lock()
	b.fullscreen = append(b.fullscreen, fn)
	b.mu.Unlock()
}

// Visibility reports a visibility change to every listener.
func (b *SignalBus) Visibility(hidden bool) {
	b.mu.RLock()
	listeners := slices.Clone(b.visibility)
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(hidden)
	}
}

// Fullscreen reports a fullscreen change to every listener.
func (b *SignalBus) Fullscreen(fullscreen bool) {
	b.mu.RLock()
	listeners := slices.Clone(b.fullscreen)
	b.mu.RUnlock()
	for _, fn := range listeners {
		fn(fullscreen)
	}
}
