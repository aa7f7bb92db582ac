package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/proctor"
	"golang.org/x/sync/singleflight"
)

// Domain Errors
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrAlreadySubmitted = errors.New("test already submitted")
	ErrShuttingDown     = errors.New("server is shutting down")
)

// SubmissionChecker reports whether a student already submitted a test.
type SubmissionChecker interface {
	Exists(ctx context.Context, testID uuid.UUID, studentID int) (bool, error)
}

// AnswerSource restores the answers of an interrupted session.
type AnswerSource interface {
	LoadAnswers(ctx context.Context, testID uuid.UUID, studentID int) (model.AnswerSet, error)
}

// Announcer publishes monitor events.
type Announcer interface {
	Announce(ctx context.Context, ev model.MonitorEvent) error
}

// SessionDeps are the collaborators shared by every session. Provider is required.
type SessionDeps struct {
	Provider   proctor.TestProvider
	Runner     proctor.CodeRunner
	Submitter  proctor.Submitter
	Collector  proctor.Collector
	AnswerSink proctor.AnswerSink
	Answers    AnswerSource
	Submitted  SubmissionChecker
	Announcer  Announcer
	Detector   proctor.AnomalyDetector

	DetectInterval time.Duration
	TickInterval   time.Duration
	// Retention is how long a submitted session stays reachable.
	Retention time.Duration
	// RedeliveryInterval is the first wait before a failed submission is sent
	// again. It doubles per attempt up to maxRedeliveryInterval.
	RedeliveryInterval time.Duration
}

const (
	defaultRedeliveryInterval = time.Second
	maxRedeliveryInterval     = time.Minute
	redeliveryTimeout         = 15 * time.Second
)

// Session is a live proctored session together with the signal bus its
// stream feeds visibility and fullscreen reports into.
type Session struct {
	*proctor.Controller
	Signals *proctor.SignalBus
}

type sessionKey struct {
	testID    uuid.UUID
	studentID int
}

func (k sessionKey) String() string {
	return fmt.Sprintf("%s:%d", k.testID, k.studentID)
}

// SessionService hosts the live session controllers, one per (test, student).
type SessionService struct {
	deps SessionDeps
	log  zerolog.Logger

	flight singleflight.Group

	mu       sync.RWMutex
	sessions map[sessionKey]*Session
	closing  bool
	quit     chan struct{}
}

// NewSessionService creates a new SessionService.
func NewSessionService(deps SessionDeps, log zerolog.Logger) *SessionService {
	return &SessionService{
		deps:     deps,
		log:      log.With().Str("component", "session_service").Logger(),
		sessions: make(map[sessionKey]*Session),
		quit:     make(chan struct{}),
	}
}

// Start returns the student's live session for the test, loading a new one
// when none exists. A session already submitted yields ErrAlreadySubmitted.
func (s *SessionService) Start(ctx context.Context, testID uuid.UUID, studentID int) (*Session, error) {
	key := sessionKey{testID: testID, studentID: studentID}

	v, err, _ := s.flight.Do(key.String(), func() (interface{}, error) {
		s.mu.RLock()
		existing, ok := s.sessions[key]
		closing := s.closing
		s.mu.RUnlock()
		if ok {
			return existing, nil
		}
		if closing {
			return nil, ErrShuttingDown
		}
		return s.open(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	sess := v.(*Session)
	if sess.Status() == model.SessionStatusSubmitted {
		if sess.DeliveryPending() {
			_ = sess.Resend(ctx)
		}
		return sess, ErrAlreadySubmitted
	}
	return sess, nil
}

func (s *SessionService) open(ctx context.Context, key sessionKey) (*Session, error) {
	if s.deps.Submitted != nil {
		done, err := s.deps.Submitted.Exists(ctx, key.testID, key.studentID)
		if err != nil {
			return nil, fmt.Errorf("check submission: %w", err)
		}
		if done {
			return nil, ErrAlreadySubmitted
		}
	}

	var initial model.AnswerSet
	if s.deps.Answers != nil {
		answers, err := s.deps.Answers.LoadAnswers(ctx, key.testID, key.studentID)
		if err != nil {
			s.log.Warn().Err(err).Str("session", key.String()).Msg("Could not restore saved answers")
		}
		initial = answers
	}

	detector := s.deps.Detector
	if detector == nil {
		detector = proctor.NoopDetector{}
	}
	signals := proctor.NewSignalBus()
	ctrl := proctor.NewController(proctor.Config{
		TestID:         key.testID,
		StudentID:      key.studentID,
		Provider:       s.deps.Provider,
		Runner:         s.deps.Runner,
		Submitter:      s.deps.Submitter,
		Collector:      s.deps.Collector,
		AnswerSink:     s.deps.AnswerSink,
		Signals:        signals,
		Detector:       detector,
		DetectInterval: s.deps.DetectInterval,
		TickInterval:   s.deps.TickInterval,
		InitialAnswers: initial,
		Log:            s.log,
	})

	if err := ctrl.Load(ctx); err != nil {
		return nil, err
	}

	sess := &Session{Controller: ctrl, Signals: signals}
	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()

	go s.evictAfterSubmit(key, sess)
	s.announce(model.MonitorEvent{
		Type:      model.MonitorStarted,
		TestID:    key.testID,
		StudentID: key.studentID,
		Answered:  len(initial),
		At:        time.Now(),
	})
	return sess, nil
}

// evictAfterSubmit drops a session Retention after its submission has been
// delivered. A session whose delivery keeps failing stays registered, so the
// student cannot start over, and is redelivered with backoff.
func (s *SessionService) evictAfterSubmit(key sessionKey, sess *Session) {
	select {
	case <-sess.Done():
	case <-s.quit:
		return
	}

	if !s.redeliver(key, sess) {
		return
	}

	timer := time.NewTimer(s.deps.Retention)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.quit:
		return
	}

	s.mu.Lock()
	if s.sessions[key] == sess {
		delete(s.sessions, key)
	}
	s.mu.Unlock()
	s.log.Debug().Str("session", key.String()).Msg("Session evicted")
}

// redeliver retries a failed submission until it goes through. It returns
// false when the service shuts down first.
func (s *SessionService) redeliver(key sessionKey, sess *Session) bool {
	wait := s.deps.RedeliveryInterval
	if wait <= 0 {
		wait = defaultRedeliveryInterval
	}
	for attempt := 1; sess.DeliveryPending(); attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.quit:
			timer.Stop()
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), redeliveryTimeout)
		err := sess.Resend(ctx)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).
				Str("session", key.String()).
				Int("attempt", attempt).
				Dur("next_in", wait).
				Msg("Submission still undelivered")
		}
		wait = min(wait*2, maxRedeliveryInterval)
	}
	return true
}

func (s *SessionService) announce(ev model.MonitorEvent) {
	if s.deps.Announcer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.deps.Announcer.Announce(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("Monitor announce failed")
	}
}

// Get returns the live session of a student.
func (s *SessionService) Get(testID uuid.UUID, studentID int) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey{testID: testID, studentID: studentID}]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Active returns the number of sessions still accepting answers.
func (s *SessionService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status() == model.SessionStatusActive {
			n++
		}
	}
	return n
}

// Close refuses new sessions and submits every active one.
func (s *SessionService) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	close(s.quit)
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	var (
		wg        sync.WaitGroup
		submitted int
		countMu   sync.Mutex
	)
	for _, sess := range live {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			if sess.Submit(ctx, model.SubmitReasonShutdown) {
				countMu.Lock()
				submitted++
				countMu.Unlock()
			}
			if sess.DeliveryPending() {
				if err := sess.Resend(ctx); err != nil {
					s.log.Error().Err(err).Msg("Submission lost on shutdown")
				}
			}
			// Violations still in flight must reach the queue before the workers stop.
			sess.Tracker().Stop()
			sess.Tracker().Flush()
		}(sess)
	}
	wg.Wait()

	s.log.Info().Int("submitted", submitted).Msg("Active sessions submitted on shutdown")
}
