package proctor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
)

const (
	defaultSubmitTimeout = 15 * time.Second
	autosaveTimeout      = 5 * time.Second
	subscriberBuffer     = 32
)

// TestProvider loads test definitions.
type TestProvider interface {
	GetDefinition(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error)
}

// CodeRunner evaluates code against test cases. Run is a trial; Submit also scores.
type CodeRunner interface {
	Run(ctx context.Context, questionID, code string, languageID int, cases []model.TestCase) (*model.ExecutionReport, error)
	Submit(ctx context.Context, questionID, code string, languageID int, cases []model.TestCase) (*model.ExecutionReport, error)
}

// Submitter delivers the final payload to the grading side.
type Submitter interface {
	Submit(ctx context.Context, payload *model.SubmissionPayload) error
}

// AnswerSink mirrors accepted answers somewhere durable.
type AnswerSink interface {
	SaveAnswer(ctx context.Context, testID uuid.UUID, studentID int, questionID string, answer model.Answer) error
}

// EventKind identifies a session event.
type EventKind string

const (
	EventTick      EventKind = "tick"
	EventViolation EventKind = "violation"
	EventSubmitted EventKind = "submitted"
)

// Event is pushed to subscribers as the session progresses.
type Event struct {
	Kind      EventKind
	Remaining int
	Violation *model.ViolationEvent
	Payload   *model.SubmissionPayload
	Err       error
}

// Config wires a Controller to its collaborators. Only Provider is required.
type Config struct {
	TestID    uuid.UUID
	StudentID int

	Provider   TestProvider
	Runner     CodeRunner
	Submitter  Submitter
	Collector  Collector
	AnswerSink AnswerSink

	Signals        EnvironmentSignals
	Detector       AnomalyDetector
	DetectInterval time.Duration

	TickInterval  time.Duration
	SubmitTimeout time.Duration

	// InitialAnswers seeds the answer store on load, e.g. autosaved answers of
	// a session that was interrupted. Answers that do not fit the definition are skipped.
	InitialAnswers model.AnswerSet

	Log zerolog.Logger
}

// Controller runs one proctored session: Loading → Active → Submitting → Submitted.
type Controller struct {
	cfg     Config
	log     zerolog.Logger
	clock   *Clock
	tracker *Tracker

	mu        sync.Mutex
	status    model.SessionStatus
	loading   bool
	def       *model.TestDefinition
	answers   *AnswerStore
	current   int
	flagged   map[string]struct{}
	remaining int
	lastRuns  map[string]*model.ExecutionReport
	payload   *model.SubmissionPayload
	submitErr error
	done      chan struct{}

	// resendMu serializes redeliveries of a payload whose first send failed.
	resendMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
}

// NewController creates a session in the Loading state.
func NewController(cfg Config) *Controller {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	log := cfg.Log.With().
		Str("component", "session").
		Str("test_id", cfg.TestID.String()).
		Int("student_id", cfg.StudentID).
		Logger()

	c := &Controller{
		cfg:         cfg,
		log:         log,
		clock:       NewClock(cfg.TickInterval),
		status:      model.SessionStatusLoading,
		flagged:     make(map[string]struct{}),
		lastRuns:    make(map[string]*model.ExecutionReport),
		done:        make(chan struct{}),
		subscribers: make(map[int]chan Event),
	}
	c.tracker = NewTracker(TrackerConfig{
		TestID:    cfg.TestID,
		StudentID: cfg.StudentID,
		Collector: cfg.Collector,
		Log:       log,
		OnRecord: func(ev model.ViolationEvent) {
			c.publish(Event{Kind: EventViolation, Violation: &ev})
		},
	})
	return c
}

// Load fetches the test definition and starts the session. A failed load leaves
// the session in Loading so the caller can retry.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.status != model.SessionStatusLoading || c.loading {
		c.mu.Unlock()
		return ErrAlreadyLoaded
	}
	c.loading = true
	c.mu.Unlock()

	def, err := c.cfg.Provider.GetDefinition(ctx, c.cfg.TestID)
	if err == nil {
		err = def.Validate()
	}
	if err != nil {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
		return fmt.Errorf("load test definition: %w", err)
	}

	c.mu.Lock()
	c.def = def
	c.answers = NewAnswerStore(def.Questions)
	restored := 0
	for qid, a := range c.cfg.InitialAnswers {
		if err := c.answers.SetAnswer(qid, a); err == nil {
			restored++
		}
	}
	c.remaining = def.DurationSeconds()
	c.status = model.SessionStatusActive
	c.loading = false
	c.mu.Unlock()

	c.tracker.Attach(c.cfg.Signals)
	c.tracker.StartDetector(c.cfg.Detector, c.cfg.DetectInterval)
	c.clock.Start(def.DurationSeconds(), c.onTick, c.onExpire)

	c.log.Info().
		Int("duration_seconds", def.DurationSeconds()).
		Int("questions", len(def.Questions)).
		Int("restored_answers", restored).
		Msg("Session started")
	return nil
}

func (c *Controller) onTick(remaining int) {
	c.mu.Lock()
	active := c.status == model.SessionStatusActive
	if active {
		c.remaining = remaining
	}
	c.mu.Unlock()

	if active {
		c.publish(Event{Kind: EventTick, Remaining: remaining})
	}
}

func (c *Controller) onExpire() {
	c.log.Info().Msg("Time expired, submitting")
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SubmitTimeout)
	defer cancel()
	c.Submit(ctx, model.SubmitReasonExpired)
}

// Submit moves an active session to Submitted, sending the payload in between.
// It reports whether this call performed the submission; later calls are no-ops.
// The session reaches Submitted even when delivery fails; the payload is kept
// for Resend and the error is reported by SubmitError.
func (c *Controller) Submit(ctx context.Context, reason model.SubmitReason) bool {
	c.mu.Lock()
	if c.status != model.SessionStatusActive {
		c.mu.Unlock()
		return false
	}
	c.status = model.SessionStatusSubmitting
	c.clock.Stop()
	c.tracker.Stop()
	if c.clock.Expired() {
		c.remaining = 0
	} else {
		c.remaining = c.clock.Remaining()
	}

	payload := &model.SubmissionPayload{
		TestID:         c.cfg.TestID,
		StudentID:      c.cfg.StudentID,
		Answers:        c.answers.Snapshot(),
		ElapsedSeconds: c.def.DurationSeconds() - c.remaining,
		Violations:     c.tracker.Events(),
		Reason:         reason,
		SubmittedAt:    time.Now(),
	}
	c.mu.Unlock()

	var err error
	if c.cfg.Submitter != nil {
		err = c.cfg.Submitter.Submit(ctx, payload)
	}

	c.mu.Lock()
	c.status = model.SessionStatusSubmitted
	c.payload = payload
	c.submitErr = err
	close(c.done)
	c.mu.Unlock()

	ev := c.log.Info()
	if err != nil {
		ev = c.log.Error().Err(err)
	}
	ev.Str("reason", string(reason)).
		Int("answers", len(payload.Answers)).
		Int("violations", len(payload.Violations)).
		Int("elapsed_seconds", payload.ElapsedSeconds).
		Msg("Session submitted")

	c.publish(Event{Kind: EventSubmitted, Payload: payload, Err: err})
	return true
}

// Resend delivers the stored payload again when the first delivery failed.
// It returns nil once the payload is delivered, now or earlier, and the
// delivery error otherwise. Concurrent calls send one at a time.
func (c *Controller) Resend(ctx context.Context) error {
	c.resendMu.Lock()
	defer c.resendMu.Unlock()

	c.mu.Lock()
	if c.status != model.SessionStatusSubmitted {
		c.mu.Unlock()
		return ErrNotSubmitted
	}
	payload, pending := c.payload, c.submitErr != nil
	c.mu.Unlock()
	if !pending {
		return nil
	}

	err := c.cfg.Submitter.Submit(ctx, payload)

	c.mu.Lock()
	c.submitErr = err
	c.mu.Unlock()

	if err != nil {
		c.log.Warn().Err(err).Msg("Submission redelivery failed")
		return err
	}
	c.log.Info().
		Str("reason", string(payload.Reason)).
		Int("answers", len(payload.Answers)).
		Msg("Submission redelivered")
	c.publish(Event{Kind: EventSubmitted, Payload: payload})
	return nil
}

// DeliveryPending reports whether the session is submitted but its payload has
// not reached the submitter yet.
func (c *Controller) DeliveryPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == model.SessionStatusSubmitted && c.submitErr != nil
}

// SubmitLast submits from the last question. It fails with ErrNotLastQuestion
// anywhere else and is a no-op once the session left Active.
func (c *Controller) SubmitLast(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.status != model.SessionStatusActive {
		c.mu.Unlock()
		return false, nil
	}
	last := c.current == len(c.def.Questions)-1
	c.mu.Unlock()

	if !last {
		return false, ErrNotLastQuestion
	}
	return c.Submit(ctx, model.SubmitReasonLastQuestion), nil
}

// ─── Navigation ────────────────────────────────────────────────────────

// GoTo moves to index, clamped to the question range, and returns the new index.
func (c *Controller) GoTo(index int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.SessionStatusActive {
		return c.current
	}
	c.current = clamp(index, 0, len(c.def.Questions)-1)
	return c.current
}

// Next moves one question forward, stopping at the last one.
func (c *Controller) Next() int {
	c.mu.Lock()
	i := c.current + 1
	c.mu.Unlock()
	return c.GoTo(i)
}

// Previous moves one question back, stopping at the first one.
func (c *Controller) Previous() int {
	c.mu.Lock()
	i := c.current - 1
	c.mu.Unlock()
	return c.GoTo(i)
}

// ToggleFlag flips the review flag of a question and returns the new value.
func (c *Controller) ToggleFlag(questionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.SessionStatusActive {
		return false, ErrNotActive
	}
	if _, ok := c.def.QuestionByID(questionID); !ok {
		return false, ErrUnknownQuestion
	}
	if _, ok := c.flagged[questionID]; ok {
		delete(c.flagged, questionID)
		return false, nil
	}
	c.flagged[questionID] = struct{}{}
	return true, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ─── Answers ───────────────────────────────────────────────────────────

// SetAnswer stores an answer for an active session. Coding answers are refused
// with ErrCodeNeedsSubmit: only SubmitCode fills a coding slot.
func (c *Controller) SetAnswer(questionID string, answer model.Answer) error {
	if _, ok := answer.(model.CodingAnswer); ok {
		return ErrCodeNeedsSubmit
	}
	return c.storeAnswer(questionID, answer)
}

func (c *Controller) storeAnswer(questionID string, answer model.Answer) error {
	c.mu.Lock()
	if c.status != model.SessionStatusActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	q, ok := c.def.QuestionByID(questionID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownQuestion
	}
	if mcq, isMCQ := answer.(model.MCQAnswer); isMCQ && q.Kind == model.QuestionKindMultipleChoice {
		if err := validateOption(mcq.SelectedOption, len(q.Options)); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	err := c.answers.SetAnswer(questionID, answer)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.autosave(questionID, answer)
	return nil
}

// AnswerMCQ selects an option of a multiple-choice question.
func (c *Controller) AnswerMCQ(questionID, option string) error {
	return c.SetAnswer(questionID, model.MCQAnswer{SelectedOption: option})
}

func validateOption(option string, count int) error {
	if option == "" {
		return nil
	}
	idx, err := strconv.Atoi(option)
	if err != nil || idx < 0 || idx >= count {
		return ErrInvalidOption
	}
	return nil
}

func (c *Controller) autosave(questionID string, answer model.Answer) {
	if c.cfg.AnswerSink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), autosaveTimeout)
		defer cancel()
		if err := c.cfg.AnswerSink.SaveAnswer(ctx, c.cfg.TestID, c.cfg.StudentID, questionID, answer); err != nil {
			c.log.Warn().Err(err).Str("question_id", questionID).Msg("Autosave failed")
		}
	}()
}

// GetAnswer returns the stored answer for a question.
func (c *Controller) GetAnswer(questionID string) (model.Answer, bool) {
	c.mu.Lock()
	answers := c.answers
	c.mu.Unlock()
	if answers == nil {
		return nil, false
	}
	return answers.GetAnswer(questionID)
}

// ─── Code execution ────────────────────────────────────────────────────

func (c *Controller) codingQuestion(questionID string) (*model.Question, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.SessionStatusActive {
		return nil, ErrNotActive
	}
	q, ok := c.def.QuestionByID(questionID)
	if !ok {
		return nil, ErrUnknownQuestion
	}
	if q.Kind != model.QuestionKindCoding {
		return nil, ErrNotCoding
	}
	if c.cfg.Runner == nil {
		return nil, ErrNoRunner
	}
	return q, nil
}

// RunCode runs code against the question's public test cases. The results are
// kept as the question's last run but do not fill its answer slot.
func (c *Controller) RunCode(ctx context.Context, questionID, code string, languageID int) (*model.ExecutionReport, error) {
	q, err := c.codingQuestion(questionID)
	if err != nil {
		return nil, err
	}

	report, err := c.cfg.Runner.Run(ctx, questionID, code, languageID, q.PublicTestCases())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.status == model.SessionStatusActive {
		c.lastRuns[questionID] = report
	}
	c.mu.Unlock()
	return report, nil
}

// SubmitCode grades code against every test case of the question and stores
// the result as the question's CodingAnswer.
func (c *Controller) SubmitCode(ctx context.Context, questionID, code string, languageID int) (*model.ExecutionReport, error) {
	q, err := c.codingQuestion(questionID)
	if err != nil {
		return nil, err
	}

	report, err := c.cfg.Runner.Submit(ctx, questionID, code, languageID, q.TestCases)
	if err != nil {
		return nil, err
	}

	answer := model.CodingAnswer{
		SourceCode: code,
		Language:   report.Language,
		LanguageID: languageID,
		Results:    report.Results,
	}
	if report.Score != nil {
		answer.Score = *report.Score
	}

	c.mu.Lock()
	if c.status == model.SessionStatusActive {
		c.lastRuns[questionID] = report
	}
	c.mu.Unlock()

	if err := c.storeAnswer(questionID, answer); err != nil {
		return report, err
	}
	return report, nil
}

// LastRun returns the most recent execution report of a coding question.
func (c *Controller) LastRun(questionID string) (*model.ExecutionReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.lastRuns[questionID]
	return r, ok
}

// ─── Violations ────────────────────────────────────────────────────────

// RecordViolation appends to the session's violation log. Once the session has
// left Active the log is final and the event is refused with ErrNotActive.
func (c *Controller) RecordViolation(vType model.ViolationType, message string, severity model.Severity) (model.ViolationEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.SessionStatusActive {
		return model.ViolationEvent{}, ErrNotActive
	}
	return c.tracker.RecordViolation(vType, message, severity), nil
}

// Violations returns the violation log in record order.
func (c *Controller) Violations() []model.ViolationEvent {
	return c.tracker.Events()
}

// Tracker exposes the session's violation tracker.
func (c *Controller) Tracker() *Tracker {
	return c.tracker
}

// ─── Introspection ─────────────────────────────────────────────────────

// State returns a snapshot of the session.
func (c *Controller) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := model.SessionState{
		TestID:               c.cfg.TestID,
		StudentID:            c.cfg.StudentID,
		Status:               c.status,
		CurrentQuestionIndex: c.current,
		FlaggedQuestionIDs:   make([]string, 0, len(c.flagged)),
		TimeRemainingSeconds: c.remaining,
		Submitted:            c.status == model.SessionStatusSubmitted,
		Violations:           c.tracker.Summary(),
	}
	if c.def != nil {
		st.QuestionCount = len(c.def.Questions)
		st.AnsweredCount = c.answers.CountAnswered(c.def.Questions)
		// Keep flag order stable for clients.
		for _, q := range c.def.Questions {
			if _, ok := c.flagged[q.ID]; ok {
				st.FlaggedQuestionIDs = append(st.FlaggedQuestionIDs, q.ID)
			}
		}
	}
	if c.status == model.SessionStatusActive {
		st.TimeRemainingSeconds = c.clock.Remaining()
	}
	st.LowTime = c.status == model.SessionStatusActive && model.IsLowTime(st.TimeRemainingSeconds)
	if c.submitErr != nil {
		st.SubmitError = c.submitErr.Error()
	}
	return st
}

// Status returns the current lifecycle state.
func (c *Controller) Status() model.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Definition returns the loaded test definition, or nil while Loading.
func (c *Controller) Definition() *model.TestDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def
}

// Payload returns the submitted payload once the session is Submitted.
func (c *Controller) Payload() *model.SubmissionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload
}

// SubmitError returns the delivery error of the submission, if any.
func (c *Controller) SubmitError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitErr
}

// Done is closed when the session reaches Submitted.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// ─── Subscriptions ─────────────────────────────────────────────────────

// Subscribe returns a channel of session events and a function to cancel it.
// Slow subscribers miss events rather than stall the session.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subscribers, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
