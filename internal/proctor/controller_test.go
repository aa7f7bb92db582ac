package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
)

type fakeProvider struct {
	def *model.TestDefinition
	err error
}

func (p *fakeProvider) GetDefinition(context.Context, uuid.UUID) (*model.TestDefinition, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.def, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []*model.SubmissionPayload
	err      error
}

func (s *fakeSubmitter) Submit(_ context.Context, p *model.SubmissionPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return s.err
}

func (s *fakeSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type fakeRunner struct {
	mu    sync.Mutex
	cases [][]model.TestCase
	err   error
	// failing lists case ids that fail even when public.
	failing map[string]bool
}

func (r *fakeRunner) record(questionID string, cases []model.TestCase) *model.ExecutionReport {
	r.mu.Lock()
	r.cases = append(r.cases, cases)
	r.mu.Unlock()

	results := make([]model.TestResult, len(cases))
	for i, tc := range cases {
		// Public cases pass, private ones fail.
		passed := tc.IsPublic && !r.failing[tc.ID]
		results[i] = model.TestResult{TestCaseID: tc.ID, Passed: passed, ExpectedOutput: tc.Expected}
	}
	return model.NewExecutionReport(questionID, "Python (3.8.1)", results)
}

func (r *fakeRunner) Run(_ context.Context, questionID, _ string, _ int, cases []model.TestCase) (*model.ExecutionReport, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.record(questionID, cases), nil
}

func (r *fakeRunner) Submit(_ context.Context, questionID, _ string, _ int, cases []model.TestCase) (*model.ExecutionReport, error) {
	if r.err != nil {
		return nil, r.err
	}
	report := r.record(questionID, cases)
	score := 100 * report.PassedCount / report.TotalCount
	report.Score = &score
	return report, nil
}

func mcq(id string) model.Question {
	return model.Question{
		ID:            id,
		Kind:          model.QuestionKindMultipleChoice,
		Prompt:        "Pick one",
		Marks:         1,
		Options:       []string{"A", "B", "C", "D"},
		CorrectOption: "1",
	}
}

func coding(id string) model.Question {
	return model.Question{
		ID:     id,
		Kind:   model.QuestionKindCoding,
		Prompt: "Sum two numbers",
		Marks:  10,
		TestCases: []model.TestCase{
			{ID: id + "-pub", Input: "1 2", Expected: "3", IsPublic: true},
			{ID: id + "-priv", Input: "5 5", Expected: "10"},
		},
	}
}

func definition(minutes int, questions ...model.Question) *model.TestDefinition {
	return &model.TestDefinition{
		ID:              uuid.New(),
		Title:           "Unit test",
		DurationMinutes: minutes,
		Questions:       questions,
	}
}

func newController(t *testing.T, def *model.TestDefinition, mutate func(*Config)) (*Controller, *fakeSubmitter) {
	t.Helper()
	sub := &fakeSubmitter{}
	cfg := Config{
		TestID:    def.ID,
		StudentID: 42,
		Provider:  &fakeProvider{def: def},
		Runner:    &fakeRunner{},
		Submitter: sub,
		Log:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewController(cfg), sub
}

func loaded(t *testing.T, def *model.TestDefinition, mutate func(*Config)) (*Controller, *fakeSubmitter) {
	t.Helper()
	c, sub := newController(t, def, mutate)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { c.Submit(context.Background(), model.SubmitReasonManual) })
	return c, sub
}

func TestControllerLoad(t *testing.T) {
	def := definition(30, mcq("q1"), coding("q2"))
	c, _ := newController(t, def, nil)

	if c.Status() != model.SessionStatusLoading {
		t.Fatalf("initial status %s", c.Status())
	}
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Submit(context.Background(), model.SubmitReasonManual)

	st := c.State()
	if st.Status != model.SessionStatusActive || st.QuestionCount != 2 || st.CurrentQuestionIndex != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.TimeRemainingSeconds != 1800 {
		t.Fatalf("remaining = %d, want 1800", st.TimeRemainingSeconds)
	}
	if st.LowTime {
		t.Fatal("30 minutes left should not be low time")
	}
	if err := c.Load(context.Background()); !errors.Is(err, ErrAlreadyLoaded) {
		t.Fatalf("second Load: %v", err)
	}
}

func TestControllerLoadFailureStaysLoading(t *testing.T) {
	def := definition(30, mcq("q1"))
	provider := &fakeProvider{err: errors.New("db down")}
	c, _ := newController(t, def, func(cfg *Config) { cfg.Provider = provider })

	if err := c.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if c.Status() != model.SessionStatusLoading {
		t.Fatalf("status %s after failed load", c.Status())
	}

	// Invalid definitions are rejected the same way.
	provider.err = nil
	provider.def = definition(0, mcq("q1"))
	if err := c.Load(context.Background()); !errors.Is(err, model.ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}

	provider.def = def
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("retry Load: %v", err)
	}
	c.Submit(context.Background(), model.SubmitReasonManual)
}

func TestControllerLowTime(t *testing.T) {
	c, _ := loaded(t, definition(5, mcq("q1")), nil)
	if !c.State().LowTime {
		t.Fatal("5 minutes left should be low time")
	}
}

func TestControllerNavigationClamps(t *testing.T) {
	c, _ := loaded(t, definition(30, mcq("q1"), mcq("q2"), mcq("q3"), mcq("q4"), mcq("q5")), nil)

	if got := c.GoTo(-1); got != 0 {
		t.Fatalf("GoTo(-1) = %d, want 0", got)
	}
	if got := c.GoTo(10); got != 4 {
		t.Fatalf("GoTo(10) = %d, want 4", got)
	}
	if got := c.Next(); got != 4 {
		t.Fatalf("Next at last = %d, want 4", got)
	}
	if got := c.Previous(); got != 3 {
		t.Fatalf("Previous = %d, want 3", got)
	}
	c.GoTo(0)
	if got := c.Previous(); got != 0 {
		t.Fatalf("Previous at first = %d, want 0", got)
	}
}

func TestControllerFlags(t *testing.T) {
	c, _ := loaded(t, definition(30, mcq("q1"), mcq("q2"), mcq("q3")), nil)

	for _, id := range []string{"q3", "q1"} {
		if on, err := c.ToggleFlag(id); err != nil || !on {
			t.Fatalf("ToggleFlag(%s) = %v, %v", id, on, err)
		}
	}
	if got := c.State().FlaggedQuestionIDs; len(got) != 2 || got[0] != "q1" || got[1] != "q3" {
		t.Fatalf("flags = %v, want [q1 q3]", got)
	}
	if on, _ := c.ToggleFlag("q1"); on {
		t.Fatal("second toggle should clear the flag")
	}
	if _, err := c.ToggleFlag("nope"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestControllerAnswers(t *testing.T) {
	c, _ := loaded(t, definition(30, mcq("q1"), coding("q2")), nil)

	if err := c.AnswerMCQ("q1", "2"); err != nil {
		t.Fatalf("AnswerMCQ: %v", err)
	}
	if err := c.AnswerMCQ("q1", "9"); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if err := c.AnswerMCQ("q2", "0"); !errors.Is(err, ErrTypeKindMismatch) {
		t.Fatalf("expected ErrTypeKindMismatch, got %v", err)
	}

	a, ok := c.GetAnswer("q1")
	if !ok || a.(model.MCQAnswer).SelectedOption != "2" {
		t.Fatalf("unexpected answer %+v", a)
	}
	if c.State().AnsweredCount != 1 {
		t.Fatalf("answered = %d, want 1", c.State().AnsweredCount)
	}
}

func TestControllerRunCodeUsesPublicCasesOnly(t *testing.T) {
	runner := &fakeRunner{}
	c, _ := loaded(t, definition(30, mcq("q1"), coding("q2")), func(cfg *Config) { cfg.Runner = runner })

	report, err := c.RunCode(context.Background(), "q2", "print(3)", 71)
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if report.TotalCount != 1 || report.Results[0].TestCaseID != "q2-pub" {
		t.Fatalf("trial run should only use public cases, got %+v", report.Results)
	}
	if _, ok := c.GetAnswer("q2"); ok {
		t.Fatal("trial run filled the answer slot")
	}
	if last, ok := c.LastRun("q2"); !ok || last != report {
		t.Fatal("trial run not kept as last run")
	}

	if _, err := c.RunCode(context.Background(), "q1", "x", 71); !errors.Is(err, ErrNotCoding) {
		t.Fatalf("expected ErrNotCoding, got %v", err)
	}
}

func TestControllerSubmitCodeStoresAnswer(t *testing.T) {
	c, _ := loaded(t, definition(30, coding("q1")), nil)

	report, err := c.SubmitCode(context.Background(), "q1", "print(3)", 71)
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if report.TotalCount != 2 || report.Score == nil || *report.Score != 50 {
		t.Fatalf("unexpected report %+v", report)
	}

	a, ok := c.GetAnswer("q1")
	if !ok {
		t.Fatal("answer slot empty after SubmitCode")
	}
	ca := a.(model.CodingAnswer)
	if ca.SourceCode != "print(3)" || ca.LanguageID != 71 || ca.Score != 50 || len(ca.Results) != 2 {
		t.Fatalf("unexpected coding answer %+v", ca)
	}
}

func TestControllerSetAnswerKeepsGradedCode(t *testing.T) {
	c, _ := loaded(t, definition(30, coding("q1")), nil)

	if _, err := c.SubmitCode(context.Background(), "q1", "print(3)", 71); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	draft := model.CodingAnswer{SourceCode: "print(4)", LanguageID: 71}
	if err := c.SetAnswer("q1", draft); !errors.Is(err, ErrCodeNeedsSubmit) {
		t.Fatalf("expected ErrCodeNeedsSubmit, got %v", err)
	}

	a, _ := c.GetAnswer("q1")
	ca := a.(model.CodingAnswer)
	if ca.SourceCode != "print(3)" || ca.Score != 50 || len(ca.Results) != 2 {
		t.Fatalf("graded answer replaced: %+v", ca)
	}
}

func TestControllerRunnerErrorsLeaveStateUntouched(t *testing.T) {
	runner := &fakeRunner{err: errors.New("judge unavailable")}
	c, _ := loaded(t, definition(30, coding("q1")), func(cfg *Config) { cfg.Runner = runner })

	if _, err := c.SubmitCode(context.Background(), "q1", "x", 71); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := c.GetAnswer("q1"); ok {
		t.Fatal("failed submission filled the answer slot")
	}
	if c.Status() != model.SessionStatusActive {
		t.Fatalf("status %s after runner failure", c.Status())
	}
}

func TestControllerSubmitIsIdempotent(t *testing.T) {
	c, sub := loaded(t, definition(30, mcq("q1")), nil)

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Submit(context.Background(), model.SubmitReasonManual)
		}(i)
	}
	wg.Wait()

	performed := 0
	for _, ok := range results {
		if ok {
			performed++
		}
	}
	if performed != 1 || sub.count() != 1 {
		t.Fatalf("performed %d submissions, submitter saw %d", performed, sub.count())
	}
	if c.Status() != model.SessionStatusSubmitted || !c.State().Submitted {
		t.Fatalf("status %s", c.Status())
	}

	if err := c.AnswerMCQ("q1", "0"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive after submit, got %v", err)
	}
	if ok, err := c.SubmitLast(context.Background()); ok || err != nil {
		t.Fatalf("SubmitLast after submit = %v, %v", ok, err)
	}
}

func TestControllerSubmitLast(t *testing.T) {
	c, sub := loaded(t, definition(30, mcq("q1"), mcq("q2")), nil)

	if _, err := c.SubmitLast(context.Background()); !errors.Is(err, ErrNotLastQuestion) {
		t.Fatalf("expected ErrNotLastQuestion, got %v", err)
	}
	c.Next()
	ok, err := c.SubmitLast(context.Background())
	if err != nil || !ok {
		t.Fatalf("SubmitLast = %v, %v", ok, err)
	}
	if sub.payloads[0].Reason != model.SubmitReasonLastQuestion {
		t.Fatalf("reason = %s", sub.payloads[0].Reason)
	}
}

func TestControllerSubmitErrorStillSubmitted(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("queue down")}
	c, _ := loaded(t, definition(30, mcq("q1")), func(cfg *Config) { cfg.Submitter = sub })

	if !c.Submit(context.Background(), model.SubmitReasonManual) {
		t.Fatal("Submit returned false")
	}
	if c.Status() != model.SessionStatusSubmitted {
		t.Fatalf("status %s", c.Status())
	}
	if c.SubmitError() == nil || c.State().SubmitError != "queue down" {
		t.Fatalf("submit error not surfaced: %+v", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

type flakySubmitter struct {
	mu    sync.Mutex
	calls int
	fails int
}

func (s *flakySubmitter) Submit(context.Context, *model.SubmissionPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return errors.New("queue down")
	}
	return nil
}

func (s *flakySubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestControllerResendDeliversFailedSubmission(t *testing.T) {
	sub := &flakySubmitter{fails: 1}
	c, _ := loaded(t, definition(30, mcq("q1")), func(cfg *Config) { cfg.Submitter = sub })

	if err := c.Resend(context.Background()); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("Resend before submit = %v", err)
	}
	if !c.Submit(context.Background(), model.SubmitReasonManual) {
		t.Fatal("Submit returned false")
	}
	if !c.DeliveryPending() {
		t.Fatal("failed delivery not pending")
	}
	if c.Submit(context.Background(), model.SubmitReasonManual) {
		t.Fatal("second Submit performed")
	}

	events, cancel := c.Subscribe()
	defer cancel()
	if err := c.Resend(context.Background()); err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if c.DeliveryPending() || c.SubmitError() != nil || c.State().SubmitError != "" {
		t.Fatalf("delivery still pending: %+v", c.State())
	}
	select {
	case ev := <-events:
		if ev.Kind != EventSubmitted || ev.Err != nil || ev.Payload == nil {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no submitted event after redelivery")
	}

	// Delivered payloads are not sent again.
	if err := c.Resend(context.Background()); err != nil {
		t.Fatalf("Resend after delivery: %v", err)
	}
	if sub.count() != 2 {
		t.Fatalf("submitter called %d times, want 2", sub.count())
	}
}

func TestControllerViolationLogFinalAfterSubmit(t *testing.T) {
	c, sub := loaded(t, definition(30, mcq("q1")), nil)

	if _, err := c.RecordViolation(model.ViolationNoFace, "no face", model.SeverityMedium); err != nil {
		t.Fatalf("RecordViolation: %v", err)
	}
	c.Submit(context.Background(), model.SubmitReasonManual)

	if _, err := c.RecordViolation(model.ViolationMultipleFaces, "late", model.SeverityHigh); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if got, want := len(c.Violations()), len(sub.payloads[0].Violations); got != want || got != 1 {
		t.Fatalf("log has %d violations, payload %d", got, want)
	}
	if c.State().Violations.Total != 1 {
		t.Fatalf("summary total = %d, want 1", c.State().Violations.Total)
	}
}

func TestControllerPayloadKeepsViolationOrder(t *testing.T) {
	bus := NewSignalBus()
	c, sub := loaded(t, definition(30, mcq("q1")), func(cfg *Config) { cfg.Signals = bus })

	bus.Visibility(true)
	c.RecordViolation(model.ViolationNoFace, "no face", model.SeverityMedium)
	bus.Fullscreen(false)
	c.RecordViolation(model.ViolationAudioAnomaly, "noise", model.SeverityLow)

	c.Submit(context.Background(), model.SubmitReasonManual)

	want := []model.ViolationType{
		model.ViolationTabSwitch,
		model.ViolationNoFace,
		model.ViolationFullscreenExit,
		model.ViolationAudioAnomaly,
	}
	got := sub.payloads[0].Violations
	if len(got) != len(want) {
		t.Fatalf("payload carries %d violations, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Fatalf("violation %d = %s, want %s", i, got[i].Type, want[i])
		}
	}

	// Detectors are gone once submitted.
	bus.Visibility(true)
	if len(c.Violations()) != len(want) {
		t.Fatal("violation recorded after submission")
	}
	if !c.State().Violations.FlaggedForReview {
		t.Fatal("expected flagged for review")
	}
}

func TestControllerSubscribeReceivesEvents(t *testing.T) {
	c, _ := loaded(t, definition(30, mcq("q1")), nil)
	events, cancel := c.Subscribe()
	defer cancel()

	c.RecordViolation(model.ViolationTabSwitch, "x", model.SeverityHigh)
	c.Submit(context.Background(), model.SubmitReasonManual)

	var kinds []EventKind
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-events:
			if ev.Kind == EventTick {
				continue
			}
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("got events %v", kinds)
		}
	}
	if kinds[0] != EventViolation || kinds[1] != EventSubmitted {
		t.Fatalf("events = %v", kinds)
	}
}

func TestControllerExpiresAndAutoSubmits(t *testing.T) {
	q2 := coding("q2")
	q2.TestCases = []model.TestCase{
		{ID: "q2-a", Input: "1 2", Expected: "3", IsPublic: true},
		{ID: "q2-b", Input: "2 2", Expected: "4", IsPublic: true},
		{ID: "q2-priv", Input: "5 5", Expected: "10"},
	}
	def := definition(1, mcq("q1"), q2)
	runner := &fakeRunner{failing: map[string]bool{"q2-b": true}}
	c, sub := newController(t, def, func(cfg *Config) {
		cfg.TickInterval = 2 * time.Millisecond
		cfg.Runner = runner
	})

	events, cancel := c.Subscribe()
	defer cancel()

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.AnswerMCQ("q1", "1"); err != nil {
		t.Fatalf("AnswerMCQ: %v", err)
	}
	report, err := c.RunCode(context.Background(), "q2", "print(3)", 71)
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if report.PassedCount != 1 || report.TotalCount != 2 {
		t.Fatalf("trial run passed %d of %d, want 1 of 2", report.PassedCount, report.TotalCount)
	}

	ticks, last := 0, 60
	var submitted *model.SubmissionPayload
	timeout := time.After(5 * time.Second)
	for submitted == nil {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventTick:
				if ev.Remaining >= last {
					t.Fatalf("remaining went from %d to %d", last, ev.Remaining)
				}
				last = ev.Remaining
				ticks++
			case EventSubmitted:
				submitted = ev.Payload
			}
		case <-timeout:
			t.Fatalf("session did not expire, %d ticks seen", ticks)
		}
	}

	// Slow subscribers may miss ticks, never see extra ones.
	if ticks == 0 || ticks > 60 {
		t.Fatalf("ticks = %d, want at most 60", ticks)
	}
	if sub.count() != 1 {
		t.Fatalf("submitter called %d times", sub.count())
	}
	p := sub.payloads[0]
	if p.Reason != model.SubmitReasonExpired || p.ElapsedSeconds != 60 {
		t.Fatalf("reason %s elapsed %d", p.Reason, p.ElapsedSeconds)
	}
	if n := p.Answers.CountKind(model.QuestionKindMultipleChoice); n != 1 {
		t.Fatalf("mcq answers = %d, want 1", n)
	}
	// A trial run never counts as an answer.
	if n := p.Answers.CountKind(model.QuestionKindCoding); n != 0 {
		t.Fatalf("coding answers = %d, want 0", n)
	}
	if len(p.Violations) != 0 {
		t.Fatalf("violations = %d, want 0", len(p.Violations))
	}
	if st := c.State(); st.TimeRemainingSeconds != 0 || !st.Submitted {
		t.Fatalf("final state %+v", st)
	}
	if c.Submit(context.Background(), model.SubmitReasonManual) {
		t.Fatal("manual submit after expiry performed a second submission")
	}
}

func TestControllerAutosave(t *testing.T) {
	sink := &fakeSink{saved: make(chan string, 4)}
	c, _ := loaded(t, definition(30, mcq("q1")), func(cfg *Config) { cfg.AnswerSink = sink })

	if err := c.AnswerMCQ("q1", "0"); err != nil {
		t.Fatalf("AnswerMCQ: %v", err)
	}
	select {
	case id := <-sink.saved:
		if id != "q1" {
			t.Fatalf("saved %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("answer was not autosaved")
	}
}

type fakeSink struct {
	saved chan string
}

func (s *fakeSink) SaveAnswer(_ context.Context, _ uuid.UUID, _ int, questionID string, _ model.Answer) error {
	s.saved <- questionID
	return fmt.Errorf("ignored")
}

func TestControllerRestoresInitialAnswers(t *testing.T) {
	initial := model.AnswerSet{
		"q1":    model.MCQAnswer{SelectedOption: "3"},
		"q2":    model.MCQAnswer{SelectedOption: "0"}, // wrong kind
		"stale": model.MCQAnswer{SelectedOption: "1"},
	}
	c, _ := loaded(t, definition(30, mcq("q1"), coding("q2")), func(cfg *Config) { cfg.InitialAnswers = initial })

	if a, ok := c.GetAnswer("q1"); !ok || a.(model.MCQAnswer).SelectedOption != "3" {
		t.Fatalf("q1 not restored: %+v", a)
	}
	if _, ok := c.GetAnswer("q2"); ok {
		t.Fatal("mismatched answer restored")
	}
	if c.State().AnsweredCount != 1 {
		t.Fatalf("answered = %d, want 1", c.State().AnsweredCount)
	}
}
