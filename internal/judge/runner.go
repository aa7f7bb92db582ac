package judge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/model"
	"golang.org/x/sync/errgroup"
)

// Runner evaluates one program against a batch of test cases. Results always
// come back in test-case order. A failing test case never aborts the batch;
// only ErrServiceUnavailable does.
type Runner struct {
	exec    Executor
	workers int
	log     zerolog.Logger
}

// NewRunner creates a Runner. workers <= 1 evaluates test cases one at a time;
// larger values bound the number of concurrent executions.
func NewRunner(exec Executor, workers int, log zerolog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		exec:    exec,
		workers: workers,
		log:     log.With().Str("component", "judge_runner").Logger(),
	}
}

// Run is a trial run; the report carries no score.
func (r *Runner) Run(ctx context.Context, questionID, code string, languageID int, cases []model.TestCase) (*model.ExecutionReport, error) {
	return r.evaluate(ctx, questionID, code, languageID, cases)
}

// Submit evaluates against the full test-case set and scores the batch.
func (r *Runner) Submit(ctx context.Context, questionID, code string, languageID int, cases []model.TestCase) (*model.ExecutionReport, error) {
	report, err := r.evaluate(ctx, questionID, code, languageID, cases)
	if err != nil {
		return nil, err
	}
	score := Score(report.PassedCount, report.TotalCount)
	report.Score = &score

	r.log.Info().
		Str("question_id", questionID).
		Int("passed", report.PassedCount).
		Int("total", report.TotalCount).
		Int("score", score).
		Msg("Code submitted")
	return report, nil
}

// Score is round(100 × passed / total), or 0 for an empty batch.
func Score(passed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

func (r *Runner) evaluate(ctx context.Context, questionID, code string, languageID int, cases []model.TestCase) (*model.ExecutionReport, error) {
	lang, ok := model.LanguageByID(languageID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedLanguage, languageID)
	}

	results := make([]model.TestResult, len(cases))

	if r.workers == 1 {
		for i, tc := range cases {
			res, err := r.evaluateCase(ctx, code, languageID, tc)
			if err != nil {
				return nil, err
			}
			results[i] = res
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for i, tc := range cases {
			g.Go(func() error {
				res, err := r.evaluateCase(gctx, code, languageID, tc)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return model.NewExecutionReport(questionID, lang.Name, results), nil
}

// evaluateCase returns an error only when the whole batch must fail.
func (r *Runner) evaluateCase(ctx context.Context, code string, languageID int, tc model.TestCase) (model.TestResult, error) {
	res := model.TestResult{
		TestCaseID:     tc.ID,
		ExpectedOutput: tc.Expected,
	}

	resp, err := r.exec.Execute(ctx, ExecutionRequest{
		SourceCode: code,
		LanguageID: languageID,
		Stdin:      tc.Input,
	})
	if err != nil {
		if errors.Is(err, ErrServiceUnavailable) || ctx.Err() != nil {
			return res, err
		}
		r.log.Warn().Err(err).Str("test_case_id", tc.ID).Msg("Test case execution failed")
		res.Error = err.Error()
		return res, nil
	}

	res.ExecutionTimeMs = resp.TimeMs()
	if msg, failed := failureMessage(resp); failed {
		res.Error = msg
		return res, nil
	}

	res.ActualOutput = resp.Stdout
	res.Passed = strings.TrimSpace(resp.Stdout) == strings.TrimSpace(tc.Expected)
	if resp.Stderr != "" {
		res.Error = resp.Stderr
	}
	return res, nil
}

// failureMessage normalizes non-success verdicts into a single error string.
func failureMessage(resp *ExecutionResponse) (string, bool) {
	switch id := resp.Status.ID; {
	case id == StatusAccepted || id == StatusWrongAnswer:
		return "", false
	case id == StatusCompilationError:
		return firstNonEmpty(resp.CompileOutput, "Compilation failed"), true
	case id == StatusTimeLimitExceeded:
		return "Time limit exceeded", true
	case id >= StatusRuntimeErrorSIGSEGV && id <= StatusRuntimeErrorOther:
		return firstNonEmpty(resp.Stderr, resp.Status.Description, "Runtime error occurred"), true
	case id == StatusInQueue || id == StatusProcessing:
		return "Execution did not complete", true
	case id == StatusInternalError || id == StatusExecFormatError:
		return firstNonEmpty(resp.Message, resp.Status.Description, "Internal judge error"), true
	default:
		return firstNonEmpty(resp.Status.Description, "Execution failed"), true
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
