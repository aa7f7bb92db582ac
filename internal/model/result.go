package model

import "fmt"

// TestResult is the outcome of running a submission against one test case.
type TestResult struct {
	TestCaseID      string `json:"test_case_id"`
	Passed          bool   `json:"passed"`
	ActualOutput    string `json:"actual_output"`
	ExpectedOutput  string `json:"expected_output"`
	ExecutionTimeMs int64  `json:"execution_time"`
	Error           string `json:"error,omitempty"`
}

// ExecutionReport is a batch of TestResults in test-case order plus derived stats.
// Score is only set for graded (submit) runs.
type ExecutionReport struct {
	QuestionID    string       `json:"question_id"`
	Language      string       `json:"language"`
	Results       []TestResult `json:"results"`
	TotalTimeMs   int64        `json:"execution_time"`
	AverageTimeMs float64      `json:"average_time"`
	PassedCount   int          `json:"passed_count"`
	TotalCount    int          `json:"total_count"`
	Score         *int         `json:"score,omitempty"`
}

// NewExecutionReport derives the batch statistics from results.
func NewExecutionReport(questionID, language string, results []TestResult) *ExecutionReport {
	r := &ExecutionReport{
		QuestionID: questionID,
		Language:   language,
		Results:    results,
		TotalCount: len(results),
	}
	for _, tr := range results {
		r.TotalTimeMs += tr.ExecutionTimeMs
		if tr.Passed {
			r.PassedCount++
		}
	}
	if len(results) > 0 {
		r.AverageTimeMs = float64(r.TotalTimeMs) / float64(len(results))
	}
	return r
}

// RunCodeRequest is a trial run against caller-supplied cases, typically the
// public samples shown with a question.
type RunCodeRequest struct {
	QuestionID string                  `json:"question_id" binding:"omitempty,max=64"`
	Code       string                  `json:"code" binding:"required,max=65536"`
	Language   LanguageRef             `json:"language" binding:"required,language"`
	TestCases  []CreateTestCaseRequest `json:"test_cases" binding:"required,min=1,max=20,dive"`
}

// Cases numbers the supplied cases as case-1, case-2, ...
func (r *RunCodeRequest) Cases() []TestCase {
	out := make([]TestCase, len(r.TestCases))
	for i, tc := range r.TestCases {
		out[i] = TestCase{
			ID:       fmt.Sprintf("case-%d", i+1),
			Input:    tc.Input,
			Expected: tc.Expected,
			IsPublic: true,
		}
	}
	return out
}
