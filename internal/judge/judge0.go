// Package judge evaluates code submissions against test cases on a Judge0-compatible
// execution service.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrServiceUnavailable means the execution service could not evaluate anything:
	// it is unreachable, rejects our credentials or is not configured.
	ErrServiceUnavailable  = errors.New("code execution service unavailable")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// Judge0 status ids.
const (
	StatusInQueue             = 1
	StatusProcessing          = 2
	StatusAccepted            = 3
	StatusWrongAnswer         = 4
	StatusTimeLimitExceeded   = 5
	StatusCompilationError    = 6
	StatusRuntimeErrorSIGSEGV = 7
	StatusRuntimeErrorOther   = 12
	StatusInternalError       = 13
	StatusExecFormatError     = 14
)

// ExecutionRequest is one program run.
type ExecutionRequest struct {
	SourceCode string
	LanguageID int
	Stdin      string
}

// Status is the judge's verdict for a run.
type Status struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// ExecutionResponse is the judge's raw answer for one run.
type ExecutionResponse struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Message       string `json:"message"`
	Status        Status `json:"status"`
	Time          string `json:"time"`
	Memory        int64  `json:"memory"`
}

// TimeMs converts the judge's "seconds" time string into milliseconds.
func (r *ExecutionResponse) TimeMs() int64 {
	if r.Time == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(r.Time, 64)
	if err != nil {
		return 0
	}
	return int64(secs*1000 + 0.5)
}

// Executor runs a single program.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error)
}

// Judge0Config configures a Judge0Executor.
type Judge0Config struct {
	BaseURL      string
	APIKey       string
	APIHost      string
	CPUTimeLimit float64
	MemoryLimit  int
	Timeout      time.Duration
}

// Judge0Executor talks to Judge0's synchronous submissions endpoint.
type Judge0Executor struct {
	cfg    Judge0Config
	client *http.Client
}

// NewJudge0Executor creates an executor. A zero timeout leaves only the judge's own limits.
func NewJudge0Executor(cfg Judge0Config) *Judge0Executor {
	if cfg.CPUTimeLimit <= 0 {
		cfg.CPUTimeLimit = 3
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 256000
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Judge0Executor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type submissionBody struct {
	LanguageID     int     `json:"language_id"`
	SourceCode     string  `json:"source_code"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput *string `json:"expected_output"`
	CPUTimeLimit   float64 `json:"cpu_time_limit"`
	MemoryLimit    int     `json:"memory_limit"`
}

// Execute submits the program and waits for its verdict.
func (e *Judge0Executor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	if e.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: judge URL not configured", ErrServiceUnavailable)
	}

	body, err := json.Marshal(submissionBody{
		LanguageID:   req.LanguageID,
		SourceCode:   req.SourceCode,
		Stdin:        req.Stdin,
		CPUTimeLimit: e.cfg.CPUTimeLimit,
		MemoryLimit:  e.cfg.MemoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal submission: %w", err)
	}

	url := e.cfg.BaseURL + "/submissions?base64_encoded=false&wait=true"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrServiceUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("X-RapidAPI-Key", e.cfg.APIKey)
	}
	if e.cfg.APIHost != "" {
		httpReq.Header.Set("X-RapidAPI-Host", e.cfg.APIHost)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("judge submission failed: %d - %s", resp.StatusCode, strings.TrimSpace(string(text)))
		if unavailableStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return nil, err
	}

	var out ExecutionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode judge response: %w", err)
	}
	return &out, nil
}

// unavailableStatus reports HTTP statuses that mean no submission can succeed:
// bad credentials, a wrong endpoint, throttling or a server-side failure.
func unavailableStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
