package websocket

import "github.com/stemsi/uexam-backend/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer     Action = "answer"
	ActionGoTo       Action = "goto"
	ActionNext       Action = "next"
	ActionPrevious   Action = "previous"
	ActionFlag       Action = "flag"
	ActionRun        Action = "run"
	ActionSubmitCode Action = "submit_code"
	ActionSubmit     Action = "submit"
	ActionSubmitLast Action = "submit_last"
	ActionVisibility Action = "visibility"
	ActionFullscreen Action = "fullscreen"
	ActionPing       Action = "ping"
)

// Request is a client message. Fields are read according to Action.
type Request struct {
	Action Action `json:"action"`

	// answer, flag, run, submit_code
	QuestionID string `json:"question_id,omitempty"`
	// answer: the selected option index of an MCQ
	Value string `json:"value,omitempty"`
	// goto
	Index int `json:"index,omitempty"`
	// run, submit_code
	Code     string            `json:"code,omitempty"`
	Language model.LanguageRef `json:"language,omitempty"`
	// visibility
	Hidden bool `json:"hidden,omitempty"`
	// fullscreen
	Fullscreen bool `json:"fullscreen,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventResults   Event = "results"
	EventViolation Event = "violation"
	EventSubmitted Event = "submitted"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// Message is every server → client frame.
type Message struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

type TickData struct {
	Remaining int  `json:"time_remaining"`
	LowTime   bool `json:"low_time"`
}

type ResultsData struct {
	Mode   Action                 `json:"mode"` // run or submit_code
	Report *model.ExecutionReport `json:"report"`
}

type SubmittedData struct {
	Reason      model.SubmitReason `json:"reason"`
	Answered    int                `json:"answered"`
	TimeSpent   int                `json:"time_spent"`
	Violations  int                `json:"violations"`
	SubmitError string             `json:"submit_error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
