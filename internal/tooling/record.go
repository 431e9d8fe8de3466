package tooling

// Status of a completed tool invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Outcome is the result of one tool invocation. Exactly one of Data or the
// error fields is populated, discriminated by Status.
type Outcome struct {
	Status    Status `json:"status"`
	Data      any    `json:"data,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// OK reports whether the invocation succeeded.
func (o Outcome) OK() bool { return o.Status == StatusOK }

func okOutcome(data any) Outcome {
	return Outcome{Status: StatusOK, Data: data}
}

func errorOutcome(code, message string) Outcome {
	return Outcome{Status: StatusError, ErrorCode: code, Message: message}
}

// Call is one requested tool invocation, as extracted from a model response.
type Call struct {
	Name   string
	Params map[string]any
}

// ToolCallRecord is the durable record of one invocation within an
// assistant turn. SequenceIndex is the zero-based position of the call in
// its turn; records are persisted alongside the assistant message in the
// order the calls ran.
type ToolCallRecord struct {
	SequenceIndex int            `json:"sequence_index"`
	ToolName      string         `json:"tool_name"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Outcome       Outcome        `json:"outcome"`
}
