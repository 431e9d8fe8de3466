package tooling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeout bounds a single tool invocation. Tools are local database
// operations; anything slower than this is stuck, not slow.
const DefaultTimeout = 5 * time.Second

// maxAttempts allows exactly one retry for transient failures.
const maxAttempts = 2

// Dispatcher executes tool calls against a Registry.
//
// Dispatcher is safe for concurrent use by multiple goroutines.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. A timeout <= 0 selects DefaultTimeout.
func NewDispatcher(registry *Registry, logger *slog.Logger, timeout time.Duration) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{registry: registry, timeout: timeout, logger: logger}, nil
}

// Invoke runs one tool call and always returns an Outcome; failures are
// encoded, never raised. Transient failures are retried once. A name the
// registry doesn't know yields a VALIDATION_ERROR outcome so a hallucinated
// tool call becomes feedback to the model instead of a crashed turn.
func (d *Dispatcher) Invoke(ctx context.Context, ownerID string, call Call) Outcome {
	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Warn("unknown tool requested", "tool", call.Name)
		return errorOutcome(CodeValidation, fmt.Sprintf("unknown tool %q", call.Name))
	}

	var out Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var retryable bool
		out, retryable = d.attempt(ctx, tool, ownerID, call.Params)
		if out.OK() || !retryable || ctx.Err() != nil {
			break
		}
		d.logger.Debug("retrying tool after transient failure",
			"tool", call.Name, "attempt", attempt, "code", out.ErrorCode)
	}

	if !out.OK() {
		d.logger.Warn("tool call failed",
			"tool", call.Name, "code", out.ErrorCode, "message", out.Message)
	}
	return out
}

// attempt runs the handler once under the per-call timeout and classifies
// the result.
func (d *Dispatcher) attempt(ctx context.Context, tool Tool, ownerID string, params map[string]any) (Outcome, bool) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Handler(callCtx, ownerID, params)
	elapsed := time.Since(start)

	if err == nil {
		d.logger.Debug("tool call ok", "tool", tool.Name, "elapsed", elapsed)
		return okOutcome(result), false
	}
	return classify(err, ctx)
}

// classify maps a handler error to an Outcome and reports whether a retry
// could help.
func classify(err error, parent context.Context) (Outcome, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return errorOutcome(te.Code, te.Message), te.Transient
	}

	// Per-call deadline hit while the parent is still alive: the tool is
	// stuck or the database is slow, worth one more try.
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return errorOutcome(CodeUpstream, "tool call timed out"), true
	}
	if errors.Is(err, context.Canceled) || parent.Err() != nil {
		return errorOutcome(CodeUpstream, "tool call canceled"), false
	}
	if Retryable(err) {
		return errorOutcome(CodeUpstream, err.Error()), true
	}
	return errorOutcome(CodeInternal, err.Error()), false
}

// Retryable matches connection-class failures that did not arrive as a
// classified ToolError. Handlers use it to decide whether a raw storage
// error is worth marking transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range []string{"connection reset", "connection refused", "broken pipe", "unavailable", "timeout"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// InvokeSequence runs calls in order, producing one record per call. A
// failed call is recorded and the chain continues; only parent context
// cancellation stops the sequence early, returning the records completed
// so far.
func (d *Dispatcher) InvokeSequence(ctx context.Context, ownerID string, calls []Call) []ToolCallRecord {
	records := make([]ToolCallRecord, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			d.logger.Warn("tool sequence cut short",
				"completed", len(records), "requested", len(calls))
			break
		}
		out := d.Invoke(ctx, ownerID, call)
		records = append(records, ToolCallRecord{
			SequenceIndex: i,
			ToolName:      call.Name,
			Parameters:    call.Params,
			Outcome:       out,
		})
	}
	return records
}
