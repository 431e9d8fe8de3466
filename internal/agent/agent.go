// Package agent runs the conversational decision loop. Each Run takes the
// persisted history plus one user message, lets the model decide between
// answering directly and calling task tools, executes requested calls
// through the tooling Dispatcher, and feeds the outcomes back until the
// model settles on a final reply or a safety limit stops the exchange.
//
// The loop owns tool execution. Tool declarations are advertised to the
// model via pre-registered Genkit tools, but requests come back to this
// package (return-tool-requests mode) so every invocation is dispatched,
// recorded, and owner-scoped in one place.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/tooling"
)

// Defaults applied by New for zero Config values.
const (
	// DefaultMaxTurns bounds how many times the model may decide per
	// exchange. Each tool round consumes one turn.
	DefaultMaxTurns = 5

	// DefaultRunBudget is the wall-clock limit for one full exchange,
	// model calls and tool executions included.
	DefaultRunBudget = 60 * time.Second

	// DefaultHistoryWindow is how many persisted messages are replayed
	// to the model as context.
	DefaultHistoryWindow = 10
)

// Config configures an Agent.
type Config struct {
	Genkit     *genkit.Genkit      // Required
	Dispatcher *tooling.Dispatcher // Required: executes tool requests
	Logger     *slog.Logger        // Optional: defaults to slog.Default()

	// Tools are the pre-registered Genkit tools (task.RegisterTools)
	// whose declarations the model sees. Execution still goes through
	// the Dispatcher.
	Tools []ai.Tool

	// ModelName selects the model, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// Temperature is passed to the model when > 0.
	Temperature float64

	MaxTurns      int           // Optional: defaults to DefaultMaxTurns
	RunBudget     time.Duration // Optional: defaults to DefaultRunBudget
	HistoryWindow int           // Optional: defaults to DefaultHistoryWindow

	Retry   RetryConfig   // Optional: defaults to DefaultRetryConfig()
	Breaker BreakerConfig // Optional: defaults to DefaultBreakerConfig()

	// RateLimiter bounds outbound model calls process-wide. Defaults to
	// 10 req/s with a burst of 30.
	RateLimiter *rate.Limiter
}

func (cfg *Config) validate() error {
	if cfg.Genkit == nil {
		return fmt.Errorf("genkit instance is required")
	}
	if cfg.Dispatcher == nil {
		return fmt.Errorf("dispatcher is required")
	}
	if cfg.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// Agent drives one conversational exchange at a time. Safe for concurrent
// use; all per-exchange state lives in Run.
type Agent struct {
	g          *genkit.Genkit
	dispatcher *tooling.Dispatcher
	logger     *slog.Logger

	toolRefs  []ai.ToolRef // Cached at construction for ai.WithTools()
	toolNames string       // Cached for logging

	modelName   string
	temperature float64

	maxTurns      int
	runBudget     time.Duration
	historyWindow int

	retryConfig RetryConfig
	breaker     *breaker
	rateLimiter *rate.Limiter
}

// New creates an Agent from cfg, applying defaults for optional fields.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	runBudget := cfg.RunBudget
	if runBudget <= 0 {
		runBudget = DefaultRunBudget
	}
	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}

	retryConfig := cfg.Retry
	if retryConfig.MaxRetries == 0 && retryConfig.InitialInterval == 0 {
		retryConfig = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	a := &Agent{
		g:          cfg.Genkit,
		dispatcher: cfg.Dispatcher,
		logger:     logger,

		toolRefs:  toolRefs,
		toolNames: strings.Join(names, ", "),

		modelName:   cfg.ModelName,
		temperature: cfg.Temperature,

		maxTurns:      maxTurns,
		runBudget:     runBudget,
		historyWindow: historyWindow,

		retryConfig: retryConfig,
		breaker:     newBreaker(cfg.Breaker),
		rateLimiter: rl,
	}

	a.logger.Info("agent initialized",
		"model", a.modelName,
		"tools", len(toolRefs),
		"max_turns", a.maxTurns,
	)
	return a, nil
}

// Result is the outcome of one exchange: the assistant's reply text and
// the record of every tool call that actually executed, in order.
type Result struct {
	Text      string
	ToolCalls []tooling.ToolCallRecord
}

// Run executes one exchange for ownerID. history is the persisted
// conversation so far, oldest first; input is the new user message.
//
// Run never surfaces model failures as errors: when the model cannot be
// reached the reply degrades to an apology and the calls that did execute
// are still reported. The returned error is reserved for caller mistakes
// and for the caller's own context being canceled.
func (a *Agent) Run(ctx context.Context, ownerID string, history []conversation.Message, input string) (*Result, error) {
	if strings.TrimSpace(input) == "" {
		return &Result{Text: clarifyReply}, nil
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, a.runBudget)
	defer cancel()
	runCtx = tooling.WithOwner(runCtx, ownerID)

	messages := historyMessages(history, a.historyWindow)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	var records []tooling.ToolCallRecord

	for turn := 0; turn < a.maxTurns; turn++ {
		resp, err := a.generate(runCtx, messages)
		if err != nil {
			return a.degraded(ctx, runCtx, err, records)
		}

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			text := strings.TrimSpace(resp.Text())
			// Fallback only when truly empty: empty text alongside tool
			// requests is normal agentic behavior.
			if text == "" {
				a.logger.Warn("model returned empty response with no tool requests")
				text = fallbackReply
			}
			return &Result{Text: text, ToolCalls: records}, nil
		}

		a.logger.Debug("model requested tools",
			"turn", turn+1,
			"requests", len(requests),
		)

		calls := make([]tooling.Call, len(requests))
		for i, req := range requests {
			calls[i] = tooling.Call{Name: req.Name, Params: callParams(req.Input)}
		}

		// Records are numbered across the whole exchange, so later rounds
		// continue where earlier ones stopped.
		base := len(records)
		batch := a.dispatcher.InvokeSequence(runCtx, ownerID, calls)
		for i := range batch {
			batch[i].SequenceIndex = base + i
		}
		records = append(records, batch...)

		if resp.Message != nil {
			messages = append(messages, resp.Message)
		}
		messages = append(messages, toolResponseMessage(requests, batch))
	}

	a.logger.Warn("turn cap reached before a final reply",
		"max_turns", a.maxTurns,
		"tool_calls", len(records),
	)
	return &Result{Text: truncatedReply(records), ToolCalls: records}, nil
}

// degraded converts a failed model call into a reply the user can act on.
// Tool calls that already ran stay in the result so the caller persists
// what actually happened.
func (a *Agent) degraded(ctx, runCtx context.Context, err error, records []tooling.ToolCallRecord) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		a.logger.Warn("run budget exhausted", "budget", a.runBudget, "error", err)
		return &Result{Text: overBudgetReply, ToolCalls: records}, nil
	}
	a.logger.Error("model generation failed", "error", err)
	return &Result{Text: troubleReply, ToolCalls: records}, nil
}

// generate performs one model call with the circuit breaker and retry
// wrapped around it. Tool requests are returned to the loop rather than
// executed by Genkit.
func (a *Agent) generate(ctx context.Context, messages []*ai.Message) (*ai.ModelResponse, error) {
	if err := a.breaker.allow(); err != nil {
		a.logger.Warn("circuit breaker rejecting model call",
			"state", a.breaker.currentState().String())
		return nil, fmt.Errorf("model unavailable: %w", err)
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(a.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
		ai.WithTools(a.toolRefs...),
		ai.WithReturnToolRequests(true),
	}
	if a.temperature > 0 {
		temp := float32(a.temperature)
		opts = append(opts, ai.WithConfig(&genai.GenerateContentConfig{Temperature: &temp}))
	}

	a.logger.Debug("calling model",
		"model", a.modelName,
		"tools", a.toolNames,
		"messages", len(messages),
	)

	resp, err := a.generateWithRetry(ctx, opts)
	if err != nil {
		a.breaker.failure()
		return nil, err
	}
	a.breaker.success()
	return resp, nil
}

// historyMessages converts the last window persisted messages into model
// messages. Only the text survives the round trip; tool activity from past
// exchanges stays in storage.
func historyMessages(history []conversation.Message, window int) []*ai.Message {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	msgs := make([]*ai.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(m.Content)))
		case conversation.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(m.Content)))
		}
	}
	return msgs
}

// callParams extracts the parameter map from a tool request input.
func callParams(input any) map[string]any {
	switch v := input.(type) {
	case nil:
		return nil
	case map[string]any:
		return v
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil
	}
	return params
}

// toolResponseMessage packages one round of outcomes as the tool message
// the model reads next turn. Refs are copied from the requests so the
// model can correlate parallel calls.
func toolResponseMessage(requests []*ai.ToolRequest, records []tooling.ToolCallRecord) *ai.Message {
	parts := make([]*ai.Part, len(requests))
	for i, req := range requests {
		parts[i] = ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   req.Name,
			Ref:    req.Ref,
			Output: outcomePayload(records[i].Outcome),
		})
	}
	return &ai.Message{Role: ai.RoleTool, Content: parts}
}

// outcomePayload renders an outcome for the model. Authorization failures
// are reported as plain not-found so a reply can never reveal that the
// task exists under a different owner.
func outcomePayload(o tooling.Outcome) map[string]any {
	if o.OK() {
		return map[string]any{"status": "ok", "data": o.Data}
	}
	code, message := o.ErrorCode, o.Message
	if code == tooling.CodeAuthorization {
		code = tooling.CodeNotFound
		message = "task not found"
	}
	return map[string]any{"status": "error", "error_code": code, "message": message}
}
