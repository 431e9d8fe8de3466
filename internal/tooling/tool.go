// Package tooling defines the tools an agent may invoke and the dispatcher
// that executes them.
//
// A Tool couples a JSON Schema (advertised to the model and to MCP clients)
// with a Handler that runs on behalf of an authenticated owner. The
// Dispatcher executes tool calls with a per-call timeout, retries transient
// failures once, and records every invocation as a ToolCallRecord whether it
// succeeded or not. A failed call never aborts the calls after it; the model
// sees each outcome and decides what to do next.
package tooling

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Error codes surfaced in tool outcomes. The agent translates these into
// user-facing language; they never reach the HTTP envelope directly.
const (
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeValidation     = "VALIDATION_ERROR"
	CodeDatabase       = "DATABASE_ERROR"
	CodeUpstream       = "UPSTREAM_UNAVAILABLE"
	CodeInternal       = "INTERNAL_ERROR"
)

// Handler executes a tool call for the given owner. Implementations must
// honor ctx cancellation and scope every data access to ownerID.
type Handler func(ctx context.Context, ownerID string, params map[string]any) (any, error)

// Tool is one callable capability.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Handler     Handler
}

// ToolError is a classified tool failure. Handlers return it to control the
// error code recorded in the outcome; any other error is recorded as
// INTERNAL_ERROR.
type ToolError struct {
	Code    string
	Message string

	// Transient marks failures worth one retry (connection loss, upstream
	// hiccup). Ownership and validation failures are never transient.
	Transient bool
}

func (e *ToolError) Error() string {
	return e.Code + ": " + e.Message
}

// Errorf builds a non-transient ToolError.
func Errorf(code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// TransientErrorf builds a ToolError eligible for one retry.
func TransientErrorf(code, format string, args ...any) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...), Transient: true}
}
