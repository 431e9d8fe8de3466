package agent

import (
	"fmt"
	"strings"

	"github.com/taskmind/taskmind/internal/tooling"
)

// Replies the orchestrator composes itself, without the model.
const (
	// clarifyReply answers an empty or whitespace-only user message.
	clarifyReply = "I didn't catch that. What would you like to do with your tasks?"

	// fallbackReply covers a model response with neither text nor tool
	// requests.
	fallbackReply = "I'm sorry, I couldn't come up with a response. Please try rephrasing."

	// troubleReply covers an unreachable or persistently failing model.
	troubleReply = "I'm having trouble right now. Please try again in a moment."

	// overBudgetReply covers an exchange stopped by the run budget.
	overBudgetReply = "This is taking longer than expected, so I had to stop. Please try again."
)

// userFacing translates a tool error code into the sentence shown when the
// orchestrator has to speak for a failed call itself. Raw codes never reach
// the user.
func userFacing(code string) string {
	switch code {
	case tooling.CodeAuthentication:
		return "Your authentication token expired. Please log in again."
	case tooling.CodeAuthorization:
		return "I don't see that task in your list."
	case tooling.CodeNotFound:
		return "I couldn't find the task you're looking for."
	case tooling.CodeValidation:
		return "That doesn't seem right. Can you try again?"
	case tooling.CodeDatabase:
		return "I'm having trouble reaching the database. Please try again in a moment."
	default:
		return "Something went wrong. Please try again later."
	}
}

// truncatedReply summarizes an exchange the turn cap cut short: how many
// steps completed plus the first problem hit, if any.
func truncatedReply(records []tooling.ToolCallRecord) string {
	done := 0
	var firstProblem string
	for _, r := range records {
		if r.Outcome.OK() {
			done++
		} else if firstProblem == "" {
			firstProblem = userFacing(r.Outcome.ErrorCode)
		}
	}

	var b strings.Builder
	b.WriteString("I had to stop before finishing.")
	switch done {
	case 0:
	case 1:
		b.WriteString(" I completed 1 step of your request.")
	default:
		fmt.Fprintf(&b, " I completed %d steps of your request.", done)
	}
	if firstProblem != "" {
		b.WriteString(" " + firstProblem)
	}
	b.WriteString(" Tell me how you'd like to continue.")
	return b.String()
}
