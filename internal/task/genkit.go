package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/taskmind/taskmind/internal/tooling"
)

// RegisterTools registers the five task tools with Genkit and returns the
// registered handles. Registration is what advertises the declarations to
// the model; the agent loop executes requests itself through the
// Dispatcher, so these handlers only run when something else (a flow, the
// reflection UI) invokes a tool directly. They resolve the owner stamped
// by tooling.WithOwner and delegate to the same handlers the Dispatcher
// uses.
func RegisterTools(g *genkit.Genkit, ts *Toolset) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if ts == nil {
		return nil, fmt.Errorf("toolset is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, ToolAddTask, addTaskDescription,
			func(tc *ai.ToolContext, input AddTaskInput) (*Task, error) {
				return invoke[*Task](tc, ts.addTask, input)
			}),
		genkit.DefineTool(g, ToolListTasks, listTasksDescription,
			func(tc *ai.ToolContext, input ListTasksInput) (Page, error) {
				return invoke[Page](tc, ts.listTasks, input)
			}),
		genkit.DefineTool(g, ToolCompleteTask, completeTaskDescription,
			func(tc *ai.ToolContext, input CompleteTaskInput) (*Task, error) {
				return invoke[*Task](tc, ts.completeTask, input)
			}),
		genkit.DefineTool(g, ToolUpdateTask, updateTaskDescription,
			func(tc *ai.ToolContext, input UpdateTaskInput) (*Task, error) {
				return invoke[*Task](tc, ts.updateTask, input)
			}),
		genkit.DefineTool(g, ToolDeleteTask, deleteTaskDescription,
			func(tc *ai.ToolContext, input DeleteTaskInput) (DeleteResult, error) {
				return invoke[DeleteResult](tc, ts.deleteTask, input)
			}),
	}, nil
}

// invoke adapts a Dispatcher handler for direct Genkit invocation: owner
// from context, typed input flattened to the parameter map the handler
// expects.
func invoke[Out any](tc *ai.ToolContext, h tooling.Handler, input any) (Out, error) {
	var zero Out

	ctx := tc.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ownerID, ok := tooling.OwnerFromContext(ctx)
	if !ok || ownerID == "" {
		return zero, tooling.Errorf(tooling.CodeAuthentication, "no authenticated user on this request")
	}

	params, err := toParams(input)
	if err != nil {
		return zero, err
	}
	out, err := h(ctx, ownerID, params)
	if err != nil {
		return zero, err
	}
	typed, ok := out.(Out)
	if !ok {
		return zero, tooling.Errorf(tooling.CodeInternal, "unexpected result type %T", out)
	}
	return typed, nil
}

// toParams flattens a typed tool input into the loosely-typed parameter
// map the Dispatcher handlers take.
func toParams(input any) (map[string]any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, tooling.Errorf(tooling.CodeValidation, "invalid parameters: %v", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, tooling.Errorf(tooling.CodeValidation, "invalid parameters: %v", err)
	}
	return params, nil
}
