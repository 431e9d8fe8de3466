package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/taskmind/taskmind/internal/task"
	"github.com/taskmind/taskmind/internal/tooling"
)

// Input structs mirror the agent-facing task tools plus the explicit
// owner_id field (see package doc).

// AddTaskInput defines input for the add_task tool.
type AddTaskInput struct {
	OwnerID     string `json:"owner_id" jsonschema_description:"User whose list the task goes on"`
	Title       string `json:"title" jsonschema_description:"Short title for the task, at most 255 characters"`
	Description string `json:"description,omitempty" jsonschema_description:"Optional longer description"`
}

// ListTasksInput defines input for the list_tasks tool.
type ListTasksInput struct {
	OwnerID   string `json:"owner_id" jsonschema_description:"User whose tasks to list"`
	Completed *bool  `json:"completed,omitempty" jsonschema_description:"Filter by completion state; omit to list every task"`
	Page      int    `json:"page,omitempty" jsonschema_description:"1-based page number, default 1"`
	PageSize  int    `json:"page_size,omitempty" jsonschema_description:"Tasks per page, 1-100, default 20"`
}

// CompleteTaskInput defines input for the complete_task tool.
type CompleteTaskInput struct {
	OwnerID string `json:"owner_id" jsonschema_description:"User who owns the task"`
	TaskID  string `json:"task_id" jsonschema_description:"ID of the task to mark as done"`
}

// UpdateTaskInput defines input for the update_task tool.
type UpdateTaskInput struct {
	OwnerID     string  `json:"owner_id" jsonschema_description:"User who owns the task"`
	TaskID      string  `json:"task_id" jsonschema_description:"ID of the task to change"`
	Title       *string `json:"title,omitempty" jsonschema_description:"New title"`
	Description *string `json:"description,omitempty" jsonschema_description:"New description; an empty string clears it"`
	Completed   *bool   `json:"completed,omitempty" jsonschema_description:"New completion state"`
}

// DeleteTaskInput defines input for the delete_task tool.
type DeleteTaskInput struct {
	OwnerID string `json:"owner_id" jsonschema_description:"User who owns the task"`
	TaskID  string `json:"task_id" jsonschema_description:"ID of the task to delete"`
}

// registerTaskTools registers the five task tools on the MCP server.
func (s *Server) registerTaskTools() error {
	addSchema, err := jsonschema.For[AddTaskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", task.ToolAddTask, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        task.ToolAddTask,
		Description: "Create a new task on a user's todo list.",
		InputSchema: addSchema,
	}, s.addTask)

	listSchema, err := jsonschema.For[ListTasksInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", task.ToolListTasks, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        task.ToolListTasks,
		Description: "List a user's tasks, newest first, optionally filtered by completion state.",
		InputSchema: listSchema,
	}, s.listTasks)

	completeSchema, err := jsonschema.For[CompleteTaskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", task.ToolCompleteTask, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        task.ToolCompleteTask,
		Description: "Mark a task as completed.",
		InputSchema: completeSchema,
	}, s.completeTask)

	updateSchema, err := jsonschema.For[UpdateTaskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", task.ToolUpdateTask, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        task.ToolUpdateTask,
		Description: "Change a task's title, description, or completion state.",
		InputSchema: updateSchema,
	}, s.updateTask)

	deleteSchema, err := jsonschema.For[DeleteTaskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", task.ToolDeleteTask, err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        task.ToolDeleteTask,
		Description: "Permanently remove a task. This cannot be undone.",
		InputSchema: deleteSchema,
	}, s.deleteTask)

	return nil
}

func (s *Server) addTask(ctx context.Context, req *mcp.CallToolRequest, in AddTaskInput) (*mcp.CallToolResult, any, error) {
	return s.dispatch(ctx, in.OwnerID, task.ToolAddTask, map[string]any{
		"title":       in.Title,
		"description": in.Description,
	})
}

func (s *Server) listTasks(ctx context.Context, req *mcp.CallToolRequest, in ListTasksInput) (*mcp.CallToolResult, any, error) {
	params := map[string]any{}
	if in.Completed != nil {
		params["completed"] = *in.Completed
	}
	if in.Page > 0 {
		params["page"] = in.Page
	}
	if in.PageSize > 0 {
		params["page_size"] = in.PageSize
	}
	return s.dispatch(ctx, in.OwnerID, task.ToolListTasks, params)
}

func (s *Server) completeTask(ctx context.Context, req *mcp.CallToolRequest, in CompleteTaskInput) (*mcp.CallToolResult, any, error) {
	return s.dispatch(ctx, in.OwnerID, task.ToolCompleteTask, map[string]any{
		"task_id": in.TaskID,
	})
}

func (s *Server) updateTask(ctx context.Context, req *mcp.CallToolRequest, in UpdateTaskInput) (*mcp.CallToolResult, any, error) {
	params := map[string]any{"task_id": in.TaskID}
	if in.Title != nil {
		params["title"] = *in.Title
	}
	if in.Description != nil {
		params["description"] = *in.Description
	}
	if in.Completed != nil {
		params["completed"] = *in.Completed
	}
	return s.dispatch(ctx, in.OwnerID, task.ToolUpdateTask, params)
}

func (s *Server) deleteTask(ctx context.Context, req *mcp.CallToolRequest, in DeleteTaskInput) (*mcp.CallToolResult, any, error) {
	return s.dispatch(ctx, in.OwnerID, task.ToolDeleteTask, map[string]any{
		"task_id": in.TaskID,
	})
}

// dispatch runs one tool call for the given owner and renders the outcome.
// Failures come back as error results, never as protocol errors, so the
// client always sees what went wrong.
func (s *Server) dispatch(ctx context.Context, ownerID, tool string, params map[string]any) (*mcp.CallToolResult, any, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return errorResult(tooling.CodeValidation, "owner_id is required"), nil, nil
	}

	out := s.dispatcher.Invoke(ctx, ownerID, tooling.Call{Name: tool, Params: params})
	return outcomeToMCP(out), nil, nil
}
