package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/taskmind/taskmind/internal/tooling"
)

// Tool names as advertised to the model.
const (
	ToolAddTask      = "add_task"
	ToolListTasks    = "list_tasks"
	ToolCompleteTask = "complete_task"
	ToolUpdateTask   = "update_task"
	ToolDeleteTask   = "delete_task"
)

// Tool descriptions, shared between the Dispatcher registry and the Genkit
// registration so the model sees the same text on both paths.
const (
	addTaskDescription      = "Create a new task on the user's todo list. Keep the title short and put details in the description."
	listTasksDescription    = "List the user's tasks, newest first. Optionally filter by completion state and page through long lists."
	completeTaskDescription = "Mark a task as completed. Use the task id from list_tasks."
	updateTaskDescription   = "Change a task's title, description, or completion state. Only the fields provided change."
	deleteTaskDescription   = "Permanently remove a task from the user's list. This cannot be undone."
)

// AddTaskInput defines input for the add_task tool.
type AddTaskInput struct {
	Title       string `json:"title" jsonschema_description:"Short title for the task, at most 255 characters"`
	Description string `json:"description,omitempty" jsonschema_description:"Optional longer description"`
}

// ListTasksInput defines input for the list_tasks tool.
type ListTasksInput struct {
	Completed *bool `json:"completed,omitempty" jsonschema_description:"Filter by completion state; omit to list every task"`
	Page      int   `json:"page,omitempty" jsonschema_description:"1-based page number, default 1"`
	PageSize  int   `json:"page_size,omitempty" jsonschema_description:"Tasks per page, 1-100, default 20"`
}

// CompleteTaskInput defines input for the complete_task tool.
type CompleteTaskInput struct {
	TaskID string `json:"task_id" jsonschema_description:"ID of the task to mark as done"`
}

// UpdateTaskInput defines input for the update_task tool.
type UpdateTaskInput struct {
	TaskID      string  `json:"task_id" jsonschema_description:"ID of the task to change"`
	Title       *string `json:"title,omitempty" jsonschema_description:"New title"`
	Description *string `json:"description,omitempty" jsonschema_description:"New description; an empty string clears it"`
	Completed   *bool   `json:"completed,omitempty" jsonschema_description:"New completion state"`
}

// DeleteTaskInput defines input for the delete_task tool.
type DeleteTaskInput struct {
	TaskID string `json:"task_id" jsonschema_description:"ID of the task to delete"`
}

// DeleteResult confirms a deletion back to the model.
type DeleteResult struct {
	Deleted bool   `json:"deleted"`
	TaskID  string `json:"task_id"`
}

// Toolset exposes the task store to the agent and to MCP clients as
// callable tools.
type Toolset struct {
	store *Store
}

// NewToolset creates a Toolset backed by store.
func NewToolset(store *Store) (*Toolset, error) {
	if store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	return &Toolset{store: store}, nil
}

// Tools returns the five task tools with schemas inferred from their
// input structs.
func (ts *Toolset) Tools() ([]tooling.Tool, error) {
	addSchema, err := jsonschema.For[AddTaskInput](nil)
	if err != nil {
		return nil, fmt.Errorf("add_task schema: %w", err)
	}
	listSchema, err := jsonschema.For[ListTasksInput](nil)
	if err != nil {
		return nil, fmt.Errorf("list_tasks schema: %w", err)
	}
	completeSchema, err := jsonschema.For[CompleteTaskInput](nil)
	if err != nil {
		return nil, fmt.Errorf("complete_task schema: %w", err)
	}
	updateSchema, err := jsonschema.For[UpdateTaskInput](nil)
	if err != nil {
		return nil, fmt.Errorf("update_task schema: %w", err)
	}
	deleteSchema, err := jsonschema.For[DeleteTaskInput](nil)
	if err != nil {
		return nil, fmt.Errorf("delete_task schema: %w", err)
	}

	return []tooling.Tool{
		{
			Name:        ToolAddTask,
			Description: addTaskDescription,
			InputSchema: addSchema,
			Handler:     ts.addTask,
		},
		{
			Name:        ToolListTasks,
			Description: listTasksDescription,
			InputSchema: listSchema,
			Handler:     ts.listTasks,
		},
		{
			Name:        ToolCompleteTask,
			Description: completeTaskDescription,
			InputSchema: completeSchema,
			Handler:     ts.completeTask,
		},
		{
			Name:        ToolUpdateTask,
			Description: updateTaskDescription,
			InputSchema: updateSchema,
			Handler:     ts.updateTask,
		},
		{
			Name:        ToolDeleteTask,
			Description: deleteTaskDescription,
			InputSchema: deleteSchema,
			Handler:     ts.deleteTask,
		},
	}, nil
}

func (ts *Toolset) addTask(ctx context.Context, ownerID string, params map[string]any) (any, error) {
	in, err := decodeParams[AddTaskInput](params)
	if err != nil {
		return nil, err
	}

	title, err := cleanTitle(in.Title)
	if err != nil {
		return nil, err
	}
	t, err := ts.store.Create(ctx, ownerID, title, strings.TrimSpace(in.Description))
	if err != nil {
		return nil, storeError(err, "")
	}
	return t, nil
}

func (ts *Toolset) listTasks(ctx context.Context, ownerID string, params map[string]any) (any, error) {
	in, err := decodeParams[ListTasksInput](params)
	if err != nil {
		return nil, err
	}

	page, size := clampPage(in.Page, in.PageSize)
	tasks, total, err := ts.store.List(ctx, ownerID, Filter{
		Completed: in.Completed,
		Limit:     size,
		Offset:    (page - 1) * size,
	})
	if err != nil {
		return nil, storeError(err, "")
	}
	return Page{Tasks: tasks, Total: total, Page: page, PageSize: size}, nil
}

func (ts *Toolset) completeTask(ctx context.Context, ownerID string, params map[string]any) (any, error) {
	in, err := decodeParams[CompleteTaskInput](params)
	if err != nil {
		return nil, err
	}

	id, err := parseTaskID(in.TaskID)
	if err != nil {
		return nil, err
	}
	done := true
	t, err := ts.store.Update(ctx, id, ownerID, Update{Completed: &done})
	if err != nil {
		return nil, storeError(err, in.TaskID)
	}
	return t, nil
}

func (ts *Toolset) updateTask(ctx context.Context, ownerID string, params map[string]any) (any, error) {
	in, err := decodeParams[UpdateTaskInput](params)
	if err != nil {
		return nil, err
	}

	id, err := parseTaskID(in.TaskID)
	if err != nil {
		return nil, err
	}
	if in.Title == nil && in.Description == nil && in.Completed == nil {
		return nil, tooling.Errorf(tooling.CodeValidation,
			"provide at least one of title, description, or completed")
	}
	if in.Title != nil {
		title, err := cleanTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		in.Title = &title
	}

	t, err := ts.store.Update(ctx, id, ownerID, Update{
		Title:       in.Title,
		Description: in.Description,
		Completed:   in.Completed,
	})
	if err != nil {
		return nil, storeError(err, in.TaskID)
	}
	return t, nil
}

func (ts *Toolset) deleteTask(ctx context.Context, ownerID string, params map[string]any) (any, error) {
	in, err := decodeParams[DeleteTaskInput](params)
	if err != nil {
		return nil, err
	}

	id, err := parseTaskID(in.TaskID)
	if err != nil {
		return nil, err
	}
	if err := ts.store.Delete(ctx, id, ownerID); err != nil {
		return nil, storeError(err, in.TaskID)
	}
	return DeleteResult{Deleted: true, TaskID: id.String()}, nil
}

// decodeParams maps loosely-typed tool parameters onto a typed input
// struct. Unknown fields are ignored so a model that invents an extra
// parameter still gets its call through.
func decodeParams[T any](params map[string]any) (T, error) {
	var in T
	raw, err := json.Marshal(params)
	if err != nil {
		return in, tooling.Errorf(tooling.CodeValidation, "invalid parameters: %v", err)
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, tooling.Errorf(tooling.CodeValidation, "invalid parameters: %v", err)
	}
	return in, nil
}

// cleanTitle trims and bounds a task title.
func cleanTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", tooling.Errorf(tooling.CodeValidation, "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleChars {
		return "", tooling.Errorf(tooling.CodeValidation,
			"title must be at most %d characters", maxTitleChars)
	}
	return title, nil
}

// parseTaskID validates the id the model supplied.
func parseTaskID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, tooling.Errorf(tooling.CodeValidation, "task_id must be a UUID, got %q", raw)
	}
	return id, nil
}

// clampPage normalizes model-supplied paging values instead of bouncing
// them back as validation errors.
func clampPage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

// storeError translates store sentinels into classified tool errors; any
// other failure is reported as a database problem, transient when it looks
// like a lost connection.
func storeError(err error, taskID string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		if taskID != "" {
			return tooling.Errorf(tooling.CodeNotFound, "no task with id %s", taskID)
		}
		return tooling.Errorf(tooling.CodeNotFound, "task not found")
	case errors.Is(err, ErrForbidden):
		return tooling.Errorf(tooling.CodeAuthorization, "task %s belongs to another user", taskID)
	case tooling.Retryable(err):
		return tooling.TransientErrorf(tooling.CodeDatabase, "task storage unavailable: %v", err)
	default:
		return tooling.Errorf(tooling.CodeDatabase, "task storage failed: %v", err)
	}
}
