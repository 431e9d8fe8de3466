//go:build integration
// +build integration

package task

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmind/taskmind/internal/testutil"
	"github.com/taskmind/taskmind/internal/tooling"
)

var sharedDB *testutil.TestDBContainer

func TestMain(m *testing.M) {
	var (
		cleanup func()
		err     error
	)
	sharedDB, cleanup, err = testutil.SetupTestDBForMain()
	if err != nil {
		log.Fatalf("starting test database: %v", err)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	testutil.CleanTables(t, sharedDB.Pool)

	store, err := NewStore(sharedDB.Pool, testutil.DiscardLogger())
	require.NoError(t, err, "NewStore should succeed with a live pool")
	return store
}

func mustCreate(t *testing.T, store *Store, ownerID, title string) *Task {
	t.Helper()
	task, err := store.Create(context.Background(), ownerID, title, "")
	require.NoError(t, err, "Create(%q)", title)
	return task
}

func TestStoreCreateAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "owner-a", "buy milk", "two liters")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID, "Create should assign an ID")
	assert.False(t, created.Completed, "new task must start open")
	assert.Equal(t, "two liters", created.Description)

	got, err := store.Get(ctx, created.ID, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", got.Title)
	assert.Equal(t, "owner-a", got.OwnerID)
}

func TestStoreCreate_EmptyDescriptionIsNull(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, "owner-a", "buy milk")

	var desc *string
	err := sharedDB.Pool.QueryRow(ctx,
		`SELECT description FROM tasks WHERE id = $1`, created.ID).Scan(&desc)
	require.NoError(t, err, "querying stored description")
	assert.Nil(t, desc, "empty description should be stored as NULL")
}

func TestStoreGet_OwnershipSentinels(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, "owner-a", "buy milk")

	_, err := store.Get(ctx, uuid.New(), "owner-a")
	assert.ErrorIs(t, err, ErrNotFound, "random id should be not found")

	_, err = store.Get(ctx, created.ID, "owner-b")
	assert.ErrorIs(t, err, ErrForbidden, "foreign owner should be forbidden")
}

func TestStoreList_FilterAndPaging(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	var last *Task
	for i := 1; i <= 5; i++ {
		last = mustCreate(t, store, "owner-a", fmt.Sprintf("task %d", i))
		time.Sleep(5 * time.Millisecond)
	}
	done := true
	_, err := store.Update(ctx, last.ID, "owner-a", Update{Completed: &done})
	require.NoError(t, err, "completing task")
	mustCreate(t, store, "owner-b", "foreign task")

	all, total, err := store.List(ctx, "owner-a", Filter{})
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Len(t, all, 5)
	assert.Equal(t, "task 5", all[0].Title, "newest first")
	assert.Equal(t, "task 1", all[4].Title)

	completed, total, err := store.List(ctx, "owner-a", Filter{Completed: &done})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, completed, 1)
	assert.Equal(t, "task 5", completed[0].Title)

	open := false
	pending, total, err := store.List(ctx, "owner-a", Filter{Completed: &open})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Len(t, pending, 4)

	page2, total, err := store.List(ctx, "owner-a", Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total, "total counts all matches, not the page")
	require.Len(t, page2, 2)
	assert.Equal(t, "task 3", page2[0].Title)
}

func TestStoreUpdate(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "owner-a", "buy milk", "two liters")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	newTitle := "buy oat milk"
	updated, err := store.Update(ctx, created.ID, "owner-a", Update{Title: &newTitle})
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", updated.Title)
	assert.Equal(t, "two liters", updated.Description, "untouched field must survive")
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt),
		"updated_at not bumped: %v -> %v", created.UpdatedAt, updated.UpdatedAt)

	done := true
	updated, err = store.Update(ctx, created.ID, "owner-a", Update{Completed: &done})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "buy oat milk", updated.Title)

	empty := ""
	updated, err = store.Update(ctx, created.ID, "owner-a", Update{Description: &empty})
	require.NoError(t, err)
	assert.Empty(t, updated.Description, "explicit empty string clears the description")

	_, err = store.Update(ctx, uuid.New(), "owner-a", Update{Completed: &done})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Update(ctx, created.ID, "owner-b", Update{Completed: &done})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestStoreDelete(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, "owner-a", "buy milk")

	err := store.Delete(ctx, created.ID, "owner-b")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, store.Delete(ctx, created.ID, "owner-a"))

	_, err = store.Get(ctx, created.ID, "owner-a")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.Delete(ctx, created.ID, "owner-a")
	assert.ErrorIs(t, err, ErrNotFound, "second delete should report not found")
}

// setupDispatcher wires the toolset into a real registry and dispatcher,
// the same path the agent uses.
func setupDispatcher(t *testing.T, store *Store) *tooling.Dispatcher {
	t.Helper()

	toolset, err := NewToolset(store)
	require.NoError(t, err, "NewToolset")
	tools, err := toolset.Tools()
	require.NoError(t, err, "Tools")
	registry, err := tooling.NewRegistry(tools...)
	require.NoError(t, err, "NewRegistry")
	dispatcher, err := tooling.NewDispatcher(registry, testutil.DiscardLogger(), 0)
	require.NoError(t, err, "NewDispatcher")
	return dispatcher
}

func TestToolsThroughDispatcher(t *testing.T) {
	store := setupStore(t)
	dispatcher := setupDispatcher(t, store)
	ctx := context.Background()

	out := dispatcher.Invoke(ctx, "owner-a", tooling.Call{
		Name:   ToolAddTask,
		Params: map[string]any{"title": "buy milk", "description": "two liters"},
	})
	require.True(t, out.OK(), "add_task outcome = %+v", out)
	created, ok := out.Data.(*Task)
	require.True(t, ok, "add_task data = %T", out.Data)

	out = dispatcher.Invoke(ctx, "owner-a", tooling.Call{
		Name:   ToolListTasks,
		Params: map[string]any{},
	})
	require.True(t, out.OK(), "list_tasks outcome = %+v", out)
	page, ok := out.Data.(Page)
	require.True(t, ok, "list_tasks data = %T", out.Data)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, created.ID, page.Tasks[0].ID)

	out = dispatcher.Invoke(ctx, "owner-a", tooling.Call{
		Name:   ToolCompleteTask,
		Params: map[string]any{"task_id": created.ID.String()},
	})
	require.True(t, out.OK(), "complete_task outcome = %+v", out)
	assert.True(t, out.Data.(*Task).Completed, "complete_task left task open")

	out = dispatcher.Invoke(ctx, "owner-a", tooling.Call{
		Name:   ToolDeleteTask,
		Params: map[string]any{"task_id": created.ID.String()},
	})
	require.True(t, out.OK(), "delete_task outcome = %+v", out)
	_, err := store.Get(ctx, created.ID, "owner-a")
	assert.ErrorIs(t, err, ErrNotFound, "task survived delete_task")
}

func TestToolOutcomeCodes(t *testing.T) {
	store := setupStore(t)
	dispatcher := setupDispatcher(t, store)
	ctx := context.Background()

	foreign := mustCreate(t, store, "owner-b", "foreign task")

	tests := []struct {
		name     string
		call     tooling.Call
		wantCode string
	}{
		{
			"missing task",
			tooling.Call{Name: ToolCompleteTask, Params: map[string]any{"task_id": uuid.New().String()}},
			tooling.CodeNotFound,
		},
		{
			"foreign task",
			tooling.Call{Name: ToolDeleteTask, Params: map[string]any{"task_id": foreign.ID.String()}},
			tooling.CodeAuthorization,
		},
		{
			"invalid id",
			tooling.Call{Name: ToolCompleteTask, Params: map[string]any{"task_id": "the milk one"}},
			tooling.CodeValidation,
		},
		{
			"unknown tool",
			tooling.Call{Name: "archive_task", Params: map[string]any{}},
			tooling.CodeValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := dispatcher.Invoke(ctx, "owner-a", tt.call)
			require.False(t, out.OK(), "outcome unexpectedly ok: %+v", out)
			assert.Equal(t, tt.wantCode, out.ErrorCode)
		})
	}

	// The failed attempts above must not have touched owner-b's data.
	_, err := store.Get(ctx, foreign.ID, "owner-b")
	assert.NoError(t, err, "foreign task damaged")
}

func TestUpdateToolPartialChange(t *testing.T) {
	store := setupStore(t)
	dispatcher := setupDispatcher(t, store)
	ctx := context.Background()

	created, err := store.Create(ctx, "owner-a", "buy milk", "two liters")
	require.NoError(t, err)

	out := dispatcher.Invoke(ctx, "owner-a", tooling.Call{
		Name: ToolUpdateTask,
		Params: map[string]any{
			"task_id": created.ID.String(),
			"title":   "buy oat milk",
		},
	})
	require.True(t, out.OK(), "update_task outcome = %+v", out)
	updated := out.Data.(*Task)
	assert.Equal(t, "buy oat milk", updated.Title)
	assert.Equal(t, "two liters", updated.Description)
	assert.False(t, updated.Completed)
}
