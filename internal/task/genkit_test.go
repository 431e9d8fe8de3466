package task

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/taskmind/taskmind/internal/tooling"
)

func TestRegisterTools_NilArgs(t *testing.T) {
	t.Parallel()

	g := genkit.Init(context.Background())
	if _, err := RegisterTools(nil, validationToolset(t)); err == nil {
		t.Error("RegisterTools(nil, ts) succeeded, want error")
	}
	if _, err := RegisterTools(g, nil); err == nil {
		t.Error("RegisterTools(g, nil) succeeded, want error")
	}
}

func TestRegisterTools_Names(t *testing.T) {
	t.Parallel()

	g := genkit.Init(context.Background())
	tools, err := RegisterTools(g, validationToolset(t))
	if err != nil {
		t.Fatalf("RegisterTools: %v", err)
	}

	want := []string{ToolAddTask, ToolListTasks, ToolCompleteTask, ToolUpdateTask, ToolDeleteTask}
	if len(tools) != len(want) {
		t.Fatalf("registered %d tools, want %d", len(tools), len(want))
	}
	for i, name := range want {
		if got := tools[i].Name(); got != name {
			t.Errorf("tools[%d].Name() = %q, want %q", i, got, name)
		}
	}
}

func TestInvoke_NoOwner(t *testing.T) {
	t.Parallel()

	ts := validationToolset(t)
	tc := &ai.ToolContext{Context: context.Background()}
	_, err := invoke[*Task](tc, ts.addTask, AddTaskInput{Title: "buy milk"})
	wantToolError(t, err, tooling.CodeAuthentication)
}

func TestInvoke_ValidationBeforeStore(t *testing.T) {
	t.Parallel()

	ts := validationToolset(t)
	tc := &ai.ToolContext{Context: tooling.WithOwner(context.Background(), "user-a")}
	_, err := invoke[*Task](tc, ts.addTask, AddTaskInput{Title: "   "})
	wantToolError(t, err, tooling.CodeValidation)
}

func TestToParams(t *testing.T) {
	t.Parallel()

	params, err := toParams(UpdateTaskInput{TaskID: "abc"})
	if err != nil {
		t.Fatalf("toParams: %v", err)
	}
	if params["task_id"] != "abc" {
		t.Errorf("task_id = %v, want %q", params["task_id"], "abc")
	}
	for _, key := range []string{"title", "description", "completed"} {
		if _, present := params[key]; present {
			t.Errorf("unset field %q serialized into params", key)
		}
	}
}
