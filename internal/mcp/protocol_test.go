package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/taskmind/taskmind/internal/testutil"
	"github.com/taskmind/taskmind/internal/tooling"
)

// recordedCall captures what a stub handler was invoked with.
type recordedCall struct {
	tool   string
	owner  string
	params map[string]any
}

// stubRegistryTools builds registry entries for all five task tool names.
// Handlers append to calls and echo their parameters, so protocol tests
// run without a database behind the dispatcher.
func stubRegistryTools(calls *[]recordedCall) []tooling.Tool {
	names := []string{"add_task", "list_tasks", "complete_task", "update_task", "delete_task"}

	tools := make([]tooling.Tool, 0, len(names))
	for _, name := range names {
		name := name
		tools = append(tools, tooling.Tool{
			Name:        name,
			Description: "stub " + name,
			InputSchema: &jsonschema.Schema{Type: "object"},
			Handler: func(ctx context.Context, ownerID string, params map[string]any) (any, error) {
				*calls = append(*calls, recordedCall{tool: name, owner: ownerID, params: params})
				return map[string]any{"tool": name, "echo": params}, nil
			},
		})
	}
	return tools
}

// connectServer builds an MCP server over the dispatcher and an SDK client
// joined via in-memory transports. Both sessions close via t.Cleanup.
func connectServer(t *testing.T, dispatcher *tooling.Dispatcher) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(Config{
		Name:       "taskmind",
		Version:    "test",
		Logger:     testutil.DiscardLogger(),
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

func TestProtocol_ListTools(t *testing.T) {
	var calls []recordedCall
	session := connectServer(t, testDispatcher(t, stubRegistryTools(&calls)...))

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() unexpected error: %v", err)
	}

	wantNames := map[string]bool{
		"add_task":      false,
		"complete_task": false,
		"delete_task":   false,
		"list_tasks":    false,
		"update_task":   false,
	}
	for _, tool := range result.Tools {
		seen, known := wantNames[tool.Name]
		if !known {
			t.Errorf("ListTools() unexpected tool %q", tool.Name)
			continue
		}
		if seen {
			t.Errorf("ListTools() duplicate tool %q", tool.Name)
		}
		wantNames[tool.Name] = true

		if tool.Description == "" {
			t.Errorf("ListTools() tool %q has empty description", tool.Name)
		}
	}
	for name, seen := range wantNames {
		if !seen {
			t.Errorf("ListTools() missing tool %q", name)
		}
	}
}

func TestProtocol_CallTool_RoutesOwnerAndParams(t *testing.T) {
	var calls []recordedCall
	session := connectServer(t, testDispatcher(t, stubRegistryTools(&calls)...))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "add_task",
		Arguments: map[string]any{
			"owner_id":    "user-1",
			"title":       "Buy milk",
			"description": "2 liters",
		},
	})
	if err != nil {
		t.Fatalf("CallTool(add_task) unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("CallTool(add_task) returned error result: %s", textOf(t, result))
	}

	if len(calls) != 1 {
		t.Fatalf("dispatcher saw %d calls, want 1", len(calls))
	}
	got := calls[0]
	if got.tool != "add_task" || got.owner != "user-1" {
		t.Errorf("dispatched tool=%q owner=%q, want add_task/user-1", got.tool, got.owner)
	}
	if got.params["title"] != "Buy milk" || got.params["description"] != "2 liters" {
		t.Errorf("dispatched params = %v, want title and description", got.params)
	}
	if _, leaked := got.params["owner_id"]; leaked {
		t.Error("owner_id leaked into tool parameters")
	}

	var echoed map[string]any
	if err := json.Unmarshal([]byte(textOf(t, result)), &echoed); err != nil {
		t.Fatalf("parsing result JSON: %v", err)
	}
	if echoed["tool"] != "add_task" {
		t.Errorf("result tool = %v, want add_task", echoed["tool"])
	}
}

func TestProtocol_CallTool_BlankOwnerRejected(t *testing.T) {
	var calls []recordedCall
	session := connectServer(t, testDispatcher(t, stubRegistryTools(&calls)...))

	for _, owner := range []string{"", "   "} {
		result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
			Name: "add_task",
			Arguments: map[string]any{
				"owner_id": owner,
				"title":    "Buy milk",
			},
		})
		if err != nil {
			t.Fatalf("CallTool(add_task) unexpected error: %v", err)
		}
		if !result.IsError {
			t.Fatalf("owner %q: expected error result", owner)
		}
		if text := textOf(t, result); !strings.Contains(text, "owner_id is required") {
			t.Errorf("owner %q: text = %q, want owner_id complaint", owner, text)
		}
	}
	if len(calls) != 0 {
		t.Errorf("dispatcher saw %d calls, want none", len(calls))
	}
}

func TestProtocol_CallTool_UpdateOmitsUnsetFields(t *testing.T) {
	var calls []recordedCall
	session := connectServer(t, testDispatcher(t, stubRegistryTools(&calls)...))

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "update_task",
		Arguments: map[string]any{
			"owner_id":  "user-1",
			"task_id":   "c2a7f8aa-9c93-41b7-92c8-6c2a124bbcd9",
			"completed": true,
		},
	})
	if err != nil {
		t.Fatalf("CallTool(update_task) unexpected error: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("dispatcher saw %d calls, want 1", len(calls))
	}
	params := calls[0].params
	if params["completed"] != true {
		t.Errorf("params[completed] = %v, want true", params["completed"])
	}
	for _, absent := range []string{"title", "description"} {
		if _, ok := params[absent]; ok {
			t.Errorf("params[%s] present, want omitted", absent)
		}
	}
}

func TestProtocol_CallTool_ErrorOutcome(t *testing.T) {
	failing := tooling.Tool{
		Name:        "complete_task",
		Description: "stub complete_task",
		InputSchema: &jsonschema.Schema{Type: "object"},
		Handler: func(ctx context.Context, ownerID string, params map[string]any) (any, error) {
			return nil, tooling.Errorf(tooling.CodeNotFound, "no task with that id")
		},
	}
	session := connectServer(t, testDispatcher(t, failing))

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "complete_task",
		Arguments: map[string]any{
			"owner_id": "user-1",
			"task_id":  "c2a7f8aa-9c93-41b7-92c8-6c2a124bbcd9",
		},
	})
	if err != nil {
		t.Fatalf("CallTool(complete_task) unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := textOf(t, result); !strings.HasPrefix(text, "[NOT_FOUND]") {
		t.Errorf("text = %q, want [NOT_FOUND] prefix", text)
	}
}

func TestProtocol_CallTool_UnknownTool(t *testing.T) {
	var calls []recordedCall
	session := connectServer(t, testDispatcher(t, stubRegistryTools(&calls)...))

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "drop_database",
	})
	if err == nil {
		t.Fatal("CallTool(drop_database) expected error, got nil")
	}
	if !strings.Contains(err.Error(), "drop_database") {
		t.Errorf("error = %q, want to contain tool name", err)
	}
}
