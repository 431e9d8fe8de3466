package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/taskmind/taskmind/internal/tooling"
)

// outcomeToMCP renders a dispatcher outcome as an MCP tool result. Error
// outcomes carry only the classified code and message; internals stay in
// the server logs.
func outcomeToMCP(out tooling.Outcome) *mcp.CallToolResult {
	if !out.OK() {
		return errorResult(out.ErrorCode, out.Message)
	}
	return dataToMCP(out.Data)
}

// dataToMCP converts tool data to MCP text content via JSON marshaling.
// All data becomes JSON; clients parse it.
func dataToMCP(data any) *mcp.CallToolResult {
	if data == nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: ""}},
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		return errorResult(tooling.CodeInternal, "encoding tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}

func errorResult(code, message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("[%s] %s", code, message)}},
		IsError: true,
	}
}
