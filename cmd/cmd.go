// Package cmd provides the taskmind CLI commands.
//
// Commands:
//   - serve: HTTP chat API server
//   - mcp: Model Context Protocol server for desktop/IDE clients
//   - migrate: apply database migrations and exit
//
// Signal handling and graceful shutdown are implemented for the serving
// commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/taskmind/taskmind/internal/log"
)

// Execute is the main entry point for the taskmind CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{
		Level: level,
		JSON:  os.Getenv("TASKMIND_LOG_FORMAT") == "json",
	}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "mcp":
		return runMCP()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("TaskMind - conversational todo assistant")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  taskmind serve [addr]  Start the HTTP API server (default: 127.0.0.1:8000)")
	fmt.Println("  taskmind mcp           Start the MCP server (for Claude Desktop/Cursor)")
	fmt.Println("  taskmind migrate       Apply database migrations and exit")
	fmt.Println("  taskmind --version     Show version information")
	fmt.Println("  taskmind --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY          API key for the default gemini provider")
	fmt.Println("  TASKMIND_JWT_SECRET     Bearer-token signing secret (serve)")
	fmt.Println("  DATABASE_URL            PostgreSQL URL, overrides postgres_* settings")
	fmt.Println("  TASKMIND_LOG_FORMAT     Set to \"json\" for JSON logs")
	fmt.Println("  DEBUG                   Enable debug logging")
}
