// Package app builds and owns the process-wide application state.
//
// Setup constructs every long-lived component in dependency order: the
// database pool (migrations run first), Genkit with the configured model
// provider, the conversation and task stores, and the tool registry and
// dispatcher. Everything is read-only after construction and safe for
// concurrent use; per-request state lives in the handlers and the agent.
// Close releases what Setup acquired.
package app

import (
	"errors"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/auth"
	"github.com/taskmind/taskmind/internal/config"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/task"
	"github.com/taskmind/taskmind/internal/tooling"
)

// App is the application container. All fields are initialized by Setup
// and immutable afterwards.
type App struct {
	Config *config.Config

	DBPool        *pgxpool.Pool
	Genkit        *genkit.Genkit
	Conversations *conversation.Store
	Tasks         *task.Store
	Registry      *tooling.Registry
	Dispatcher    *tooling.Dispatcher

	// Tools are the Genkit-registered tool declarations the model sees.
	// Execution goes through the Dispatcher.
	Tools []ai.Tool

	// Verifier is nil when no JWT secret is configured. The serve command
	// validates the secret up front; mcp and migrate run without one.
	Verifier *auth.Verifier

	dbCleanup func()
}

// Close releases everything Setup acquired. Safe to call on a partially
// initialized App.
func (a *App) Close() error {
	slog.Info("shutting down application")

	if a.dbCleanup != nil {
		a.dbCleanup()
		slog.Info("database pool closed")
	}

	return nil
}

// CreateAgent builds the conversational agent from the app's components.
// Separate from Setup because only the serve path needs an agent; the MCP
// server dispatches tool calls directly.
func (a *App) CreateAgent() (*agent.Agent, error) {
	if a.Config == nil {
		return nil, errors.New("config is required")
	}
	if a.Genkit == nil {
		return nil, errors.New("genkit is required")
	}

	return agent.New(agent.Config{
		Genkit:        a.Genkit,
		Dispatcher:    a.Dispatcher,
		Logger:        slog.Default(),
		Tools:         a.Tools,
		ModelName:     a.Config.FullModelName(),
		Temperature:   float64(a.Config.Temperature),
		MaxTurns:      a.Config.MaxTurns,
		HistoryWindow: a.Config.HistoryWindow,
	})
}
