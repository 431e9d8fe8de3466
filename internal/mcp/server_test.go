package mcp

import (
	"strings"
	"testing"

	"github.com/taskmind/taskmind/internal/testutil"
	"github.com/taskmind/taskmind/internal/tooling"
)

func testDispatcher(t *testing.T, tools ...tooling.Tool) *tooling.Dispatcher {
	t.Helper()

	registry, err := tooling.NewRegistry(tools...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	dispatcher, err := tooling.NewDispatcher(registry, testutil.DiscardLogger(), 0)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return dispatcher
}

func TestNewServer(t *testing.T) {
	valid := Config{
		Name:       "taskmind",
		Version:    "test",
		Logger:     testutil.DiscardLogger(),
		Dispatcher: testDispatcher(t),
	}

	t.Run("valid config", func(t *testing.T) {
		s, err := NewServer(valid)
		if err != nil {
			t.Fatalf("NewServer() unexpected error: %v", err)
		}
		if s == nil {
			t.Fatal("NewServer() returned nil server")
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "missing name",
			mutate: func(c *Config) { c.Name = "" },
			errMsg: "server name is required",
		},
		{
			name:   "missing version",
			mutate: func(c *Config) { c.Version = "" },
			errMsg: "server version is required",
		},
		{
			name:   "missing dispatcher",
			mutate: func(c *Config) { c.Dispatcher = nil },
			errMsg: "dispatcher is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			s, err := NewServer(cfg)
			if err == nil {
				t.Fatalf("NewServer() expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("NewServer() error = %q, want substring %q", err, tt.errMsg)
			}
			if s != nil {
				t.Error("NewServer() returned non-nil server on error")
			}
		})
	}
}
