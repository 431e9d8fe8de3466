package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/auth"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/testutil"
	"github.com/taskmind/taskmind/internal/tooling"
)

// testAgent builds a minimal Agent. The model is never resolved unless a
// request actually reaches the decision loop.
func testAgent(t *testing.T) *agent.Agent {
	t.Helper()

	g := genkit.Init(context.Background())
	registry, err := tooling.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	dispatcher, err := tooling.NewDispatcher(registry, testutil.DiscardLogger(), 5*time.Second)
	if err != nil {
		t.Fatalf("NewDispatcher() error: %v", err)
	}

	a, err := agent.New(agent.Config{
		Genkit:     g,
		Dispatcher: dispatcher,
		Logger:     testutil.DiscardLogger(),
		ModelName:  "mock/test-model",
	})
	if err != nil {
		t.Fatalf("agent.New() error: %v", err)
	}
	return a
}

func testServerConfig(t *testing.T) ServerConfig {
	t.Helper()
	return ServerConfig{
		Logger:        testutil.DiscardLogger(),
		Verifier:      testVerifier(t),
		Conversations: &conversation.Store{},
		Agent:         testAgent(t),
		CORSOrigins:   []string{"http://localhost:4200"},
	}
}

func TestNewServer_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{
			name:    "missing verifier",
			mutate:  func(cfg *ServerConfig) { cfg.Verifier = nil },
			wantErr: "verifier is required",
		},
		{
			name:    "missing conversation store",
			mutate:  func(cfg *ServerConfig) { cfg.Conversations = nil },
			wantErr: "conversation store is required",
		},
		{
			name:    "missing agent",
			mutate:  func(cfg *ServerConfig) { cfg.Agent = nil },
			wantErr: "agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testServerConfig(t)
			tt.mutate(&cfg)

			_, err := NewServer(cfg)
			if err == nil {
				t.Fatal("NewServer() expected error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Errorf("NewServer() error = %q, want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServer_HealthProbesSkipAuth(t *testing.T) {
	srv, err := NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	for path, wantStatus := range map[string]string{
		"/health": "ok",
		"/ready":  "ready",
	} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding %s body: %v", path, err)
		}
		if body["status"] != wantStatus {
			t.Errorf("GET %s status field = %q, want %q", path, body["status"], wantStatus)
		}
	}
}

func TestServer_RejectsWithoutToken(t *testing.T) {
	srv, err := NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if detail := decodeErrorEnvelope(t, w); detail.Code != codeUnauthenticated {
		t.Errorf("code = %q, want %q", detail.Code, codeUnauthenticated)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID should be set on every response")
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want %q", got, "DENY")
	}
}

func TestServer_PreflightSkipsAuth(t *testing.T) {
	srv, err := NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil)
	r.Header.Set("Origin", "http://localhost:4200")
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:4200" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:4200")
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	srv, err := NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	token, err := auth.Issue(testSecret, "user-a", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/nothing-here", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestServer_BodyTooLargeRejected(t *testing.T) {
	srv, err := NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}

	token, err := auth.Issue(testSecret, "user-a", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	// Body larger than maxBodyBytes fails during decode, well before any
	// storage access.
	huge := `{"message":"` + strings.Repeat("a", maxBodyBytes+1024) + `"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(huge))
	r.Header.Set("Authorization", "Bearer "+token)
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized body status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}
