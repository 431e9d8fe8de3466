package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/auth"
	"github.com/taskmind/taskmind/internal/conversation"
)

// Default request policies applied by NewServer for zero config values.
const (
	defaultMaxMessageChars = 5000
	defaultRatePerMinute   = 10
	defaultRateBurst       = 10
	defaultHistoryWindow   = 10
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger        *slog.Logger
	Verifier      *auth.Verifier      // Required: validates bearer tokens
	Conversations *conversation.Store // Required
	Agent         *agent.Agent        // Required
	Pool          *pgxpool.Pool       // Optional: nil disables the pool ping in /ready
	CORSOrigins   []string            // Allowed origins for CORS
	TrustProxy    bool                // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)

	MaxMessageChars int // Message length cap (0 = default 5000)
	HistoryWindow   int // Messages replayed to the agent (0 = default 10)
	RatePerMinute   int // Chat requests per owner per minute (0 = default 10)
	RateBurst       int // Rate limiter burst size per owner (0 = default 10)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if cfg.Conversations == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("agent is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxChars := cfg.MaxMessageChars
	if maxChars <= 0 {
		maxChars = defaultMaxMessageChars
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = defaultHistoryWindow
	}

	ch := &chatHandler{
		logger:          logger,
		conversations:   cfg.Conversations,
		agent:           cfg.Agent,
		maxMessageChars: maxChars,
		historyWindow:   window,
	}

	// Per-owner limiter on the chat endpoint only; reads stay unthrottled.
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = defaultRatePerMinute
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	rl := newRateLimiter(float64(perMinute)/60.0, burst)
	limited := rateLimitMiddleware(rl, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/chat", limited(http.HandlerFunc(ch.send)))
	mux.HandleFunc("GET /api/v1/chat/{conversation_id}", ch.history)
	mux.HandleFunc("GET /api/v1/conversations", ch.listConversations)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → Auth → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before Auth so preflight OPTIONS succeeds
	// without a token.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Verifier, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger, cfg.TrustProxy)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from the middleware
	// stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
