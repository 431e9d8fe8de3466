// Package api provides the JSON HTTP server for TaskMind.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → Auth → Routes
//
// Rate limiting is applied per owner on the chat endpoint only, after
// authentication has resolved the caller. Health probes (/health, /ready)
// bypass the middleware stack via a top-level mux, ensuring they remain
// fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health returns {"status":"ok"}
//   - GET /ready returns {"status":"ready"} after pinging the pool
//
// Chat (bearer token required):
//   - POST /api/v1/chat: send a message, returns the persisted user and
//     assistant messages
//   - GET /api/v1/chat/{conversation_id}: list a conversation's messages
//   - GET /api/v1/conversations: list the caller's conversations
//
// # Error Handling
//
// Error responses use an envelope format:
//
//	{"error": {"code": "...", "message": "..."}}
//
// with codes UNAUTHENTICATED (401), FORBIDDEN (403), VALIDATION_ERROR
// (422), RATE_LIMITED (429), and INTERNAL_ERROR (500). Success responses
// carry their payload directly, no envelope.
//
// # Ownership
//
// Every conversation-accessing endpoint verifies that the requested
// resource belongs to the authenticated caller. Missing and foreign
// conversations produce the same 403 so callers cannot probe which IDs
// exist.
package api
