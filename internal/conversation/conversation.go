// Package conversation persists chat history in PostgreSQL.
//
// Conversations are append-only: messages are immutable once written and
// carry an explicit per-conversation sequence number assigned inside the
// append transaction, so their order is total and survives equal
// timestamps. Assistant messages optionally embed the tool calls that
// produced them.
package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/taskmind/taskmind/internal/tooling"
)

// Sentinel errors. The HTTP layer maps both to the same 403 response so
// callers cannot probe which conversation IDs exist.
var (
	ErrNotFound  = errors.New("conversation not found")
	ErrForbidden = errors.New("conversation access denied")
)

// Message retrieval limits.
const (
	DefaultMessageLimit = 100
	MaxMessageLimit     = 500
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one of the two persisted roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is one chat thread owned by a single caller for its whole
// lifetime.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"-"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one immutable entry in a conversation. ToolCalls is non-nil
// only on assistant messages whose turn invoked tools.
type Message struct {
	ID             uuid.UUID                `json:"id"`
	ConversationID uuid.UUID                `json:"conversation_id"`
	Role           Role                     `json:"role"`
	Content        string                   `json:"content"`
	ToolCalls      []tooling.ToolCallRecord `json:"tool_calls,omitempty"`
	Seq            int64                    `json:"seq"`
	CreatedAt      time.Time                `json:"created_at"`
}

// NewMessage is the input shape for appends; the store assigns ID, Seq and
// CreatedAt.
type NewMessage struct {
	Role      Role
	Content   string
	ToolCalls []tooling.ToolCallRecord
}

// Summary is the list-view projection of a conversation.
type Summary struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title,omitempty"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ClampLimit normalizes a requested message limit: non-positive values get
// the default, oversized values are capped.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultMessageLimit
	case limit > MaxMessageLimit:
		return MaxMessageLimit
	default:
		return limit
	}
}
