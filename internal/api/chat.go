package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/conversation"
)

const (
	// maxBodyBytes bounds the request body so a hostile client cannot
	// exhaust memory before validation runs.
	maxBodyBytes = 1 << 20

	// titleMaxChars is how much of the first message becomes the
	// conversation title.
	titleMaxChars = 50

	conversationsDefaultLimit = 50
	conversationsMaxLimit     = 200
	maxListOffset             = 10000
)

// chatHandler serves the conversation endpoints. It holds no per-request
// state; every request reads its conversation fresh from storage, so a
// process restart between two requests is unobservable to the caller.
type chatHandler struct {
	logger          *slog.Logger
	conversations   *conversation.Store
	agent           *agent.Agent
	maxMessageChars int
	historyWindow   int
}

// chatRequest is the body of POST /api/v1/chat.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chatResponse echoes both persisted messages of the exchange.
type chatResponse struct {
	ConversationID   uuid.UUID            `json:"conversation_id"`
	UserMessage      conversation.Message `json:"user_message"`
	AssistantMessage conversation.Message `json:"assistant_message"`
}

// historyResponse is the body of GET /api/v1/chat/{conversation_id}.
type historyResponse struct {
	ConversationID uuid.UUID              `json:"conversation_id"`
	Messages       []conversation.Message `json:"messages"`
}

// send handles POST /api/v1/chat: one full user/assistant exchange.
//
// The user message is persisted before the agent runs, so a crash or model
// failure mid-exchange never loses the caller's input. The whole exchange
// holds the conversation's advisory lock; two racing requests on one
// conversation serialize instead of interleaving their appends.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromContext(r.Context())
	if !ok || ownerID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, "invalid request body")
		return
	}

	message, err := h.validMessage(req.Message)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, err.Error())
		return
	}

	conv, ok := h.resolveConversation(w, r, ownerID, req.ConversationID, message)
	if !ok {
		return
	}

	var resp chatResponse
	lockErr := h.conversations.WithExchangeLock(r.Context(), conv.ID, func(ctx context.Context) error {
		history, err := h.conversations.Window(ctx, conv.ID, h.historyWindow)
		if err != nil {
			h.logger.Error("loading history", "error", err, "conversation_id", conv.ID)
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to load conversation")
			return nil
		}

		userMsgs, err := h.conversations.AppendExchange(ctx, conv.ID, []conversation.NewMessage{
			{Role: conversation.RoleUser, Content: message},
		})
		if err != nil {
			h.logger.Error("saving user message", "error", err, "conversation_id", conv.ID)
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to save message")
			return nil
		}

		result, err := h.agent.Run(ctx, ownerID, history, message)
		if err != nil {
			// Only a dead request context reaches here; the user message
			// is already durable for later inspection.
			h.logger.Error("agent run aborted", "error", err, "conversation_id", conv.ID)
			writeError(w, http.StatusInternalServerError, codeInternal, "request aborted")
			return nil
		}

		resp = chatResponse{
			ConversationID:   conv.ID,
			UserMessage:      userMsgs[0],
			AssistantMessage: h.saveReply(ctx, conv.ID, result),
		}
		writeJSON(w, http.StatusOK, resp)
		return nil
	})
	if lockErr != nil {
		h.logger.Error("conversation lock", "error", lockErr, "conversation_id", conv.ID)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to process message")
	}
}

// validMessage trims and bounds the incoming message text.
func (h *chatHandler) validMessage(raw string) (string, error) {
	message := strings.TrimSpace(raw)
	if message == "" {
		return "", errors.New("message is required")
	}
	if utf8.RuneCountInString(message) > h.maxMessageChars {
		return "", fmt.Errorf("message exceeds %d characters", h.maxMessageChars)
	}
	return message, nil
}

// resolveConversation returns the target conversation, creating one when no
// ID was supplied. On failure it writes the error response and returns
// false. Missing and foreign conversations produce the same 403 so callers
// cannot probe which IDs exist.
func (h *chatHandler) resolveConversation(w http.ResponseWriter, r *http.Request, ownerID, rawID, message string) (*conversation.Conversation, bool) {
	if rawID == "" {
		conv, err := h.conversations.Create(r.Context(), ownerID, titleFromMessage(message))
		if err != nil {
			h.logger.Error("creating conversation", "error", err, "owner_id", ownerID)
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to create conversation")
			return nil, false
		}
		return conv, true
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, "invalid conversation id")
		return nil, false
	}

	conv, err := h.conversations.Get(r.Context(), id, ownerID)
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, conversation.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "conversation access denied")
		return nil, false
	case err != nil:
		h.logger.Error("resolving conversation", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load conversation")
		return nil, false
	}
	return conv, true
}

// saveReply persists the assistant message, retrying the write once. If
// both attempts fail the generated reply is still returned to the caller
// and the persistence gap is logged; the zero message ID marks it as
// unsaved.
func (h *chatHandler) saveReply(ctx context.Context, conversationID uuid.UUID, result *agent.Result) conversation.Message {
	reply := conversation.NewMessage{
		Role:      conversation.RoleAssistant,
		Content:   result.Text,
		ToolCalls: result.ToolCalls,
	}

	saved, err := h.conversations.AppendExchange(ctx, conversationID, []conversation.NewMessage{reply})
	if err != nil {
		h.logger.Warn("retrying assistant message write", "error", err, "conversation_id", conversationID)
		saved, err = h.conversations.AppendExchange(ctx, conversationID, []conversation.NewMessage{reply})
	}
	if err != nil {
		h.logger.Error("assistant message not persisted, returning reply anyway",
			"error", err, "conversation_id", conversationID)
		return conversation.Message{
			ConversationID: conversationID,
			Role:           conversation.RoleAssistant,
			Content:        result.Text,
			ToolCalls:      result.ToolCalls,
			CreatedAt:      time.Now(),
		}
	}
	return saved[0]
}

// history handles GET /api/v1/chat/{conversation_id}: ordered messages,
// oldest first, with seq-cursor pagination via ?limit= and ?before=.
func (h *chatHandler) history(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromContext(r.Context())
	if !ok || ownerID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}

	id, err := uuid.Parse(r.PathValue("conversation_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, "invalid conversation id")
		return
	}

	limit := parseIntParam(r, "limit", 0)
	before := parseInt64Param(r, "before", 0)

	msgs, err := h.conversations.ListMessages(r.Context(), id, ownerID, limit, before)
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, conversation.ErrForbidden):
		writeError(w, http.StatusForbidden, codeForbidden, "conversation access denied")
		return
	case err != nil:
		h.logger.Error("listing messages", "error", err, "conversation_id", id)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list messages")
		return
	}

	if msgs == nil {
		msgs = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{ConversationID: id, Messages: msgs})
}

// listConversations handles GET /api/v1/conversations: the caller's
// conversation summaries, most recently active first.
func (h *chatHandler) listConversations(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerFromContext(r.Context())
	if !ok || ownerID == "" {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}

	limit := min(parseIntParam(r, "limit", conversationsDefaultLimit), conversationsMaxLimit)
	offset := parseIntParam(r, "offset", 0)
	if offset > maxListOffset {
		writeError(w, http.StatusUnprocessableEntity, codeValidation, "offset must be 10000 or less")
		return
	}

	summaries, err := h.conversations.List(r.Context(), ownerID, limit, offset)
	if err != nil {
		h.logger.Error("listing conversations", "error", err, "owner_id", ownerID)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list conversations")
		return
	}

	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": summaries})
}

// titleFromMessage derives a conversation title from its first message.
func titleFromMessage(message string) string {
	runes := []rune(message)
	if len(runes) <= titleMaxChars {
		return message
	}
	return string(runes[:titleMaxChars]) + "..."
}

// parseIntParam reads an integer query parameter, falling back to def when
// absent or malformed. Negative values are rejected to def as well.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func parseInt64Param(r *http.Request, name string, def int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
