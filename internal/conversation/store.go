package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskmind/taskmind/internal/tooling"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conversationCols is the standard SELECT column list for conversations.
const conversationCols = `id, owner_id, title, created_at, updated_at`

// messageCols is the standard SELECT column list for scanMessages.
const messageCols = `id, conversation_id, role, content, tool_calls, seq, created_at`

// unlockTimeout bounds the advisory-unlock call that runs after fn, on its
// own context because the request context may already be dead.
const unlockTimeout = 5 * time.Second

// Store manages conversations and their messages.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// transientRetryable reports whether a failed attempt is safe to replay.
// Writes replay only when pgx guarantees the request never reached the
// server; reads also replay on connection-class failures. ErrNotFound and
// ErrForbidden match neither test.
func transientRetryable(err error, write bool) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	return !write && tooling.Retryable(err)
}

// retryOnce runs fn and replays it a single time after a transient
// connection failure.
func (s *Store) retryOnce(ctx context.Context, op string, write bool, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || ctx.Err() != nil || !transientRetryable(err, write) {
		return err
	}
	s.logger.Warn("retrying after transient storage error", "op", op, "error", err)
	return fn(ctx)
}

// Create starts a new conversation for ownerID. An empty title is stored as
// NULL; the chat handler derives one from the first message.
func (s *Store) Create(ctx context.Context, ownerID, title string) (*Conversation, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	var conv *Conversation
	err := s.retryOnce(ctx, "create conversation", true, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx,
			`INSERT INTO conversations (owner_id, title)
			 VALUES ($1, NULLIF($2, ''))
			 RETURNING `+conversationCols,
			ownerID, title,
		)
		var err error
		conv, err = scanConversation(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Debug("created conversation", "conversation_id", conv.ID, "owner_id", ownerID)
	return conv, nil
}

// Get loads a conversation and checks ownership. A missing row returns
// ErrNotFound and a row owned by someone else returns ErrForbidden; callers
// that surface these to users must present them identically.
func (s *Store) Get(ctx context.Context, conversationID uuid.UUID, ownerID string) (*Conversation, error) {
	var conv *Conversation
	err := s.retryOnce(ctx, "get conversation", false, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx,
			`SELECT `+conversationCols+` FROM conversations WHERE id = $1`,
			conversationID,
		)
		var err error
		conv, err = scanConversation(row)
		return err
	})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("getting conversation: %w", err)
	}

	if conv.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// AppendExchange appends msgs atomically: either every message persists
// with consecutive sequence numbers or none do. The conversation row is
// locked FOR UPDATE for the duration so concurrent appends cannot interleave
// sequence assignment, and updated_at is bumped in the same transaction.
//
// Returns the persisted messages with their assigned IDs and seqs.
func (s *Store) AppendExchange(ctx context.Context, conversationID uuid.UUID, msgs []NewMessage) ([]Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("message %d has invalid role %q", i, m.Role)
		}
	}

	var saved []Message
	err := s.retryOnce(ctx, "append exchange", true, func(ctx context.Context) error {
		var err error
		saved, err = s.appendExchange(ctx, conversationID, msgs)
		return err
	})
	return saved, err
}

// appendExchange runs one append attempt as a single transaction.
func (s *Store) appendExchange(ctx context.Context, conversationID uuid.UUID, msgs []NewMessage) ([]Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the conversation row so seq assignment is race-free.
	var lockedID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&lockedID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("locking conversation: %w", err)
	}

	maxSeq, err := lastSeq(ctx, tx, conversationID)
	if err != nil {
		return nil, err
	}

	saved := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		seq := maxSeq + int64(i) + 1

		var toolCallsJSON any
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return nil, fmt.Errorf("marshaling tool calls for message %d: %w", i, err)
			}
			toolCallsJSON = b
		}

		var (
			id        uuid.UUID
			createdAt time.Time
		)
		if err := tx.QueryRow(ctx,
			`INSERT INTO messages (conversation_id, role, content, tool_calls, seq)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			conversationID, string(m.Role), m.Content, toolCallsJSON, seq,
		).Scan(&id, &createdAt); err != nil {
			return nil, fmt.Errorf("inserting message %d: %w", i, err)
		}

		saved = append(saved, Message{
			ID:             id,
			ConversationID: conversationID,
			Role:           m.Role,
			Content:        m.Content,
			ToolCalls:      m.ToolCalls,
			Seq:            seq,
			CreatedAt:      createdAt,
		})
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID,
	); err != nil {
		return nil, fmt.Errorf("bumping conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing append: %w", err)
	}

	s.logger.Debug("appended messages",
		"conversation_id", conversationID, "count", len(saved), "last_seq", maxSeq+int64(len(saved)))
	return saved, nil
}

// ListMessages returns messages oldest-first after checking ownership.
// limit is clamped per ClampLimit. A positive before restricts results to
// seq < before, paging backwards through history.
func (s *Store) ListMessages(ctx context.Context, conversationID uuid.UUID, ownerID string, limit int, before int64) ([]Message, error) {
	if _, err := s.Get(ctx, conversationID, ownerID); err != nil {
		return nil, err
	}
	return s.recentMessages(ctx, conversationID, ClampLimit(limit), before)
}

// Window returns the most recent k messages oldest-first. Ownership is the
// caller's responsibility; the chat handler resolves it before building the
// model context.
func (s *Store) Window(ctx context.Context, conversationID uuid.UUID, k int) ([]Message, error) {
	if k <= 0 {
		return nil, nil
	}
	return s.recentMessages(ctx, conversationID, k, 0)
}

// recentMessages selects the newest `limit` messages (optionally before an
// exclusive seq cursor) and returns them in ascending seq order.
func (s *Store) recentMessages(ctx context.Context, conversationID uuid.UUID, limit int, before int64) ([]Message, error) {
	var msgs []Message
	err := s.retryOnce(ctx, "list messages", false, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT `+messageCols+`
			 FROM messages
			 WHERE conversation_id = $1 AND ($2::bigint <= 0 OR seq < $2)
			 ORDER BY seq DESC
			 LIMIT $3`,
			conversationID, before, limit,
		)
		if err != nil {
			return fmt.Errorf("querying messages: %w", err)
		}
		defer rows.Close()

		msgs, err = scanMessages(rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// List returns conversation summaries for ownerID, most recently active
// first.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if offset < 0 {
		offset = 0
	}

	var summaries []Summary
	err := s.retryOnce(ctx, "list conversations", false, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT c.id, c.title, COUNT(m.id), c.created_at, c.updated_at
			 FROM conversations c
			 LEFT JOIN messages m ON m.conversation_id = c.id
			 WHERE c.owner_id = $1
			 GROUP BY c.id
			 ORDER BY c.updated_at DESC
			 LIMIT $2 OFFSET $3`,
			ownerID, limit, offset,
		)
		if err != nil {
			return fmt.Errorf("listing conversations: %w", err)
		}
		defer rows.Close()

		var out []Summary
		for rows.Next() {
			var (
				sum   Summary
				title *string
			)
			if err := rows.Scan(&sum.ID, &title, &sum.MessageCount, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
				return fmt.Errorf("scanning summary: %w", err)
			}
			if title != nil {
				sum.Title = *title
			}
			out = append(out, sum)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating summaries: %w", err)
		}
		summaries = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// WithExchangeLock serializes whole exchanges on one conversation across
// all replicas: fn runs while a session-level advisory lock on the
// conversation ID is held in Postgres. The lock lives on a dedicated pooled
// connection rather than a transaction so no transaction stays open across
// the model call inside fn.
func (s *Store) WithExchangeLock(ctx context.Context, conversationID uuid.UUID, fn func(context.Context) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx,
		`SELECT pg_advisory_lock(hashtext($1))`, conversationID.String(),
	); err != nil {
		return fmt.Errorf("acquiring conversation lock: %w", err)
	}
	defer func() {
		// The request context may be dead by now; unlock on a fresh one.
		unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if _, err := conn.Exec(unlockCtx,
			`SELECT pg_advisory_unlock(hashtext($1))`, conversationID.String(),
		); err != nil {
			// Never return a still-locked session to the pool.
			s.logger.Warn("releasing conversation lock failed, discarding connection", "error", err)
			_ = conn.Conn().Close(unlockCtx)
		}
	}()

	return fn(ctx)
}

// lastSeq returns the highest assigned sequence number, 0 for an empty
// conversation. Runs against the pool or inside a transaction.
func lastSeq(ctx context.Context, q querier, conversationID uuid.UUID) (int64, error) {
	var maxSeq int64
	if err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("reading max sequence: %w", err)
	}
	return maxSeq, nil
}

// scanConversation scans one conversation row.
func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv  Conversation
		title *string
	)
	if err := row.Scan(&conv.ID, &conv.OwnerID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	if title != nil {
		conv.Title = *title
	}
	return &conv, nil
}

// scanMessages drains rows into messages, decoding tool_calls JSONB.
func scanMessages(rows pgx.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var (
			m             Message
			role          string
			toolCallsJSON []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &toolCallsJSON, &m.Seq, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = Role(role)
		if len(toolCallsJSON) > 0 {
			var records []tooling.ToolCallRecord
			if err := json.Unmarshal(toolCallsJSON, &records); err != nil {
				return nil, fmt.Errorf("unmarshaling tool calls for message %s: %w", m.ID, err)
			}
			m.ToolCalls = records
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}
