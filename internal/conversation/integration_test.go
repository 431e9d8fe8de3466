//go:build integration
// +build integration

package conversation

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmind/taskmind/internal/testutil"
	"github.com/taskmind/taskmind/internal/tooling"
)

var sharedDB *testutil.TestDBContainer

func TestMain(m *testing.M) {
	var (
		cleanup func()
		err     error
	)
	sharedDB, cleanup, err = testutil.SetupTestDBForMain()
	if err != nil {
		log.Fatalf("starting test database: %v", err)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupStore(t *testing.T) *Store {
	t.Helper()
	testutil.CleanTables(t, sharedDB.Pool)

	store, err := NewStore(sharedDB.Pool, testutil.DiscardLogger())
	require.NoError(t, err, "NewStore should succeed with a live pool")
	return store
}

func TestCreateAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "groceries chat")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, conv.ID, "Create should assign an ID")
	assert.Equal(t, "owner-a", conv.OwnerID)
	assert.Equal(t, "groceries chat", conv.Title)

	got, err := store.Get(ctx, conv.ID, "owner-a")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestCreate_EmptyTitleIsNull(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)
	assert.Empty(t, conv.Title)

	var title *string
	err = sharedDB.Pool.QueryRow(ctx,
		`SELECT title FROM conversations WHERE id = $1`, conv.ID).Scan(&title)
	require.NoError(t, err, "querying stored title")
	assert.Nil(t, title, "empty title should be stored as NULL")
}

func TestGet_OwnershipSentinels(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)

	_, err = store.Get(ctx, uuid.New(), "owner-a")
	assert.ErrorIs(t, err, ErrNotFound, "random id should be not found")

	_, err = store.Get(ctx, conv.ID, "owner-b")
	assert.ErrorIs(t, err, ErrForbidden, "foreign owner should be forbidden")
}

func TestAppendExchange_AssignsSequence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)

	first, err := store.AppendExchange(ctx, conv.ID, []NewMessage{
		{Role: RoleUser, Content: "add milk to my list"},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(1), first[0].Seq, "first message gets seq 1")

	records := []tooling.ToolCallRecord{{
		SequenceIndex: 0,
		ToolName:      "add_task",
		Parameters:    map[string]any{"title": "milk"},
		Outcome:       tooling.Outcome{Status: tooling.StatusOK, Data: map[string]any{"title": "milk"}},
	}}
	second, err := store.AppendExchange(ctx, conv.ID, []NewMessage{
		{Role: RoleAssistant, Content: "Added milk.", ToolCalls: records},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second[0].Seq)

	msgs, err := store.ListMessages(ctx, conv.ID, "owner-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1, "tool calls must survive the round-trip")
	rec := msgs[1].ToolCalls[0]
	assert.Equal(t, "add_task", rec.ToolName)
	assert.Equal(t, tooling.StatusOK, rec.Outcome.Status)
}

func TestAppendExchange_MultiMessageAtomic(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)

	// Invalid role in the batch: nothing may persist.
	_, err = store.AppendExchange(ctx, conv.ID, []NewMessage{
		{Role: RoleUser, Content: "hello"},
		{Role: Role("system"), Content: "bad"},
	})
	require.Error(t, err, "invalid role should reject the batch")

	msgs, err := store.ListMessages(ctx, conv.ID, "owner-a", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "partial append must not leak messages")

	// Valid batch persists both with consecutive seqs.
	saved, err := store.AppendExchange(ctx, conv.ID, []NewMessage{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, int64(1), saved[0].Seq)
	assert.Equal(t, int64(2), saved[1].Seq)
}

func TestAppendExchange_MissingConversation(t *testing.T) {
	store := setupStore(t)

	_, err := store.AppendExchange(context.Background(), uuid.New(), []NewMessage{
		{Role: RoleUser, Content: "hello"},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendExchange_BumpsUpdatedAt(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = store.AppendExchange(ctx, conv.ID, []NewMessage{
		{Role: RoleUser, Content: "ping"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, conv.ID, "owner-a")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(conv.UpdatedAt),
		"updated_at not bumped: %v -> %v", conv.UpdatedAt, got.UpdatedAt)
}

func seedMessages(t *testing.T, store *Store, conversationID uuid.UUID, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		_, err := store.AppendExchange(ctx, conversationID, []NewMessage{
			{Role: role, Content: fmt.Sprintf("message %d", i+1)},
		})
		require.NoError(t, err, "seeding message %d", i)
	}
}

func TestListMessages_LimitAndCursor(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)
	seedMessages(t, store, conv.ID, 10)

	// Default limit returns everything here, oldest first.
	all, err := store.ListMessages(ctx, conv.ID, "owner-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 10)
	for i, m := range all {
		require.Equal(t, int64(i+1), m.Seq, "message %d out of order", i)
	}

	// Limit keeps the newest N, still ascending.
	newest, err := store.ListMessages(ctx, conv.ID, "owner-a", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 9, 10}, seqs(newest), "limited window should keep newest")

	// Cursor pages backwards, exclusive.
	page, err := store.ListMessages(ctx, conv.ID, "owner-a", 3, 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 6, 7}, seqs(page), "cursor page should precede the cursor")

	// Reads are pure: repeating one returns the identical result.
	again, err := store.ListMessages(ctx, conv.ID, "owner-a", 3, 8)
	require.NoError(t, err)
	assert.Equal(t, page, again)

	// Ownership enforced before any rows come back.
	_, err = store.ListMessages(ctx, conv.ID, "owner-b", 0, 0)
	assert.ErrorIs(t, err, ErrForbidden)
}

func seqs(msgs []Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func TestWindow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)
	seedMessages(t, store, conv.ID, 7)

	window, err := store.Window(ctx, conv.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5, 6, 7}, seqs(window))

	empty, err := store.Window(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestList_SummariesNewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	older, err := store.Create(ctx, "owner-a", "older")
	require.NoError(t, err)
	seedMessages(t, store, older.ID, 2)

	time.Sleep(20 * time.Millisecond)
	newer, err := store.Create(ctx, "owner-a", "newer")
	require.NoError(t, err)
	seedMessages(t, store, newer.ID, 3)

	// Other owners' conversations stay invisible.
	_, err = store.Create(ctx, "owner-b", "foreign")
	require.NoError(t, err)

	summaries, err := store.List(ctx, "owner-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, newer.ID, summaries[0].ID, "most recently active first")
	assert.Equal(t, int64(3), summaries[0].MessageCount)
	assert.Equal(t, int64(2), summaries[1].MessageCount)
	assert.Equal(t, "older", summaries[1].Title)
}

func TestWithExchangeLock_Serializes(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	enter := func() {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
	}
	leave := func() {
		mu.Lock()
		running--
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithExchangeLock(ctx, conv.ID, func(ctx context.Context) error {
				enter()
				defer leave()
				time.Sleep(30 * time.Millisecond)
				_, err := store.AppendExchange(ctx, conv.ID, []NewMessage{
					{Role: RoleUser, Content: "concurrent"},
				})
				return err
			})
			assert.NoError(t, err, "WithExchangeLock should succeed")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, peak, "critical sections overlapped")

	msgs, err := store.ListMessages(ctx, conv.ID, "owner-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq, "gap in sequence at position %d", i)
	}
}

func TestConcurrentAppends_NoSeqCollision(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "owner-a", "")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.AppendExchange(ctx, conv.ID, []NewMessage{
				{Role: RoleUser, Content: fmt.Sprintf("worker %d", n)},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := store.ListMessages(ctx, conv.ID, "owner-a", 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, workers)
	seen := make(map[int64]bool)
	for _, m := range msgs {
		assert.False(t, seen[m.Seq], "duplicate seq %d", m.Seq)
		seen[m.Seq] = true
	}
}
