package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// taskCols is the standard SELECT column list for scanTask.
const taskCols = `id, owner_id, title, description, completed, created_at, updated_at`

// Store manages tasks.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a task Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create inserts a new open task for ownerID. An empty description is
// stored as NULL.
func (s *Store) Create(ctx context.Context, ownerID, title, description string) (*Task, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (owner_id, title, description)
		 VALUES ($1, $2, NULLIF($3, ''))
		 RETURNING `+taskCols,
		ownerID, title, description,
	)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.logger.Debug("created task", "task_id", t.ID, "owner_id", ownerID)
	return t, nil
}

// Get loads a task and checks ownership. A missing row returns ErrNotFound
// and a row owned by someone else returns ErrForbidden.
func (s *Store) Get(ctx context.Context, taskID uuid.UUID, ownerID string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = $1`, taskID)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	if t.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return t, nil
}

// List returns one page of ownerID's tasks, newest first, plus the total
// count matching the filter. A non-positive limit selects defaultPageSize.
func (s *Store) List(ctx context.Context, ownerID string, f Filter) ([]Task, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks
		 WHERE owner_id = $1 AND ($2::boolean IS NULL OR completed = $2)`,
		ownerID, f.Completed,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting tasks: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+taskCols+` FROM tasks
		 WHERE owner_id = $1 AND ($2::boolean IS NULL OR completed = $2)
		 ORDER BY created_at DESC, id
		 LIMIT $3 OFFSET $4`,
		ownerID, f.Completed, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading tasks: %w", err)
	}
	return tasks, total, nil
}

// Update applies the non-nil fields of u and returns the new state. The
// ownership check runs first so a foreign task reports ErrForbidden rather
// than silently matching zero rows.
func (s *Store) Update(ctx context.Context, taskID uuid.UUID, ownerID string, u Update) (*Task, error) {
	if u.empty() {
		return s.Get(ctx, taskID, ownerID)
	}
	if _, err := s.Get(ctx, taskID, ownerID); err != nil {
		return nil, err
	}

	// NULLIF folds an explicit empty description back to NULL, matching
	// what Create stores.
	row := s.pool.QueryRow(ctx,
		`UPDATE tasks
		 SET title       = COALESCE($3, title),
		     description = NULLIF(COALESCE($4, description), ''),
		     completed   = COALESCE($5, completed),
		     updated_at  = now()
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+taskCols,
		taskID, ownerID, u.Title, u.Description, u.Completed,
	)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	s.logger.Debug("updated task", "task_id", taskID, "owner_id", ownerID)
	return t, nil
}

// Delete removes a task. Missing and foreign tasks fail with the same
// sentinels as Get.
func (s *Store) Delete(ctx context.Context, taskID uuid.UUID, ownerID string) error {
	if _, err := s.Get(ctx, taskID, ownerID); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2`, taskID, ownerID)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted task", "task_id", taskID, "owner_id", ownerID)
	return nil
}

// scanTask reads one row in taskCols order.
func scanTask(row pgx.Row) (*Task, error) {
	var (
		t    Task
		desc *string
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &desc, &t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if desc != nil {
		t.Description = *desc
	}
	return &t, nil
}
