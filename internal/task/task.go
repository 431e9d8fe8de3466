// Package task owns the todo domain: the Postgres-backed task store and
// the tool surface the agent calls to act on a user's list.
//
// Every operation is scoped to an owner. A task that exists but belongs
// to someone else fails with ErrForbidden so the tool layer can report
// authorization separately from absence.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by Store operations.
var (
	ErrNotFound  = errors.New("task not found")
	ErrForbidden = errors.New("task owned by another user")
)

const (
	// maxTitleChars matches the VARCHAR(255) column; Postgres counts
	// characters, not bytes.
	maxTitleChars = 255

	defaultPageSize = 20
	maxPageSize     = 100
)

// Task is one todo item.
type Task struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"-"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Page is one page of a task listing, newest tasks first.
type Page struct {
	Tasks    []Task `json:"tasks"`
	Total    int64  `json:"total"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

// Filter narrows a listing. A nil Completed matches both states.
type Filter struct {
	Completed *bool
	Limit     int
	Offset    int
}

// Update carries a partial change; nil fields are left untouched.
type Update struct {
	Title       *string
	Description *string
	Completed   *bool
}

func (u Update) empty() bool {
	return u.Title == nil && u.Description == nil && u.Completed == nil
}
