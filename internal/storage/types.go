package storage

import (
	"errors"
	"time"

	"annobot/internal/transport"
)

var (
	// ErrNotFound is returned by lookups for a missing row.
	ErrNotFound = errors.New("not found")
	// ErrEmptyContent rejects a task whose payload carries neither text nor media.
	ErrEmptyContent = errors.New("task content is empty")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Task is a persisted scheduled announcement.
// Content is immutable after creation; only IsExecuted transitions.
type Task struct {
	ID           int64
	RunAt        time.Time
	Text         string // message text, or caption for media tasks
	ButtonText   string
	ButtonURL    string
	MediaRef     string
	MediaKind    transport.MediaKind
	NotifyChatID int64 // operator chat for the fire-time summary (0 if none)
	IsExecuted   bool
	CreatedAt    time.Time
}

// IsMedia reports whether the task carries a media payload.
func (t Task) IsMedia() bool { return t.MediaKind != "" }

// Recipient is a known addressable chat.
type Recipient struct {
	ChatID   int64
	IsClient bool
	AddedAt  time.Time
}
