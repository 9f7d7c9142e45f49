package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"annobot/internal/transport"
	"annobot/pkg/logx"
)

// CreateTask persists a new pending task and returns its store-assigned id.
// Content must carry text or a media reference.
func (s *Store) CreateTask(ctx context.Context, t Task) (int64, error) {
	if strings.TrimSpace(t.Text) == "" && strings.TrimSpace(t.MediaRef) == "" {
		return 0, ErrEmptyContent
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(run_at, text, button_text, button_url, media_ref, media_kind, notify_chat_id, is_executed, created_at)
		 VALUES(?,?,?,?,?,?,?,0,?)`,
		t.RunAt.UTC().Format(time.RFC3339Nano), t.Text,
		nullStr(t.ButtonText), nullStr(t.ButtonURL),
		nullStr(t.MediaRef), nullStr(string(t.MediaKind)),
		nullInt64(t.NotifyChatID),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: create task: %w", err)
	}
	s.log.Debug("task created", logx.Int64("task_id", id), logx.Time("run_at", t.RunAt))
	return id, nil
}

// TaskByID fetches one task. Returns ErrNotFound for a missing id.
func (s *Store) TaskByID(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_at, text, button_text, button_url, media_ref, media_kind, notify_chat_id, is_executed, created_at
		 FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// ListPending returns all not-yet-executed tasks ordered by run time.
// Used for re-arming timers after a restart.
func (s *Store) ListPending(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_at, text, button_text, button_url, media_ref, media_kind, notify_chat_id, is_executed, created_at
		 FROM tasks WHERE is_executed = 0 ORDER BY run_at`)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkExecuted flips the task to executed. No-op for a missing id.
func (s *Store) MarkExecuted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET is_executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: mark executed: %w", err)
	}
	return nil
}

// DeleteTask removes the task. Idempotent: deleting an already-deleted id
// is a no-op, not an error.
func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage: delete task: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var (
		t                   Task
		runAt, createdAt    string
		btnText, btnURL     sql.NullString
		mediaRef, mediaKind sql.NullString
		notifyChat          sql.NullInt64
		executed            int
	)
	err := r.Scan(&t.ID, &runAt, &t.Text, &btnText, &btnURL, &mediaRef, &mediaKind, &notifyChat, &executed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("storage: scan task: %w", err)
	}
	t.RunAt, err = time.Parse(time.RFC3339Nano, runAt)
	if err != nil {
		return Task{}, fmt.Errorf("storage: bad run_at %q: %w", runAt, err)
	}
	if ts, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		t.CreatedAt = ts
	}
	t.ButtonText = btnText.String
	t.ButtonURL = btnURL.String
	t.MediaRef = mediaRef.String
	t.MediaKind = transport.MediaKind(mediaKind.String)
	t.NotifyChatID = notifyChat.Int64
	t.IsExecuted = executed != 0
	return t, nil
}
