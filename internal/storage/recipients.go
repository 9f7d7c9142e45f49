package storage

import (
	"context"
	"fmt"
	"time"

	"annobot/pkg/logx"
)

// UpsertRecipient records a chat as a known recipient. Re-registering an
// existing chat keeps its client flag.
func (s *Store) UpsertRecipient(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(chat_id, is_client, added_at) VALUES(?,0,?)
		 ON CONFLICT(chat_id) DO NOTHING`,
		chatID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: upsert recipient: %w", err)
	}
	s.log.Debug("recipient registered", logx.Int64("chat_id", chatID))
	return nil
}

// MarkClient flags a recipient as a converted client. No-op for unknown chats.
func (s *Store) MarkClient(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recipients SET is_client = 1 WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("storage: mark client: %w", err)
	}
	return nil
}

// Recipients returns the current fan-out list, optionally limited to
// recipients flagged as clients. The result is duplicate-free (chat_id is
// the primary key) and unordered.
func (s *Store) Recipients(ctx context.Context, onlyClients bool) ([]int64, error) {
	q := `SELECT chat_id FROM recipients`
	if onlyClients {
		q += ` WHERE is_client = 1`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: recipients: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: recipients: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountRecipients reports directory totals for the admin stats view.
func (s *Store) CountRecipients(ctx context.Context) (total, clients int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_client), 0) FROM recipients`)
	if err := row.Scan(&total, &clients); err != nil {
		return 0, 0, fmt.Errorf("storage: count recipients: %w", err)
	}
	return total, clients, nil
}
