package storage

import (
	"context"
	"fmt"
	"time"
)

// AppendMessages inserts msgs into a conversation and, in the same
// transaction, deletes the oldest rows so that at most keep remain.
// keep <= 0 disables eviction. Timestamps are stored as unix milliseconds.
func (s *Store) AppendMessages(ctx context.Context, conversationID string, msgs []Message, keep int) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_messages (conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, conversationID, m.Role, m.Content, createdAt.UnixMilli()); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if keep > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM conversation_messages
			WHERE conversation_id = ? AND id NOT IN (
				SELECT id FROM conversation_messages
				WHERE conversation_id = ?
				ORDER BY id DESC LIMIT ?
			)`, conversationID, conversationID, keep); err != nil {
			return fmt.Errorf("evicting old messages: %w", err)
		}
	}

	return tx.Commit()
}

// RecentMessages returns up to limit of the newest messages of a
// conversation, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM (
			SELECT id, conversation_id, role, content, created_at
			FROM conversation_messages
			WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessagesBefore removes at most limit messages created before cutoff
// and reports how many rows went away. Each call is its own short statement.
func (s *Store) DeleteMessagesBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_messages WHERE id IN (
			SELECT id FROM conversation_messages WHERE created_at < ? LIMIT ?
		)`, cutoff.UnixMilli(), limit)
	if err != nil {
		return 0, fmt.Errorf("deleting expired messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteConversation removes every message of a conversation.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation_messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
