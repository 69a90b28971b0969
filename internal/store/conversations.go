package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConversation inserts a new active conversation for the given user.
// The user must exist (enforced by the foreign key).
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	now := time.Now().UTC()
	c := Conversation{
		ID:             uuid.New().String(),
		UserID:         userID,
		Title:          title,
		Status:         ConversationActive,
		LastActivityAt: now,
		CreatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, status, token_total, last_activity_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Status,
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: insert conversation: %w", err)
	}
	return c, nil
}

// GetConversation returns the conversation with the given id, or ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, status, token_total, last_activity_at, created_at
		FROM conversations WHERE id = ?`, id)

	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: query conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns all conversations owned by userID, most recently
// active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, status, token_total, last_activity_at, created_at
		FROM conversations WHERE user_id = ?
		ORDER BY last_activity_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate conversations: %w", err)
	}
	return out, nil
}

// TouchConversation updates last_activity_at to now. Returns ErrNotFound when
// the conversation does not exist.
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return nil
}

// UpdateConversationStatus transitions the conversation's lifecycle status.
func (s *Store) UpdateConversationStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return fmt.Errorf("store: update conversation status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var (
		c                        Conversation
		lastActivityAt, createdAt string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Status, &c.TokenTotal, &lastActivityAt, &createdAt)
	if err != nil {
		return Conversation{}, err
	}
	c.LastActivityAt, _ = time.Parse(timeLayout, lastActivityAt)
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return c, nil
}
