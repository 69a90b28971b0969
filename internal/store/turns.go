package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewTurn is the caller-supplied portion of a turn. ID, order, and timestamps
// are assigned by the store.
type NewTurn struct {
	SenderRole string
	Content    string
	TokenCount int
	Metadata   map[string]string
}

// CreateTurn appends a single turn to the conversation, assigning the next
// order value atomically, and touches the conversation's activity timestamp
// and running token total. The whole operation runs in one transaction.
func (s *Store) CreateTurn(ctx context.Context, conversationID string, nt NewTurn) (Turn, error) {
	var out Turn
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		next, err := nextTurnOrder(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		out, err = insertTurn(ctx, tx, conversationID, next, nt)
		if err != nil {
			return err
		}
		return bumpConversation(ctx, tx, conversationID, nt.TokenCount)
	})
	if err != nil {
		return Turn{}, err
	}
	return out, nil
}

// CreateTurnPair appends a user turn and the assistant's reply in a single
// transaction with consecutive order values. Either both turns are persisted
// or neither is.
func (s *Store) CreateTurnPair(ctx context.Context, conversationID string, user, assistant NewTurn) (Turn, Turn, error) {
	var userTurn, assistantTurn Turn
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		next, err := nextTurnOrder(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		userTurn, err = insertTurn(ctx, tx, conversationID, next, user)
		if err != nil {
			return err
		}
		assistantTurn, err = insertTurn(ctx, tx, conversationID, next+1, assistant)
		if err != nil {
			return err
		}
		return bumpConversation(ctx, tx, conversationID, user.TokenCount+assistant.TokenCount)
	})
	if err != nil {
		return Turn{}, Turn{}, err
	}
	return userTurn, assistantTurn, nil
}

// ListTurns returns all turns of a conversation in chronological order
// (ascending turn order).
func (s *Store) ListTurns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, turn_order, sender_role, content, token_count, metadata, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY turn_order ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: query turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

// ListRecentTurns returns the most recent limit turns of a conversation in
// chronological order.
func (s *Store) ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, turn_order, sender_role, content, token_count, metadata, created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY turn_order DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	// Rows came newest-first; restore chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CountAssistantTurns returns the number of assistant-role turns stored for
// the conversation. The engine uses it for the reflection cadence.
func (s *Store) CountAssistantTurns(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ? AND sender_role = ?`,
		conversationID, RoleAssistant,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count assistant turns: %w", err)
	}
	return n, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// nextTurnOrder returns MAX(turn_order)+1 for the conversation. Safe under
// concurrency because the store holds a single connection and the caller
// runs the read and the insert in the same transaction.
func nextTurnOrder(ctx context.Context, tx *sql.Tx, conversationID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_order), 0) + 1 FROM turns WHERE conversation_id = ?`,
		conversationID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("store: next turn order: %w", err)
	}
	return next, nil
}

func insertTurn(ctx context.Context, tx *sql.Tx, conversationID string, order int, nt NewTurn) (Turn, error) {
	t := Turn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Order:          order,
		SenderRole:     nt.SenderRole,
		Content:        nt.Content,
		TokenCount:     nt.TokenCount,
		Metadata:       nt.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	var metadataJSON []byte
	if len(nt.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(nt.Metadata)
		if err != nil {
			return Turn{}, fmt.Errorf("store: marshal turn metadata: %w", err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, turn_order, sender_role, content, token_count, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ConversationID, t.Order, t.SenderRole, t.Content, t.TokenCount,
		nullableString(metadataJSON), t.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Turn{}, fmt.Errorf("store: insert turn: %w", err)
	}
	return t, nil
}

// bumpConversation advances last_activity_at and the running token total.
func bumpConversation(ctx context.Context, tx *sql.Tx, conversationID string, tokens int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_activity_at = ?, token_total = token_total + ?
		WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), tokens, conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: bump conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	return nil
}

func collectTurns(rows *sql.Rows) ([]Turn, error) {
	var out []Turn
	for rows.Next() {
		var (
			t            Turn
			metadataJSON sql.NullString
			createdAt    string
		)
		err := rows.Scan(&t.ID, &t.ConversationID, &t.Order, &t.SenderRole,
			&t.Content, &t.TokenCount, &metadataJSON, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal turn metadata: %w", err)
			}
		}
		t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate turns: %w", err)
	}
	return out, nil
}

// nullableString converts an optional JSON blob to a driver-friendly value.
func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
