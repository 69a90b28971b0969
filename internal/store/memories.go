package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMemory is the caller-supplied portion of a long-term memory record.
// The embedding blob is opaque to the store; the memory package encodes and
// decodes it.
type NewMemory struct {
	UserID             string
	Text               string
	Embedding          string
	MemoryType         string
	ImportanceScore    float64
	SourceTurnIDs      []string
	SourceReflectionID string
}

// CreateMemory inserts a long-term memory record. last_accessed_at is set to
// now on creation.
func (s *Store) CreateMemory(ctx context.Context, nm NewMemory) (Memory, error) {
	now := time.Now().UTC()
	m := Memory{
		ID:                 uuid.New().String(),
		UserID:             nm.UserID,
		Text:               nm.Text,
		Embedding:          nm.Embedding,
		MemoryType:         nm.MemoryType,
		ImportanceScore:    nm.ImportanceScore,
		SourceTurnIDs:      nm.SourceTurnIDs,
		SourceReflectionID: nm.SourceReflectionID,
		LastAccessedAt:     now,
		CreatedAt:          now,
	}

	var sourceIDsJSON []byte
	if len(nm.SourceTurnIDs) > 0 {
		var err error
		sourceIDsJSON, err = json.Marshal(nm.SourceTurnIDs)
		if err != nil {
			return Memory{}, fmt.Errorf("store: marshal source turn ids: %w", err)
		}
	}

	var reflectionID any
	if nm.SourceReflectionID != "" {
		reflectionID = nm.SourceReflectionID
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories
			(id, user_id, memory_text, embedding, memory_type, importance_score,
			 source_turn_ids, source_reflection_id, last_accessed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Text, m.Embedding, m.MemoryType, m.ImportanceScore,
		nullableString(sourceIDsJSON), reflectionID,
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return Memory{}, fmt.Errorf("store: insert memory: %w", err)
	}
	return m, nil
}

// ListMemories returns all long-term memories owned by userID in insertion
// order (oldest first). Insertion order is the tie-break the similarity
// ranking relies on.
func (s *Store) ListMemories(ctx context.Context, userID string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, memory_text, embedding, memory_type, importance_score,
		       source_turn_ids, source_reflection_id, last_accessed_at, created_at
		FROM memories WHERE user_id = ?
		ORDER BY rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query memories: %w", err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var (
			m              Memory
			sourceIDs      sql.NullString
			reflectionID   sql.NullString
			lastAccessedAt string
			createdAt      string
		)
		err := rows.Scan(&m.ID, &m.UserID, &m.Text, &m.Embedding, &m.MemoryType,
			&m.ImportanceScore, &sourceIDs, &reflectionID, &lastAccessedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: scan memory: %w", err)
		}
		if sourceIDs.Valid && sourceIDs.String != "" {
			if err := json.Unmarshal([]byte(sourceIDs.String), &m.SourceTurnIDs); err != nil {
				return nil, fmt.Errorf("store: unmarshal source turn ids: %w", err)
			}
		}
		if reflectionID.Valid {
			m.SourceReflectionID = reflectionID.String
		}
		m.LastAccessedAt, _ = time.Parse(timeLayout, lastAccessedAt)
		m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate memories: %w", err)
	}
	return out, nil
}

// TouchMemories sets last_accessed_at to now for the given memory ids.
// A read that returns memories mutates this recency signal on purpose.
func (s *Store) TouchMemories(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC().Format(timeLayout))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE memories SET last_accessed_at = ? WHERE id IN (%s)`, placeholders),
		args...,
	)
	if err != nil {
		return fmt.Errorf("store: touch memories: %w", err)
	}
	return nil
}
