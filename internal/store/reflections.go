package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateReflection inserts a new reflection in pending status.
func (s *Store) CreateReflection(ctx context.Context, userID, text string, triggeringTurnIDs []string) (Reflection, error) {
	r := Reflection{
		ID:                uuid.New().String(),
		UserID:            userID,
		Text:              text,
		TriggeringTurnIDs: triggeringTurnIDs,
		Status:            ReflectionPending,
		CreatedAt:         time.Now().UTC(),
	}

	idsJSON, err := json.Marshal(triggeringTurnIDs)
	if err != nil {
		return Reflection{}, fmt.Errorf("store: marshal triggering turn ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reflections (id, user_id, reflection_text, triggering_turn_ids, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Text, string(idsJSON), r.Status, r.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return Reflection{}, fmt.Errorf("store: insert reflection: %w", err)
	}
	return r, nil
}

// UpdateReflectionStatus transitions a reflection's lifecycle status.
func (s *Store) UpdateReflectionStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reflections SET status = ? WHERE id = ?`, status, id,
	)
	if err != nil {
		return fmt.Errorf("store: update reflection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: reflection %s", ErrNotFound, id)
	}
	return nil
}

// ListReflections returns all reflections owned by userID, newest first.
func (s *Store) ListReflections(ctx context.Context, userID string) ([]Reflection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, reflection_text, triggering_turn_ids, status, created_at
		FROM reflections WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query reflections: %w", err)
	}
	defer rows.Close()

	var out []Reflection
	for rows.Next() {
		var (
			r         Reflection
			idsJSON   string
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Text, &idsJSON, &r.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan reflection: %w", err)
		}
		if err := json.Unmarshal([]byte(idsJSON), &r.TriggeringTurnIDs); err != nil {
			return nil, fmt.Errorf("store: unmarshal triggering turn ids: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate reflections: %w", err)
	}
	return out, nil
}
