// Package window builds the short-term context window sent to the model:
// the most recent turns of a conversation that fit inside a token budget.
package window

import (
	"context"
	"fmt"

	"mnemo/internal/llm"
	"mnemo/internal/store"
)

// TurnSource supplies a conversation's turns in chronological order.
type TurnSource interface {
	ListTurns(ctx context.Context, conversationID string) ([]store.Turn, error)
}

// Builder selects a contiguous suffix of a conversation that fits a token
// budget.
type Builder struct {
	turns TurnSource
}

// NewBuilder returns a Builder reading turns from src.
func NewBuilder(src TurnSource) *Builder {
	return &Builder{turns: src}
}

// Build walks the conversation from the newest turn backward, accumulating
// stored token counts, and stops at the first turn that would exceed the
// budget. Turns are never truncated mid-text. The result is a contiguous
// chronological suffix whose token counts sum to at most tokenBudget.
// A budget of zero or less yields an empty window.
func (b *Builder) Build(ctx context.Context, conversationID string, tokenBudget int) ([]llm.Message, error) {
	if tokenBudget <= 0 {
		return nil, nil
	}

	turns, err := b.turns.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("window: list turns: %w", err)
	}

	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		if used+turns[i].TokenCount > tokenBudget {
			break
		}
		used += turns[i].TokenCount
		start = i
	}

	out := make([]llm.Message, 0, len(turns)-start)
	for _, t := range turns[start:] {
		out = append(out, llm.Message{Role: t.SenderRole, Content: t.Content})
	}
	return out, nil
}
