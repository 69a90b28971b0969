// Package reflection synthesizes high-level insights from recent
// conversation turns and promotes them into long-term memory.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mnemo/internal/llm"
	"mnemo/internal/memory"
	"mnemo/internal/store"
)

// DefaultImportance is the importance score assigned to memories promoted
// from reflections.
const DefaultImportance = 0.6

// promptTemplate asks the model for a JSON list of short insight strings.
// %s is the rendered conversation snippet block.
const promptTemplate = `Based on the following recent conversation snippets, what are 2-3 high-level observations, insights, or questions that could be important for future interactions or understanding the user better?
Consider user's statements, preferences, goals, or significant information revealed.
Format your response ONLY as a JSON list of strings, where each string is a concise reflection.
Example:
User: I love hiking on weekends. Last month I went to Eagle Peak.
User: I'm planning another hike for this Saturday.
Assistant: Sounds fun!
Expected JSON Output: ["User enjoys hiking as a weekend activity and recently hiked Eagle Peak.", "User is planning another hike soon."]

If no significant insights are found, output an empty JSON list: [].

Conversation Snippets:
%s

JSON Output of Reflections:`

// jsonArrayPattern locates a bracketed JSON array inside a response that may
// carry surrounding prose or markdown.
var jsonArrayPattern = regexp.MustCompile(`(?s)(\[.*?\])`)

// Repository is the slice of the store the synthesizer needs.
type Repository interface {
	ListRecentTurns(ctx context.Context, conversationID string, limit int) ([]store.Turn, error)
	CreateReflection(ctx context.Context, userID, text string, triggeringTurnIDs []string) (store.Reflection, error)
	UpdateReflectionStatus(ctx context.Context, id, status string) error
}

// Completer is the model call the synthesizer depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []llm.Message, model string) (llm.Completion, error)
}

// Promoter stores a reflection as a long-term memory.
type Promoter interface {
	AddMemory(ctx context.Context, req memory.AddRequest) (store.Memory, error)
}

// Synthesizer turns recent conversation turns into stored reflections and
// promotes each into a synthesized long-term memory.
type Synthesizer struct {
	repo       Repository
	backend    Completer
	promoter   Promoter
	importance float64
	logger     *slog.Logger
}

// NewSynthesizer wires a synthesizer. If logger is nil, the default slog
// logger is used.
func NewSynthesizer(repo Repository, backend Completer, promoter Promoter, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		repo:       repo,
		backend:    backend,
		promoter:   promoter,
		importance: DefaultImportance,
		logger:     logger,
	}
}

// Synthesize fetches the most recent lookback turns of the conversation,
// asks the model for insights, and persists each as a Reflection. Every
// reflection is then promoted into a long-term memory of type synthesized;
// a promotion failure leaves that reflection pending and does not stop the
// rest of the batch. An unparseable model response yields zero reflections,
// not an error.
func (s *Synthesizer) Synthesize(ctx context.Context, userID, conversationID string, lookback int, model string) ([]store.Reflection, error) {
	turns, err := s.repo.ListRecentTurns(ctx, conversationID, lookback)
	if err != nil {
		return nil, fmt.Errorf("reflection: list recent turns: %w", err)
	}
	if len(turns) == 0 {
		s.logger.Debug("reflection: no recent turns", "conversation_id", conversationID)
		return nil, nil
	}

	triggeringIDs := make([]string, len(turns))
	for i, t := range turns {
		triggeringIDs[i] = t.ID
	}

	prompt := fmt.Sprintf(promptTemplate, renderTurns(turns))
	completion, err := s.backend.Complete(ctx, prompt, nil, model)
	if err != nil {
		return nil, fmt.Errorf("reflection: model call: %w", err)
	}

	texts := parseInsights(completion.Text)
	if len(texts) == 0 {
		s.logger.Info("reflection: model produced no insights",
			"conversation_id", conversationID,
			"response_len", len(completion.Text),
		)
		return nil, nil
	}

	var created []store.Reflection
	for _, text := range texts {
		r, err := s.repo.CreateReflection(ctx, userID, text, triggeringIDs)
		if err != nil {
			s.logger.Error("reflection: store failed", "user_id", userID, "err", err)
			continue
		}
		created = append(created, r)

		_, err = s.promoter.AddMemory(ctx, memory.AddRequest{
			UserID:             userID,
			Text:               text,
			MemoryType:         store.MemorySynthesized,
			ImportanceScore:    s.importance,
			SourceReflectionID: r.ID,
		})
		if err != nil {
			s.logger.Error("reflection: promotion to long-term memory failed",
				"reflection_id", r.ID, "err", err)
			continue
		}
		if err := s.repo.UpdateReflectionStatus(ctx, r.ID, store.ReflectionProcessed); err != nil {
			s.logger.Error("reflection: status update failed", "reflection_id", r.ID, "err", err)
		}
	}
	return created, nil
}

// renderTurns formats turns as "Role: content" lines for the prompt.
func renderTurns(turns []store.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		role := "User"
		if t.SenderRole == store.RoleAssistant {
			role = "Assistant"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

// parseInsights extracts a JSON array of strings from a model response,
// tolerating surrounding prose. Non-string array items and blank strings are
// dropped. Anything unparseable yields nil.
func parseInsights(raw string) []string {
	candidate := raw
	if m := jsonArrayPattern.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}

	var items []any
	if err := json.Unmarshal([]byte(candidate), &items); err != nil {
		// The narrow match may have grabbed a non-array fragment; try the
		// whole response before giving up.
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil
		}
	}

	var out []string
	for _, item := range items {
		text, ok := item.(string)
		if !ok {
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			out = append(out, text)
		}
	}
	return out
}
