// Package engine runs the per-turn pipeline: precondition checks, context
// assembly from long- and short-term memory, the tool-aware model call,
// transactional persistence of the turn pair, and the background reflection
// dispatch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mnemo/internal/llm"
	"mnemo/internal/memory"
	"mnemo/internal/metrics"
	"mnemo/internal/store"
	"mnemo/internal/token"
	"mnemo/internal/tool"
)

// ConversationStore is the slice of the store the engine needs.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	CreateTurnPair(ctx context.Context, conversationID string, user, assistant store.NewTurn) (store.Turn, store.Turn, error)
	CountAssistantTurns(ctx context.Context, conversationID string) (int, error)
}

// MemoryFinder retrieves long-term memories relevant to a query.
type MemoryFinder interface {
	FindRelevant(ctx context.Context, userID, queryText string, topN int, threshold float64) ([]memory.Scored, error)
}

// WindowBuilder assembles the short-term history window.
type WindowBuilder interface {
	Build(ctx context.Context, conversationID string, tokenBudget int) ([]llm.Message, error)
}

// Resolver runs the tool-aware model flow for a turn.
type Resolver interface {
	Resolve(ctx context.Context, userText string, history []llm.Message, model string) (tool.Resolution, error)
}

// Reflector synthesizes insights from recent turns in the background.
type Reflector interface {
	Synthesize(ctx context.Context, userID, conversationID string, lookback int, model string) ([]store.Reflection, error)
}

// Params are the tuning knobs of the turn pipeline.
type Params struct {
	ChatModel          string
	TokenBudget        int
	RetrievalTopN      int
	RetrievalThreshold float64
	ReflectionInterval int // assistant turns between reflection runs, 0 disables
	ReflectionLookback int
}

// Engine orchestrates one conversation turn end to end.
type Engine struct {
	repo      ConversationStore
	memories  MemoryFinder
	window    WindowBuilder
	resolver  Resolver
	reflector Reflector
	estimate  token.Estimator
	params    Params
	logger    *slog.Logger

	// spawn runs the fire-and-forget reflection task. Swapped for a
	// synchronous runner in tests.
	spawn func(fn func())
}

// New wires an engine. If logger is nil, the default slog logger is used.
func New(repo ConversationStore, memories MemoryFinder, window WindowBuilder, resolver Resolver, reflector Reflector, estimate token.Estimator, params Params, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:      repo,
		memories:  memories,
		window:    window,
		resolver:  resolver,
		reflector: reflector,
		estimate:  estimate,
		params:    params,
		logger:    logger,
		spawn:     func(fn func()) { go fn() },
	}
}

// TurnResult is the outcome of a handled turn.
type TurnResult struct {
	UserTurn      store.Turn
	AssistantTurn store.Turn
	Tool          *tool.Execution // nil when no tool fired
}

// HandleTurn processes one user message. The conversation must exist and
// belong to userID before any model call is made. On success both the user
// turn and the assistant turn are persisted atomically; any failure before
// that leaves the conversation untouched. Model may be empty to use the
// configured default.
func (e *Engine) HandleTurn(ctx context.Context, userID, conversationID, userText, model string) (TurnResult, error) {
	started := time.Now()
	res, err := e.handleTurn(ctx, userID, conversationID, userText, model)
	metrics.TurnDuration.Observe(time.Since(started).Seconds())
	metrics.TurnsTotal.WithLabelValues(outcomeLabel(err)).Inc()
	return res, err
}

func (e *Engine) handleTurn(ctx context.Context, userID, conversationID, userText, model string) (TurnResult, error) {
	if model == "" {
		model = e.params.ChatModel
	}

	conv, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return TurnResult{}, err
	}
	if conv.UserID != userID {
		return TurnResult{}, fmt.Errorf("%w: conversation %s for user %s", store.ErrNotFound, conversationID, userID)
	}

	userTokens := e.estimate(userText, model)

	relevant, err := e.memories.FindRelevant(ctx, userID, userText, e.params.RetrievalTopN, e.params.RetrievalThreshold)
	if err != nil {
		return TurnResult{}, fmt.Errorf("engine: retrieve memories: %w", err)
	}
	metrics.MemoriesRetrievedTotal.Add(float64(len(relevant)))

	window, err := e.window.Build(ctx, conversationID, e.params.TokenBudget)
	if err != nil {
		return TurnResult{}, fmt.Errorf("engine: build window: %w", err)
	}

	history := make([]llm.Message, 0, len(relevant)+len(window))
	for _, m := range relevant {
		history = append(history, llm.Message{
			Role:    store.RoleSystem,
			Content: "Relevant long-term memory: " + m.Memory.Text,
		})
	}
	history = append(history, window...)

	resolution, err := e.resolver.Resolve(ctx, userText, history, model)
	if err != nil {
		return TurnResult{}, fmt.Errorf("engine: resolve turn: %w", err)
	}
	if exec := resolution.Execution; exec != nil {
		metrics.ToolExecutionsTotal.WithLabelValues(exec.Name, resultLabel(exec.Result.Success)).Inc()
	}

	assistantTokens := resolution.CompletionTokens
	if assistantTokens == 0 {
		assistantTokens = e.estimate(resolution.FinalText, model)
	}

	var assistantMeta map[string]string
	if resolution.Execution != nil {
		assistantMeta = map[string]string{"tool": resolution.Execution.Name}
	}

	userTurn, assistantTurn, err := e.repo.CreateTurnPair(ctx, conversationID,
		store.NewTurn{SenderRole: store.RoleUser, Content: userText, TokenCount: userTokens},
		store.NewTurn{SenderRole: store.RoleAssistant, Content: resolution.FinalText, TokenCount: assistantTokens, Metadata: assistantMeta},
	)
	if err != nil {
		return TurnResult{}, err
	}

	e.logger.Info("engine: turn handled",
		"conversation_id", conversationID,
		"user_id", userID,
		"user_tokens", userTokens,
		"assistant_tokens", assistantTokens,
		"memories", len(relevant),
		"tool_fired", resolution.Execution != nil,
	)

	e.maybeDispatchReflection(ctx, userID, conversationID, model)

	return TurnResult{
		UserTurn:      userTurn,
		AssistantTurn: assistantTurn,
		Tool:          resolution.Execution,
	}, nil
}

// maybeDispatchReflection fires the background reflection task once every
// configured number of assistant turns. The task is detached from the
// request: it gets a fresh context and its failure only logs.
func (e *Engine) maybeDispatchReflection(ctx context.Context, userID, conversationID, model string) {
	if e.params.ReflectionInterval <= 0 {
		return
	}

	count, err := e.repo.CountAssistantTurns(ctx, conversationID)
	if err != nil {
		e.logger.Error("engine: count assistant turns", "conversation_id", conversationID, "err", err)
		return
	}
	if count == 0 || count%e.params.ReflectionInterval != 0 {
		return
	}

	lookback := e.params.ReflectionLookback
	e.spawn(func() {
		created, err := e.reflector.Synthesize(context.Background(), userID, conversationID, lookback, model)
		if err != nil {
			metrics.ReflectionsTotal.WithLabelValues("error").Inc()
			e.logger.Error("engine: reflection run failed",
				"conversation_id", conversationID, "err", err)
			return
		}
		metrics.ReflectionsTotal.WithLabelValues("ok").Inc()
		e.logger.Info("engine: reflection run finished",
			"conversation_id", conversationID,
			"reflections", len(created),
		)
	})
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
