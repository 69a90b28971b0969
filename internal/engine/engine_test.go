package engine

import (
	"context"
	"errors"
	"testing"

	"mnemo/internal/llm"
	"mnemo/internal/memory"
	"mnemo/internal/store"
	"mnemo/internal/token"
	"mnemo/internal/tool"
)

type fakeRepo struct {
	conversation   store.Conversation
	getErr         error
	pairErr        error
	assistantCount int

	pairs []pairCall
}

type pairCall struct {
	conversationID  string
	user, assistant store.NewTurn
}

func (f *fakeRepo) GetConversation(ctx context.Context, id string) (store.Conversation, error) {
	if f.getErr != nil {
		return store.Conversation{}, f.getErr
	}
	return f.conversation, nil
}

func (f *fakeRepo) CreateTurnPair(ctx context.Context, conversationID string, user, assistant store.NewTurn) (store.Turn, store.Turn, error) {
	if f.pairErr != nil {
		return store.Turn{}, store.Turn{}, f.pairErr
	}
	f.pairs = append(f.pairs, pairCall{conversationID: conversationID, user: user, assistant: assistant})
	return store.Turn{ID: "ut", SenderRole: user.SenderRole, Content: user.Content, TokenCount: user.TokenCount},
		store.Turn{ID: "at", SenderRole: assistant.SenderRole, Content: assistant.Content, TokenCount: assistant.TokenCount, Metadata: assistant.Metadata},
		nil
}

func (f *fakeRepo) CountAssistantTurns(ctx context.Context, conversationID string) (int, error) {
	return f.assistantCount, nil
}

type fakeFinder struct {
	scored []memory.Scored
	err    error
	calls  int
}

func (f *fakeFinder) FindRelevant(ctx context.Context, userID, queryText string, topN int, threshold float64) ([]memory.Scored, error) {
	f.calls++
	return f.scored, f.err
}

type fakeWindow struct {
	msgs []llm.Message
	err  error
}

func (f *fakeWindow) Build(ctx context.Context, conversationID string, tokenBudget int) ([]llm.Message, error) {
	return f.msgs, f.err
}

type fakeResolver struct {
	resolution  tool.Resolution
	err         error
	calls       int
	lastHistory []llm.Message
}

func (f *fakeResolver) Resolve(ctx context.Context, userText string, history []llm.Message, model string) (tool.Resolution, error) {
	f.calls++
	f.lastHistory = history
	return f.resolution, f.err
}

type fakeReflector struct {
	calls        int
	lastLookback int
	err          error
}

func (f *fakeReflector) Synthesize(ctx context.Context, userID, conversationID string, lookback int, model string) ([]store.Reflection, error) {
	f.calls++
	f.lastLookback = lookback
	return nil, f.err
}

type fixture struct {
	repo      *fakeRepo
	finder    *fakeFinder
	window    *fakeWindow
	resolver  *fakeResolver
	reflector *fakeReflector
	engine    *Engine
}

func newFixture() *fixture {
	f := &fixture{
		repo:      &fakeRepo{conversation: store.Conversation{ID: "c1", UserID: "u1"}},
		finder:    &fakeFinder{},
		window:    &fakeWindow{},
		resolver:  &fakeResolver{resolution: tool.Resolution{FinalText: "hello!", CompletionTokens: 7}},
		reflector: &fakeReflector{},
	}
	f.engine = New(f.repo, f.finder, f.window, f.resolver, f.reflector, token.Estimate, Params{
		ChatModel:          "gemma:2b",
		TokenBudget:        4000,
		RetrievalTopN:      3,
		RetrievalThreshold: 0.5,
		ReflectionInterval: 5,
		ReflectionLookback: 10,
	}, nil)
	// Run the background task inline so tests observe it deterministically.
	f.engine.spawn = func(fn func()) { fn() }
	return f
}

func TestHandleTurnPersistsPair(t *testing.T) {
	f := newFixture()

	res, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi there", "")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.UserTurn.Content != "hi there" || res.AssistantTurn.Content != "hello!" {
		t.Fatalf("turn contents: %+v", res)
	}
	if res.UserTurn.TokenCount != token.Estimate("hi there", "gemma:2b") {
		t.Fatalf("user tokens %d", res.UserTurn.TokenCount)
	}
	if res.AssistantTurn.TokenCount != 7 {
		t.Fatalf("assistant tokens %d, want backend count", res.AssistantTurn.TokenCount)
	}
	if len(f.repo.pairs) != 1 {
		t.Fatalf("%d pair writes, want 1", len(f.repo.pairs))
	}
}

func TestHandleTurnContextOrder(t *testing.T) {
	f := newFixture()
	f.finder.scored = []memory.Scored{
		{Memory: store.Memory{Text: "User is vegetarian."}, Score: 0.9},
		{Memory: store.Memory{Text: "User lives in Lyon."}, Score: 0.8},
	}
	f.window.msgs = []llm.Message{
		{Role: store.RoleUser, Content: "earlier question"},
		{Role: store.RoleAssistant, Content: "earlier answer"},
	}

	if _, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "dinner ideas?", ""); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	h := f.resolver.lastHistory
	if len(h) != 4 {
		t.Fatalf("history length %d, want 4", len(h))
	}
	if h[0].Role != store.RoleSystem || h[1].Role != store.RoleSystem {
		t.Fatalf("memories must come first as system messages: %+v", h[:2])
	}
	if h[0].Content != "Relevant long-term memory: User is vegetarian." {
		t.Fatalf("memory rendering: %q", h[0].Content)
	}
	if h[2].Content != "earlier question" {
		t.Fatalf("window must follow memories: %+v", h[2:])
	}
}

func TestHandleTurnMissingConversation(t *testing.T) {
	f := newFixture()
	f.repo.getErr = store.ErrNotFound

	_, err := f.engine.HandleTurn(context.Background(), "u1", "missing", "hi", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v", err)
	}
	if f.resolver.calls != 0 {
		t.Fatalf("model must not be called for a missing conversation")
	}
}

func TestHandleTurnForeignConversation(t *testing.T) {
	f := newFixture()
	f.repo.conversation = store.Conversation{ID: "c1", UserID: "someone-else"}

	_, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign conversation must look like not-found, got %v", err)
	}
	if f.finder.calls != 0 || f.resolver.calls != 0 {
		t.Fatalf("pipeline must stop at the precondition")
	}
}

func TestHandleTurnModelFailureNoPersistence(t *testing.T) {
	f := newFixture()
	f.resolver.err = llm.ErrUnavailable

	_, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", "")
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("got %v", err)
	}
	if len(f.repo.pairs) != 0 {
		t.Fatalf("failed turn must not persist anything")
	}
}

func TestHandleTurnRetrievalFailureAborts(t *testing.T) {
	f := newFixture()
	f.finder.err = errors.New("embedding backend down")

	if _, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", ""); err == nil {
		t.Fatalf("expected error")
	}
	if f.resolver.calls != 0 || len(f.repo.pairs) != 0 {
		t.Fatalf("aborted turn must not reach the model or the store")
	}
}

func TestHandleTurnEstimatesAssistantTokensWhenBackendOmits(t *testing.T) {
	f := newFixture()
	f.resolver.resolution = tool.Resolution{FinalText: "twelve chars"}

	res, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", "")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if want := token.Estimate("twelve chars", "gemma:2b"); res.AssistantTurn.TokenCount != want {
		t.Fatalf("assistant tokens %d, want estimated %d", res.AssistantTurn.TokenCount, want)
	}
}

func TestHandleTurnRecordsToolMetadata(t *testing.T) {
	f := newFixture()
	f.resolver.resolution = tool.Resolution{
		FinalText:        "it is noon",
		CompletionTokens: 4,
		Execution: &tool.Execution{
			Name:   "get_current_time",
			Result: tool.Result{Success: true, Output: "noon"},
		},
	}

	res, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "time?", "")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if res.Tool == nil || res.Tool.Name != "get_current_time" {
		t.Fatalf("tool execution missing from result")
	}
	if res.AssistantTurn.Metadata["tool"] != "get_current_time" {
		t.Fatalf("assistant metadata %v", res.AssistantTurn.Metadata)
	}
}

func TestReflectionCadence(t *testing.T) {
	cases := []struct {
		count      int
		dispatched bool
	}{
		{count: 0, dispatched: false},
		{count: 3, dispatched: false},
		{count: 5, dispatched: true},
		{count: 6, dispatched: false},
		{count: 10, dispatched: true},
	}
	for _, tc := range cases {
		f := newFixture()
		f.repo.assistantCount = tc.count

		if _, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", ""); err != nil {
			t.Fatalf("count=%d: %v", tc.count, err)
		}
		if got := f.reflector.calls > 0; got != tc.dispatched {
			t.Fatalf("count=%d: dispatched=%v, want %v", tc.count, got, tc.dispatched)
		}
		if tc.dispatched && f.reflector.lastLookback != 10 {
			t.Fatalf("count=%d: lookback %d", tc.count, f.reflector.lastLookback)
		}
	}
}

func TestReflectionFailureDoesNotAffectTurn(t *testing.T) {
	f := newFixture()
	f.repo.assistantCount = 5
	f.reflector.err = errors.New("reflection blew up")

	res, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", "")
	if err != nil {
		t.Fatalf("turn must succeed despite reflection failure: %v", err)
	}
	if res.AssistantTurn.Content != "hello!" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.reflector.calls != 1 {
		t.Fatalf("reflection should have run once")
	}
}

func TestReflectionDisabled(t *testing.T) {
	f := newFixture()
	f.engine.params.ReflectionInterval = 0
	f.repo.assistantCount = 5

	if _, err := f.engine.HandleTurn(context.Background(), "u1", "c1", "hi", ""); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if f.reflector.calls != 0 {
		t.Fatalf("reflection must not run when disabled")
	}
}
