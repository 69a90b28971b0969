package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"mnemo/internal/llm"
)

// systemInstruction tells the model which tools exist and how to request
// one. The invocation format is a single JSON object on its own, nothing
// else.
func systemInstruction(r *Registry) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools:\n")
	for _, name := range r.Names() {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.tools[name].Description)
	}
	b.WriteString(`
To use a tool, you MUST output ONLY a JSON object in the following format, on a single line, and nothing else:
{"tool_name": "<tool name>", "arguments": {}}

Example:
User: What is the current time?
Assistant: {"tool_name": "get_current_time", "arguments": {}}

If you do not need to use a tool, respond normally.`)
	return b.String()
}

// invocation is the wire shape of a model-requested tool call.
type invocation struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Execution records that a tool fired during resolution and with what
// outcome.
type Execution struct {
	Name   string
	Result Result
}

// Resolution is the final answer for a user turn after at most one tool
// round trip.
type Resolution struct {
	FinalText        string
	PromptTokens     int
	CompletionTokens int
	Execution        *Execution // nil when no tool fired
}

// Completer is the model call the orchestrator depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []llm.Message, model string) (llm.Completion, error)
}

// Orchestrator runs the tool-aware model flow: one model call, an optional
// tool execution, and at most one follow-up call carrying the tool outcome.
type Orchestrator struct {
	backend     Completer
	registry    *Registry
	instruction string
	logger      *slog.Logger
}

// NewOrchestrator wires an orchestrator. The system instruction is rendered
// once from the registry's contents. If logger is nil, the default slog
// logger is used.
func NewOrchestrator(backend Completer, registry *Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		backend:     backend,
		registry:    registry,
		instruction: systemInstruction(registry),
		logger:      logger,
	}
}

// Resolve answers userText against the short-term history. When the first
// model response is a tool invocation, the tool runs and exactly one
// follow-up call produces the final text. Unknown tools and failed
// executions are surfaced to the model on the follow-up rather than to the
// caller; multi-hop chains are not permitted.
func (o *Orchestrator) Resolve(ctx context.Context, userText string, history []llm.Message, model string) (Resolution, error) {
	primed := make([]llm.Message, 0, len(history)+1)
	primed = append(primed, llm.Message{Role: "system", Content: o.instruction})
	primed = append(primed, history...)

	first, err := o.backend.Complete(ctx, userText, primed, model)
	if err != nil {
		return Resolution{}, fmt.Errorf("tool: initial model call: %w", err)
	}

	inv, ok := parseInvocation(first.Text)
	if !ok {
		return Resolution{
			FinalText:        first.Text,
			PromptTokens:     first.PromptTokens,
			CompletionTokens: first.CompletionTokens,
		}, nil
	}

	result := o.registry.Execute(ctx, inv.ToolName, inv.Arguments)
	o.logger.Info("tool: executed",
		"tool", inv.ToolName,
		"success", result.Success,
	)

	extended := append(primed,
		llm.Message{Role: "assistant", Content: first.Text},
		llm.Message{Role: "system", Content: describeResult(inv.ToolName, result)},
	)

	second, err := o.backend.Complete(ctx, followUpPrompt(userText, inv.ToolName, result), extended, model)
	if err != nil {
		return Resolution{}, fmt.Errorf("tool: follow-up model call: %w", err)
	}

	return Resolution{
		FinalText:        second.Text,
		PromptTokens:     first.PromptTokens,
		CompletionTokens: second.CompletionTokens,
		Execution:        &Execution{Name: inv.ToolName, Result: result},
	}, nil
}

// parseInvocation attempts to read a model response as a tool invocation.
// Anything that is not a JSON object naming a tool is treated as a normal
// answer.
func parseInvocation(raw string) (invocation, bool) {
	var inv invocation
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &inv); err != nil {
		return invocation{}, false
	}
	if inv.ToolName == "" {
		return invocation{}, false
	}
	return inv, true
}

// describeResult renders a tool outcome as a context message for the
// follow-up call.
func describeResult(name string, r Result) string {
	if r.Success {
		return fmt.Sprintf("Tool %q returned: %s", name, r.Output)
	}
	return fmt.Sprintf("Tool %q failed: %s", name, r.Error)
}

// followUpPrompt asks the model to answer the original question using the
// tool outcome.
func followUpPrompt(userText, name string, r Result) string {
	outcome := describeResult(name, r)
	return fmt.Sprintf(
		"The user asked: %q\n%s\nUsing this result, answer the user's original question directly. Do not call any more tools.",
		userText, outcome,
	)
}
