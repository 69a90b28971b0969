package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	fixed := func() time.Time {
		return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	}
	if err := r.Register(GetCurrentTime(fixed)); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestExecuteCurrentTime(t *testing.T) {
	r := testRegistry(t)

	res := r.Execute(context.Background(), "get_current_time", nil)
	if !res.Success {
		t.Fatalf("execution failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "15 Mar 2024") {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestExecuteUnknownToolIsFailureResult(t *testing.T) {
	r := testRegistry(t)

	res := r.Execute(context.Background(), "launch_rockets", nil)
	if res.Success {
		t.Fatalf("unknown tool must not succeed")
	}
	if !strings.Contains(res.Error, "Unknown tool: launch_rockets") {
		t.Fatalf("error %q", res.Error)
	}
}

func TestExecuteSchemaRejectsBadArguments(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register(Tool{
		Name:        "echo",
		Description: "Echoes the text argument.",
		Schema: MustCompileSchema("echo", `{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Execute(context.Background(), "echo", map[string]any{"text": "hello"})
	if !res.Success || res.Output != "hello" {
		t.Fatalf("valid args: %+v", res)
	}

	res = r.Execute(context.Background(), "echo", map[string]any{"wrong": true})
	if res.Success {
		t.Fatalf("missing required argument must fail validation")
	}
	if !strings.Contains(res.Error, "Invalid arguments for echo") {
		t.Fatalf("error %q", res.Error)
	}
}

func TestExecuteToolErrorBecomesFailureResult(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(Tool{
		Name: "flaky",
		Run: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("backend exploded")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	res := r.Execute(context.Background(), "flaky", nil)
	if res.Success || res.Error != "backend exploded" {
		t.Fatalf("got %+v", res)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := testRegistry(t)
	if err := r.Register(GetCurrentTime(nil)); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
}
