package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mnemo/internal/retry"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultTimeout = 120 * time.Second
)

// OllamaConfig configures the Ollama-backed model client.
type OllamaConfig struct {
	// BaseURL is the Ollama server endpoint.
	// Defaults to http://localhost:11434 when empty.
	BaseURL string

	// Timeout is the HTTP request timeout. Defaults to 120 s — local models
	// can be slow to first token on cold start.
	Timeout time.Duration

	// Retry controls backoff for transient failures. Zero value means
	// retry.DefaultConfig with only ErrUnavailable retried.
	Retry retry.Config
}

// OllamaClient implements Backend against the Ollama HTTP API
// (/api/chat and /api/embeddings). It is safe for concurrent use.
type OllamaClient struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllamaClient creates a Backend talking to an Ollama server.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	if cfg.Retry.ShouldRetry == nil {
		cfg.Retry.ShouldRetry = func(err error) bool { return errors.Is(err, ErrUnavailable) }
	}
	return &OllamaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal Ollama wire types ---

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message         Message `json:"message"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Complete sends the chat history plus prompt to /api/chat and returns the
// reply with the token counts Ollama reports (prompt_eval_count covers the
// whole input, eval_count the generated reply).
func (c *OllamaClient) Complete(ctx context.Context, prompt string, history []Message, model string) (Completion, error) {
	messages := make([]Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	body := chatRequest{Model: model, Messages: messages, Stream: false}

	var out Completion
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var chatResp chatResponse
		if err := c.post(ctx, "/api/chat", body, &chatResp); err != nil {
			return err
		}
		if chatResp.Error != "" {
			return fmt.Errorf("llm: chat API error: %s", chatResp.Error)
		}
		out = Completion{
			Text:             chatResp.Message.Content,
			PromptTokens:     chatResp.PromptEvalCount,
			CompletionTokens: chatResp.EvalCount,
		}
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	return out, nil
}

// Embed sends text to /api/embeddings and returns the vector.
func (c *OllamaClient) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	body := embedRequest{Model: model, Prompt: text}

	var vec []float32
	err := retry.Do(ctx, c.cfg.Retry, func() error {
		var embResp embedResponse
		if err := c.post(ctx, "/api/embeddings", body, &embResp); err != nil {
			return err
		}
		if embResp.Error != "" {
			return fmt.Errorf("llm: embeddings API error: %s", embResp.Error)
		}
		vec = embResp.Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// post marshals body, issues the request, and decodes the JSON response into
// out. Transport failures and 5xx statuses are wrapped in ErrUnavailable so
// callers can classify them as retryable backend errors.
func (c *OllamaClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+path,
		bytes.NewReader(data),
	)
	if err != nil {
		return fmt.Errorf("llm: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d from %s", ErrUnavailable, resp.StatusCode, path)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("llm: unexpected HTTP status %d from %s: %.200s", resp.StatusCode, path, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("llm: decode response: %w", err)
	}
	return nil
}

// Compile-time interface satisfaction check.
var _ Backend = (*OllamaClient)(nil)
