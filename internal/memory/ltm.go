// Package memory implements the long-term memory layer: durable per-user
// facts with embedding vectors, retrieved by brute-force cosine similarity.
//
// Similarity is computed in Go rather than a SQLite extension because
// modernc.org/sqlite does not support custom C functions. At the expected
// scale (hundreds of rows per user), loading all embeddings and scoring in
// Go is fast enough.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"mnemo/internal/store"
)

// ErrEmptyEmbedding is returned when the embedding backend yields an empty
// vector for a text that must be stored. Storing a memory without a usable
// vector would make it unretrievable, so the whole add fails.
var ErrEmptyEmbedding = errors.New("memory: embedding backend returned empty vector")

// Repository is the slice of the store the long-term memory layer needs.
type Repository interface {
	CreateMemory(ctx context.Context, nm store.NewMemory) (store.Memory, error)
	ListMemories(ctx context.Context, userID string) ([]store.Memory, error)
	TouchMemories(ctx context.Context, ids []string) error
}

// Embedder produces an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// LTM stores and retrieves long-term memories for users.
type LTM struct {
	repo     Repository
	embedder Embedder
	model    string
	logger   *slog.Logger
}

// NewLTM returns a long-term memory layer embedding with the given model.
// If logger is nil, the default slog logger is used.
func NewLTM(repo Repository, embedder Embedder, model string, logger *slog.Logger) *LTM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LTM{repo: repo, embedder: embedder, model: model, logger: logger}
}

// AddRequest is the caller-supplied portion of a new long-term memory.
// When Embedding is nil, the text is embedded before storing.
type AddRequest struct {
	UserID             string
	Text               string
	MemoryType         string
	ImportanceScore    float64
	SourceTurnIDs      []string
	SourceReflectionID string
	Embedding          []float32
}

// AddMemory persists a long-term memory. A missing embedding is computed
// from the text; failure to obtain a non-empty vector fails the whole add.
func (l *LTM) AddMemory(ctx context.Context, req AddRequest) (store.Memory, error) {
	vec := req.Embedding
	if vec == nil {
		var err error
		vec, err = l.embedder.Embed(ctx, req.Text, l.model)
		if err != nil {
			return store.Memory{}, fmt.Errorf("memory: embed text: %w", err)
		}
	}
	if len(vec) == 0 {
		return store.Memory{}, ErrEmptyEmbedding
	}

	blob, err := encodeVector(vec)
	if err != nil {
		return store.Memory{}, fmt.Errorf("memory: encode embedding: %w", err)
	}

	m, err := l.repo.CreateMemory(ctx, store.NewMemory{
		UserID:             req.UserID,
		Text:               req.Text,
		Embedding:          blob,
		MemoryType:         req.MemoryType,
		ImportanceScore:    req.ImportanceScore,
		SourceTurnIDs:      req.SourceTurnIDs,
		SourceReflectionID: req.SourceReflectionID,
	})
	if err != nil {
		return store.Memory{}, err
	}

	l.logger.Debug("memory: stored",
		"memory_id", m.ID,
		"user_id", m.UserID,
		"memory_type", m.MemoryType,
		"dimensions", len(vec),
	)
	return m, nil
}

// Scored pairs a memory with its cosine similarity to a query.
type Scored struct {
	Memory store.Memory
	Score  float64
}

// FindRelevant embeds queryText and returns the user's memories scoring at
// least threshold against it, best first, at most topN. A corrupt or
// zero-norm stored vector scores 0 and never fails the retrieval. Equal
// scores keep insertion order. Returned memories have their last-accessed
// timestamp advanced. An empty or whitespace query returns no results
// without calling the embedding backend.
func (l *LTM) FindRelevant(ctx context.Context, userID, queryText string, topN int, threshold float64) ([]Scored, error) {
	if topN <= 0 || strings.TrimSpace(queryText) == "" {
		return nil, nil
	}

	query, err := l.embedder.Embed(ctx, queryText, l.model)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(query) == 0 {
		return nil, nil
	}

	memories, err := l.repo.ListMemories(ctx, userID)
	if err != nil {
		return nil, err
	}

	var candidates []Scored
	for _, m := range memories {
		vec, err := decodeVector(m.Embedding)
		if err != nil {
			l.logger.Warn("memory: skip corrupt embedding", "memory_id", m.ID, "err", err)
			vec = nil
		}
		score := cosineSimilarity(query, vec)
		if score >= threshold {
			candidates = append(candidates, Scored{Memory: m, Score: score})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if topN < len(candidates) {
		candidates = candidates[:topN]
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.Memory.ID
	}
	if err := l.repo.TouchMemories(ctx, ids); err != nil {
		return nil, fmt.Errorf("memory: touch retrieved: %w", err)
	}
	return candidates, nil
}

// encodeVector serializes an embedding as a JSON float array.
func encodeVector(vec []float32) (string, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeVector(blob string) ([]float32, error) {
	if blob == "" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(blob), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||). Returns 0 when the
// vectors differ in length, are empty, or either has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
