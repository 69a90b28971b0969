package store

import "time"

// Role values for Turn.SenderRole.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation lifecycle states.
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
	ConversationEnded    = "ended"
)

// Memory type values for Memory.MemoryType.
const (
	MemoryFact        = "fact"
	MemoryPreference  = "preference"
	MemoryGoal        = "goal"
	MemorySynthesized = "synthesized"
	MemoryObservation = "observation"
)

// Reflection lifecycle states.
const (
	ReflectionPending   = "pending"
	ReflectionProcessed = "processed"
	ReflectionArchived  = "archived"
)

// User owns conversations, memories, and reflections.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Conversation is a dialogue thread owned by one user. It is created on the
// first turn and never physically deleted by the engine.
type Conversation struct {
	ID             string
	UserID         string
	Title          string
	Status         string
	TokenTotal     int // running sum of all turn token counts
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Turn is one stored message within a conversation. Order values are
// strictly increasing per conversation in creation order; gaps are allowed.
type Turn struct {
	ID             string
	ConversationID string
	Order          int
	SenderRole     string
	Content        string
	TokenCount     int
	Metadata       map[string]string // e.g. which tool fired on this turn
	CreatedAt      time.Time
}

// Memory is a durable, embedding-indexed record owned by a user. It persists
// across conversations. The embedding is stored as an opaque encoded blob;
// the memory package is its only codec.
type Memory struct {
	ID                 string
	UserID             string
	Text               string
	Embedding          string // encoded vector blob
	MemoryType         string
	ImportanceScore    float64
	SourceTurnIDs      []string
	SourceReflectionID string // empty when not promoted from a reflection
	LastAccessedAt     time.Time
	CreatedAt          time.Time
}

// Reflection is a synthesized insight derived from a batch of recent turns,
// a candidate for promotion into long-term memory.
type Reflection struct {
	ID                string
	UserID            string
	Text              string
	TriggeringTurnIDs []string
	Status            string
	CreatedAt         time.Time
}
