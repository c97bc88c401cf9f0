package store

import "time"

// Message roles. The store only ever records user and assistant turns; the
// system prompt is injected by the relay and never persisted.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SnapshotVersion is bumped whenever the persisted layout changes.
const SnapshotVersion = 1

// Message is a single conversational turn. Messages are immutable once
// created; the bounding policy may drop them, never rewrite them.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is an ordered message history with a derived title.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the full persisted store state. Conversations are ordered
// most-recently-updated first.
type Snapshot struct {
	Version              int            `json:"version"`
	Conversations        []Conversation `json:"conversations"`
	ActiveConversationID string         `json:"active_conversation_id,omitempty"`
}

// Periods buckets conversations by how recently they were updated, keeping
// each bucket in listing order.
type Periods struct {
	Today     []Conversation `json:"today"`
	Yesterday []Conversation `json:"yesterday"`
	LastWeek  []Conversation `json:"last_week"`
	LastMonth []Conversation `json:"last_month"`
	Older     []Conversation `json:"older"`
}

// clone returns a deep copy so callers can't alias the store's state.
func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}
