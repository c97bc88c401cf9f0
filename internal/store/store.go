// Package store keeps the conversation history in memory and writes the full
// snapshot through to a persistence backend after every mutation.
// The listing is always ordered most-recently-updated first, maintained by
// move-to-front on append rather than by resorting.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatter-dev/chatter/internal/logger"
)

// ErrNotFound is returned when an operation references a conversation id
// that does not exist. Callers treat it as a no-op.
var ErrNotFound = errors.New("conversation not found")

const (
	titleMaxLen = 50

	// cleanupCap is the total-count cap re-applied after retention cleanup.
	cleanupCap = 500
)

// Limits bounds the store so memory and persisted-storage size stay flat.
type Limits struct {
	MaxConversations int
	MaxMessages      int
	Retention        time.Duration
}

// DefaultLimits mirrors the documented bounding policy: 1000 conversations,
// 100 messages each, 30 days of retention.
var DefaultLimits = Limits{
	MaxConversations: 1000,
	MaxMessages:      100,
	Retention:        30 * 24 * time.Hour,
}

// ConversationUpdate carries the fields UpdateConversation may merge.
// Nil fields are left untouched.
type ConversationUpdate struct {
	Title *string
}

// Store is the conversation table. All mutations persist the full snapshot
// write-through; a failed write is retried once and then dropped with a log
// line rather than failing the operation.
type Store struct {
	mu            sync.Mutex
	conversations []*Conversation
	activeID      string

	persist Persistence
	limits  Limits

	now func() time.Time
}

// New builds a store backed by p, loading whatever snapshot p already holds.
// A dangling active pointer in the loaded snapshot is cleared.
func New(p Persistence, limits Limits) (*Store, error) {
	if limits.MaxConversations <= 0 {
		limits.MaxConversations = DefaultLimits.MaxConversations
	}
	if limits.MaxMessages <= 0 {
		limits.MaxMessages = DefaultLimits.MaxMessages
	}
	if limits.Retention <= 0 {
		limits.Retention = DefaultLimits.Retention
	}

	s := &Store{
		persist: p,
		limits:  limits,
		now:     time.Now,
	}

	snap, err := p.Load()
	if err != nil {
		return nil, err
	}
	if snap != nil {
		for i := range snap.Conversations {
			c := snap.Conversations[i]
			s.conversations = append(s.conversations, &c)
		}
		if s.find(snap.ActiveConversationID) != -1 {
			s.activeID = snap.ActiveConversationID
		}
	}
	return s, nil
}

// AddConversation creates a conversation at the head of the listing, makes it
// active and returns its id. The oldest conversation is evicted if the total
// cap would be exceeded.
func (s *Store) AddConversation(title string) string {
	s.mu.Lock()
	now := s.now()
	c := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations = append([]*Conversation{c}, s.conversations...)
	if len(s.conversations) > s.limits.MaxConversations {
		s.conversations = s.conversations[:s.limits.MaxConversations]
	}
	s.activeID = c.ID
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(snap)
	return c.ID
}

// AddMessage appends a message with a fresh id and timestamp. On the first
// message the conversation title is derived and fixed; every append refreshes
// UpdatedAt and moves the conversation to the head of the listing. The oldest
// message is dropped once the per-conversation cap is reached.
func (s *Store) AddMessage(conversationID, role, content string) (Message, error) {
	s.mu.Lock()
	i := s.find(conversationID)
	if i == -1 {
		s.mu.Unlock()
		return Message{}, ErrNotFound
	}

	now := s.now()
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}

	c := s.conversations[i]
	first := len(c.Messages) == 0
	c.Messages = append(c.Messages, msg)
	if n := len(c.Messages); n > s.limits.MaxMessages {
		c.Messages = c.Messages[n-s.limits.MaxMessages:]
	}
	if first {
		c.Title = deriveTitle(c.Messages)
	}
	c.UpdatedAt = now

	// Move to front; equivalent to a stable sort by UpdatedAt descending.
	copy(s.conversations[1:i+1], s.conversations[:i])
	s.conversations[0] = c

	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(snap)
	return msg, nil
}

// UpdateConversation merges the given fields and refreshes UpdatedAt, moving
// the conversation to the head of the listing.
func (s *Store) UpdateConversation(id string, u ConversationUpdate) error {
	s.mu.Lock()
	i := s.find(id)
	if i == -1 {
		s.mu.Unlock()
		return ErrNotFound
	}
	c := s.conversations[i]
	if u.Title != nil {
		c.Title = *u.Title
	}
	c.UpdatedAt = s.now()
	copy(s.conversations[1:i+1], s.conversations[:i])
	s.conversations[0] = c
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(snap)
	return nil
}

// SetActiveConversation sets the active pointer. An empty id clears it.
// The id is not validated; readers treat a dangling pointer as unset.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	s.activeID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(snap)
}

// DeleteConversation removes a conversation, clearing the active pointer if
// it referenced it. Unknown ids are a no-op.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	i := s.find(id)
	if i == -1 {
		s.mu.Unlock()
		return
	}
	s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
	if s.activeID == id {
		s.activeID = ""
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(snap)
}

// Get returns a copy of the conversation, reporting whether it exists.
func (s *Store) Get(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(id)
	if i == -1 {
		return Conversation{}, false
	}
	return s.conversations[i].clone(), true
}

// ActiveConversationID returns the active pointer, or "" if unset or
// dangling.
func (s *Store) ActiveConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(s.activeID) == -1 {
		return ""
	}
	return s.activeID
}

// Conversations returns a copy of the listing in order.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c.clone())
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

// ConversationsByPeriod partitions the listing into recency buckets keyed by
// UpdatedAt, preserving listing order within each bucket. Only the first 200
// conversations are bucketed; older tail entries are not worth rendering.
func (s *Store) ConversationsByPeriod() Periods {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var p Periods
	listed := s.conversations
	if len(listed) > 200 {
		listed = listed[:200]
	}
	for _, c := range listed {
		switch age := now.Sub(c.UpdatedAt); {
		case age < 24*time.Hour:
			p.Today = append(p.Today, c.clone())
		case age < 48*time.Hour:
			p.Yesterday = append(p.Yesterday, c.clone())
		case age < 7*24*time.Hour:
			p.LastWeek = append(p.LastWeek, c.clone())
		case age < 30*24*time.Hour:
			p.LastMonth = append(p.LastMonth, c.clone())
		default:
			p.Older = append(p.Older, c.clone())
		}
	}
	return p
}

// CleanupOldConversations evicts conversations idle beyond the retention
// window, keeping the active one regardless, then re-applies the post-cleanup
// count cap. Idempotent; safe to run from a background timer.
func (s *Store) CleanupOldConversations() {
	s.mu.Lock()
	cutoff := s.now().Add(-s.limits.Retention)
	kept := s.conversations[:0]
	for _, c := range s.conversations {
		if c.UpdatedAt.After(cutoff) || c.ID == s.activeID {
			kept = append(kept, c)
		}
	}
	if len(kept) > cleanupCap {
		kept = kept[:cleanupCap]
	}
	changed := len(kept) != len(s.conversations)
	s.conversations = kept
	if s.find(s.activeID) == -1 {
		s.activeID = ""
	}
	var snap *Snapshot
	if changed {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if snap != nil {
		s.save(snap)
	}
}

func (s *Store) find(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:              SnapshotVersion,
		Conversations:        make([]Conversation, 0, len(s.conversations)),
		ActiveConversationID: s.activeID,
	}
	for _, c := range s.conversations {
		snap.Conversations = append(snap.Conversations, c.clone())
	}
	return snap
}

// save writes the snapshot through to the backend, retrying once. A second
// failure is logged and the write dropped; the in-memory state stays
// authoritative.
func (s *Store) save(snap *Snapshot) {
	err := s.persist.Save(snap)
	if err == nil {
		return
	}
	logger.L.Warn("snapshot write failed, retrying", "error", err)
	if err = s.persist.Save(snap); err != nil {
		logger.L.Error("snapshot write failed again, dropping", "error", err)
	}
}

// deriveTitle fixes the conversation title from the first user message:
// the first 50 characters, with an ellipsis when truncated.
func deriveTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		r := []rune(m.Content)
		if len(r) <= titleMaxLen {
			return m.Content
		}
		return string(r[:titleMaxLen]) + "..."
	}
	return "New Conversation"
}
