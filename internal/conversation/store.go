// Package conversation provides per-conversation bounded, expiring message
// history with in-memory and SQLite-backed implementations.
package conversation

import (
	"time"

	"github.com/wukaijin/moltbot-with-lark/internal/provider"
)

// Message is a single stored turn in a conversation.
type Message struct {
	Role    provider.MessageRole `json:"role"`
	Content string               `json:"content"`
}

// Policy bounds a store's retention. Passed at construction, never read
// from ambient state.
type Policy struct {
	// MaxHistory is the maximum number of messages kept per conversation.
	// Oldest messages are dropped first when exceeded.
	MaxHistory int

	// MaxAge is how long a conversation may go without a mutation before
	// it is considered expired.
	MaxAge time.Duration
}

// DefaultPolicy returns the standard retention policy: 10 messages, 24h.
func DefaultPolicy() Policy {
	return Policy{MaxHistory: 10, MaxAge: 24 * time.Hour}
}

// Stats carries per-conversation diagnostics. MessageCount is monotonic and
// never trimmed.
type Stats struct {
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

// Store manages conversation history. Implementations must be safe for
// concurrent use. Absence and expiry are modeled as empty results, never
// errors; only backing-store I/O may fail.
type Store interface {
	// Append adds a message to the conversation's history, creating the
	// conversation if absent, updating its last activity, and trimming
	// from the front past the policy's MaxHistory.
	Append(conversationID string, msg Message) error

	// History returns the stored messages in insertion order. An absent or
	// expired conversation yields nil; an expired one is deleted as a side
	// effect. History never refreshes last activity.
	History(conversationID string) ([]Message, error)

	// Clear removes the conversation unconditionally. Idempotent.
	Clear(conversationID string) error

	// SweepExpired removes every conversation whose last activity is older
	// than the policy's MaxAge and returns the number removed.
	SweepExpired() (int, error)

	// ListActive returns a snapshot of the stored conversation IDs.
	ListActive() ([]string, error)

	// Stats returns diagnostics for a conversation. An absent conversation
	// yields the zero Stats.
	Stats(conversationID string) (Stats, error)
}
