package conversation

import (
	"sync"
	"time"
)

// contextData holds the history and bookkeeping for a single conversation.
type contextData struct {
	messages     []Message
	messageCount int
	lastActivity time.Time
}

// MemoryStore is a thread-safe, in-memory implementation of Store.
type MemoryStore struct {
	mu       sync.RWMutex
	policy   Policy
	contexts map[string]*contextData

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryStore creates an empty store with the given retention policy.
func NewMemoryStore(policy Policy) *MemoryStore {
	if policy.MaxHistory <= 0 {
		policy.MaxHistory = DefaultPolicy().MaxHistory
	}
	if policy.MaxAge <= 0 {
		policy.MaxAge = DefaultPolicy().MaxAge
	}
	return &MemoryStore{
		policy:   policy,
		contexts: make(map[string]*contextData),
		now:      time.Now,
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Append adds a message to the conversation's history.
func (s *MemoryStore) Append(conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.contexts[conversationID]
	if !ok {
		cd = &contextData{}
		s.contexts[conversationID] = cd
	}

	cd.messages = append(cd.messages, msg)
	cd.messageCount++
	cd.lastActivity = s.now()

	if excess := len(cd.messages) - s.policy.MaxHistory; excess > 0 {
		cd.messages = append(cd.messages[:0:0], cd.messages[excess:]...)
	}
	return nil
}

// History returns the stored messages, lazily deleting an expired
// conversation.
func (s *MemoryStore) History(conversationID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd, ok := s.contexts[conversationID]
	if !ok {
		return nil, nil
	}
	if s.expired(cd) {
		delete(s.contexts, conversationID)
		return nil, nil
	}

	result := make([]Message, len(cd.messages))
	copy(result, cd.messages)
	return result, nil
}

// Clear removes the conversation. No-op if absent.
func (s *MemoryStore) Clear(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, conversationID)
	return nil
}

// SweepExpired removes all expired conversations and returns the count.
func (s *MemoryStore) SweepExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, cd := range s.contexts {
		if s.expired(cd) {
			delete(s.contexts, id)
			removed++
		}
	}
	return removed, nil
}

// ListActive returns a snapshot of the stored conversation IDs.
func (s *MemoryStore) ListActive() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	return ids, nil
}

// Stats returns diagnostics for a conversation.
func (s *MemoryStore) Stats(conversationID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cd, ok := s.contexts[conversationID]
	if !ok {
		return Stats{}, nil
	}
	return Stats{MessageCount: cd.messageCount, LastActivity: cd.lastActivity}, nil
}

func (s *MemoryStore) expired(cd *contextData) bool {
	return s.now().Sub(cd.lastActivity) > s.policy.MaxAge
}
