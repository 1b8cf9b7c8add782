package conversation

import "sync"

// MemoryStore is an in-process Store. It is the default backing for a
// session and the store used throughout the tests.
type MemoryStore struct {
	mu     sync.RWMutex
	msgs   []Message
	tokens int
	turns  int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append implements Store.
func (s *MemoryStore) Append(msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msgs...)
	return nil
}

// Messages implements Store.
func (s *MemoryStore) Messages() ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	return out, nil
}

// ModelView implements Store.
func (s *MemoryStore) ModelView() ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := modelView(s.msgs)
	out := make([]Message, len(view))
	copy(out, view)
	return out, nil
}

// AddTokens implements Store.
func (s *MemoryStore) AddTokens(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens += n
	return nil
}

// TokenCount implements Store.
func (s *MemoryStore) TokenCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, nil
}

// IncrementTurn implements Store.
func (s *MemoryStore) IncrementTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns++
	return nil
}

// TurnCount implements Store.
func (s *MemoryStore) TurnCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns, nil
}

// ResetCounters implements Store.
func (s *MemoryStore) ResetCounters() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = 0
	s.turns = 0
	return nil
}

// ResetHistory implements Store.
func (s *MemoryStore) ResetHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.tokens = 0
	s.turns = 0
	return nil
}
