// Package display holds the interactive slot stack a tool can push UI
// state onto. A tool that needs human input pushes a slot and suspends on
// it; an external renderer resolves the slot by id to resume the tool.
package display

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/porkytheblack/glove-sub003/internal/observability"
)

var (
	// ErrSlotPending is returned by PushAndWait when the slot id already
	// has an outstanding resolver. The earlier resolver is left intact.
	ErrSlotPending = errors.New("display: slot already pending")

	// ErrCancelled is the resolution outcome of a pending slot whose
	// session was aborted.
	ErrCancelled = errors.New("display: pending slot cancelled")
)

// Slot is one unit of interactive UI state. Renderer names which external
// component should draw it; Data is opaque to the stack.
type Slot struct {
	ID       string `json:"id"`
	Renderer string `json:"renderer"`
	Data     any    `json:"data,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Event describes a stack change delivered to subscribers.
type Event struct {
	Type string // "pushed" or "resolved"
	Slot Slot
}

type resolution struct {
	value any
	err   error
}

// Stack is an ordered stack of slots owned by a single session. All
// mutations are serialized internally so concurrent tool completions
// cannot lose updates.
type Stack struct {
	mu      sync.Mutex
	slots   []Slot
	pending map[string]chan resolution
	subs    []func(Event)
}

// NewStack creates an empty Stack.
func NewStack() *Stack {
	return &Stack{
		pending: make(map[string]chan resolution),
	}
}

// Subscribe registers fn for stack-change events. fn is called
// synchronously; a panicking subscriber is swallowed so it cannot take a
// tool down with it.
func (s *Stack) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Stack) notify(ev Event) {
	s.mu.Lock()
	subs := make([]func(Event), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Interface("panic", r).Msg("Display subscriber panicked")
				}
			}()
			fn(ev)
		}()
	}
}

// PushAndForget appends the slot and returns immediately. The slot stays
// on the stack until the surrounding UI discards it.
func (s *Stack) PushAndForget(slot Slot) Slot {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.slots = append(s.slots, slot)
	s.mu.Unlock()

	log.Debug().Str("slot", slot.ID).Str("renderer", slot.Renderer).Msg("Slot pushed")
	s.notify(Event{Type: "pushed", Slot: slot})
	return slot
}

// PushAndWait appends the slot, registers a resolver keyed by the slot id
// and suspends the calling goroutine until Resolve delivers a value, the
// context is done, or CancelAll rejects the resolver. Only the caller is
// suspended; other pending tools and the session loop keep running.
func (s *Stack) PushAndWait(ctx context.Context, slot Slot) (any, error) {
	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}

	ch := make(chan resolution, 1)

	s.mu.Lock()
	if _, exists := s.pending[slot.ID]; exists {
		s.mu.Unlock()
		return nil, ErrSlotPending
	}
	s.pending[slot.ID] = ch
	s.slots = append(s.slots, slot)
	s.mu.Unlock()
	observability.AddPendingSlots(1)

	log.Debug().Str("slot", slot.ID).Str("renderer", slot.Renderer).Msg("Slot pushed, waiting")
	s.notify(Event{Type: "pushed", Slot: slot})

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil
	case <-ctx.Done():
		// Drop the resolver so a late Resolve is a no-op rather than a
		// send to a goroutine that stopped listening.
		s.mu.Lock()
		if _, still := s.pending[slot.ID]; still {
			delete(s.pending, slot.ID)
			observability.AddPendingSlots(-1)
		}
		s.mu.Unlock()
		return nil, ErrCancelled
	}
}

// Resolve delivers value to the resolver registered for id and removes
// it. Resolving an unknown or already-resolved id is a no-op and returns
// false, which makes double resolves from racing UIs harmless.
func (s *Stack) Resolve(id string, value any) bool {
	s.mu.Lock()
	ch, exists := s.pending[id]
	if exists {
		delete(s.pending, id)
		for i := range s.slots {
			if s.slots[i].ID == id {
				s.slots[i].Resolved = true
				break
			}
		}
	}
	s.mu.Unlock()

	if !exists {
		log.Debug().Str("slot", id).Msg("Resolve for unknown slot ignored")
		return false
	}

	observability.AddPendingSlots(-1)
	ch <- resolution{value: value}
	s.notify(Event{Type: "resolved", Slot: Slot{ID: id, Resolved: true}})
	return true
}

// CancelAll rejects every pending resolver with ErrCancelled wrapped
// around cause (or bare ErrCancelled when cause is nil). Used on session
// abort so no suspended tool hangs forever.
func (s *Stack) CancelAll(cause error) int {
	err := ErrCancelled
	if cause != nil {
		err = errors.Join(ErrCancelled, cause)
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan resolution)
	s.mu.Unlock()

	if len(pending) > 0 {
		observability.AddPendingSlots(-len(pending))
	}
	for id, ch := range pending {
		ch <- resolution{err: err}
		log.Debug().Str("slot", id).Msg("Pending slot cancelled")
	}
	return len(pending)
}

// Slots returns a snapshot of the stack in push order.
func (s *Stack) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Slot, len(s.slots))
	copy(out, s.slots)
	return out
}

// PendingCount returns the number of outstanding resolvers.
func (s *Stack) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
