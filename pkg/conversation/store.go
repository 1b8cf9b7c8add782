package conversation

// Store is the contract a context store must satisfy. The runtime only
// appends; messages are never mutated or deleted. Implementations must be
// safe for concurrent use by the tool completions of a single session.
type Store interface {
	// Append adds messages to the end of the history.
	Append(msgs ...Message) error

	// Messages returns the full history in insertion order.
	Messages() ([]Message, error)

	// ModelView returns the history since the last compaction boundary,
	// or the full history if no boundary exists. Two calls without an
	// intervening Append return identical slices.
	ModelView() ([]Message, error)

	// AddTokens adds n to the running token counter.
	AddTokens(n int) error

	// TokenCount returns the running token counter.
	TokenCount() (int, error)

	// IncrementTurn bumps the completed-turn counter.
	IncrementTurn() error

	// TurnCount returns the completed-turn counter.
	TurnCount() (int, error)

	// ResetCounters zeroes the token and turn counters. History is
	// untouched.
	ResetCounters() error

	// ResetHistory drops all messages and counters.
	ResetHistory() error
}
