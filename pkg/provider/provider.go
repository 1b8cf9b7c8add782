package provider

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/porkytheblack/glove-sub003/pkg/conversation"
	"github.com/porkytheblack/glove-sub003/pkg/toolexecutor"
)

// Provider is an interface for LLM API providers
type Provider interface {
	// Prompt makes a streaming model call and returns the assembled response
	Prompt(ctx context.Context, request Request, notifier Notifier) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Request contains the request parameters for a model call
type Request struct {
	Messages     []conversation.Message
	Tools        []toolexecutor.ToolDefinition
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// Response contains the assembled response from a model call
type Response struct {
	Message   conversation.Message
	TokensIn  int
	TokensOut int
}

// Notification events emitted by providers while a response streams in.
const (
	EventTextDelta             = "text_delta"
	EventToolUse               = "tool_use"
	EventModelResponse         = "model_response"
	EventModelResponseComplete = "model_response_complete"
)

// Notifier receives streaming events as the model produces them. Record is
// invoked synchronously from the stream loop.
type Notifier interface {
	Record(event string, data map[string]any)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Record(string, map[string]any) {}

// notify forwards an event to the notifier. A panicking notifier must not
// take the model call down with it, so panics are logged and swallowed.
func notify(n Notifier, event string, data map[string]any) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Str("event", event).
				Interface("panic", r).
				Msg("Notifier panicked")
		}
	}()
	n.Record(event, data)
}
