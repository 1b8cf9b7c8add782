package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/porkytheblack/glove-sub003/internal/observability"
	"github.com/porkytheblack/glove-sub003/pkg/conversation"
	"github.com/porkytheblack/glove-sub003/pkg/provider"
)

// summarizeInstruction is appended as the final user message of a
// summarization call.
const summarizeInstruction = "Summarize this conversation. Capture the user's goals, " +
	"decisions made, important facts and values mentioned, and any work still in " +
	"progress. Write the summary so the conversation can continue from it alone."

// summarizeSystemPrompt frames the summarization call.
const summarizeSystemPrompt = "You condense conversations into handoff summaries. " +
	"Reply with the summary text only."

// ObserverConfig configures compaction thresholds and the model used for
// summarization.
type ObserverConfig struct {
	Store     conversation.Store
	Provider  provider.Provider
	Logger    zerolog.Logger
	Model     string
	MaxTurns  int // compact when TurnCount exceeds this; 0 disables
	MaxTokens int // compact when TokenCount exceeds this; 0 disables
	// SummaryMaxTokens caps the summarization response. Defaults to 1024.
	SummaryMaxTokens int
}

// Observer watches per-session counters and compacts the conversation when
// a threshold is breached. Compaction failure is never fatal: counters keep
// growing and the next breach retries.
type Observer struct {
	store            conversation.Store
	provider         provider.Provider
	logger           zerolog.Logger
	model            string
	maxTurns         int
	maxTokens        int
	summaryMaxTokens int
}

// NewObserver creates a compaction observer
func NewObserver(cfg ObserverConfig) (*Observer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.MaxTurns < 0 || cfg.MaxTokens < 0 {
		return nil, fmt.Errorf("thresholds cannot be negative")
	}

	summaryMax := cfg.SummaryMaxTokens
	if summaryMax <= 0 {
		summaryMax = 1024
	}

	return &Observer{
		store:            cfg.Store,
		provider:         cfg.Provider,
		logger:           cfg.Logger,
		model:            cfg.Model,
		maxTurns:         cfg.MaxTurns,
		maxTokens:        cfg.MaxTokens,
		summaryMaxTokens: summaryMax,
	}, nil
}

// ObserveTurn records one completed model turn and compacts the
// conversation if a threshold is now breached. toolsPending marks turns
// whose tool calls have not produced results yet; counters still update,
// but compaction waits until the tool loop settles so the boundary never
// strands results from the calls before it.
func (o *Observer) ObserveTurn(ctx context.Context, tokens int, toolsPending bool) {
	if err := o.store.IncrementTurn(); err != nil {
		o.logger.Warn().Err(err).Msg("Failed to increment turn counter")
		return
	}
	if tokens > 0 {
		if err := o.store.AddTokens(tokens); err != nil {
			o.logger.Warn().Err(err).Msg("Failed to add token count")
			return
		}
	}

	if toolsPending {
		return
	}

	breached, err := o.thresholdBreached()
	if err != nil {
		o.logger.Warn().Err(err).Msg("Failed to read counters")
		return
	}
	if !breached {
		return
	}

	o.compact(ctx)
}

func (o *Observer) thresholdBreached() (bool, error) {
	if o.maxTurns > 0 {
		turns, err := o.store.TurnCount()
		if err != nil {
			return false, err
		}
		if turns > o.maxTurns {
			return true, nil
		}
	}
	if o.maxTokens > 0 {
		tokens, err := o.store.TokenCount()
		if err != nil {
			return false, err
		}
		if tokens > o.maxTokens {
			return true, nil
		}
	}
	return false, nil
}

// compact summarizes the model-visible history and appends a compaction
// boundary. Counters reset and the boundary lands only after the
// summarization call succeeded; on failure nothing changes.
func (o *Observer) compact(ctx context.Context) {
	view, err := o.store.ModelView()
	if err != nil {
		o.logger.Warn().Err(err).Msg("Compaction skipped, failed to load model view")
		observability.RecordCompaction(false)
		return
	}
	if len(view) == 0 {
		return
	}

	request := provider.Request{
		Messages: append(view, conversation.Message{
			Sender:    conversation.SenderUser,
			Text:      summarizeInstruction,
			Timestamp: time.Now(),
		}),
		SystemPrompt: summarizeSystemPrompt,
		Model:        o.model,
		MaxTokens:    o.summaryMaxTokens,
	}

	response, err := o.provider.Prompt(ctx, request, provider.NopNotifier{})
	if err != nil {
		o.logger.Warn().Err(err).Msg("Compaction summarization failed")
		observability.RecordCompaction(false)
		return
	}
	if response.Message.Text == "" {
		o.logger.Warn().Msg("Compaction skipped, model returned an empty summary")
		observability.RecordCompaction(false)
		return
	}

	if err := o.store.ResetCounters(); err != nil {
		o.logger.Error().Err(err).Msg("Failed to reset counters after summarization")
		observability.RecordCompaction(false)
		return
	}
	if err := o.store.Append(conversation.Message{
		Sender:       conversation.SenderAgent,
		Text:         response.Message.Text,
		IsCompaction: true,
		Timestamp:    time.Now(),
	}); err != nil {
		o.logger.Error().Err(err).Msg("Failed to append compaction boundary")
		observability.RecordCompaction(false)
		return
	}

	o.logger.Info().
		Int("summarizedMessages", len(view)).
		Msg("Conversation compacted")
	observability.RecordCompaction(true)
}
