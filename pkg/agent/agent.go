package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/porkytheblack/glove-sub003/internal/observability"
	"github.com/porkytheblack/glove-sub003/pkg/commandqueue"
	"github.com/porkytheblack/glove-sub003/pkg/conversation"
	"github.com/porkytheblack/glove-sub003/pkg/display"
	"github.com/porkytheblack/glove-sub003/pkg/provider"
	"github.com/porkytheblack/glove-sub003/pkg/toolexecutor"
)

// ErrAborted is returned when a run is cancelled through Abort.
var ErrAborted = errors.New("agent run aborted")

// maxToolTurns bounds the model/tool loop within one request.
const maxToolTurns = 10

// Config holds agent configuration
type Config struct {
	SessionKey   string
	Store        conversation.Store
	Executor     *toolexecutor.Executor
	Display      *display.Stack
	Provider     provider.Provider
	Queue        *commandqueue.CommandQueue
	Observer     *Observer
	Notifier     provider.Notifier
	Logger       zerolog.Logger
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	MaxRetries   int
}

// Agent owns one conversation session: its store, tool executor, display
// stack and provider. All model calls for the session run through a single
// commandqueue lane, so at most one is in flight at a time.
type Agent struct {
	sessionKey   string
	store        conversation.Store
	executor     *toolexecutor.Executor
	display      *display.Stack
	provider     provider.Provider
	queue        *commandqueue.CommandQueue
	observer     *Observer
	notifier     provider.Notifier
	logger       zerolog.Logger
	model        string
	systemPrompt string
	maxTokens    int
	temperature  float64
	maxRetries   int
	retryDelay   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted bool
}

// New creates a new agent for one session
func New(cfg Config) (*Agent, error) {
	observability.EnsureRegistered()

	if cfg.SessionKey == "" {
		return nil, fmt.Errorf("session key is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Display == nil {
		return nil, fmt.Errorf("display stack is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return nil, fmt.Errorf("temperature must be between 0 and 1")
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = provider.NopNotifier{}
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &Agent{
		sessionKey:   cfg.SessionKey,
		store:        cfg.Store,
		executor:     cfg.Executor,
		display:      cfg.Display,
		provider:     cfg.Provider,
		queue:        cfg.Queue,
		observer:     cfg.Observer,
		notifier:     notifier,
		logger:       cfg.Logger.With().Str("session_key", cfg.SessionKey).Logger(),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    maxTokens,
		temperature:  cfg.Temperature,
		maxRetries:   maxRetries,
		retryDelay:   time.Second,
	}, nil
}

// ProcessRequest runs one conversation turn: the user's text goes to the
// model, tool calls are executed until the model stops asking for them, and
// the final assistant text is returned.
func (a *Agent) ProcessRequest(ctx context.Context, text string) (string, error) {
	return a.ProcessRequestWithID(ctx, "", text)
}

// ProcessRequestWithID is ProcessRequest with a caller-supplied request id.
// A non-empty id deduplicates retried submissions: a repeat of an id the
// queue has already served returns the cached result without another model
// call.
func (a *Agent) ProcessRequestWithID(ctx context.Context, requestID, text string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	lane := fmt.Sprintf("session-%s", a.sessionKey)

	var options *commandqueue.TaskOptions
	if requestID != "" {
		options = &commandqueue.TaskOptions{RequestID: requestID}
	}

	result, err := a.queue.EnqueueWithContext(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return a.run(taskCtx, text)
	}, options)
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Abort cancels the in-flight run, if any, and rejects every pending
// display resolver.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	if cancel != nil {
		a.aborted = true
	}
	a.mu.Unlock()

	if cancel == nil {
		a.logger.Debug().Msg("No active run to abort")
		return
	}

	a.logger.Info().Msg("Aborting agent run")
	cancel()
	a.display.CancelAll(ErrAborted)
}

// IsRunning reports whether a run is currently in flight.
func (a *Agent) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancel != nil
}

func (a *Agent) run(ctx context.Context, text string) (string, error) {
	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel
	a.aborted = false
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	// Messages produced since the last successful model call. They are
	// committed together with the response that consumed them, so a failed
	// call leaves the store untouched.
	staged := []conversation.Message{{
		Sender:    conversation.SenderUser,
		Text:      text,
		Timestamp: time.Now(),
	}}

	for turn := 0; turn < maxToolTurns; turn++ {
		if err := execCtx.Err(); err != nil {
			return "", a.runError(err)
		}

		view, err := a.store.ModelView()
		if err != nil {
			return "", fmt.Errorf("failed to load model view: %w", err)
		}

		request := provider.Request{
			Messages:     append(view, staged...),
			Tools:        a.executor.Definitions(),
			SystemPrompt: a.systemPrompt,
			Model:        a.model,
			MaxTokens:    a.maxTokens,
			Temperature:  a.temperature,
		}

		response, err := a.callWithRetry(execCtx, request)
		if err != nil {
			return "", a.runError(err)
		}

		// Commit the staged messages and the response in one append.
		staged = append(staged, response.Message)
		if err := a.store.Append(staged...); err != nil {
			return "", fmt.Errorf("failed to persist turn: %w", err)
		}
		staged = nil

		if a.observer != nil {
			toolsPending := len(response.Message.ToolCalls) > 0
			a.observer.ObserveTurn(execCtx, response.TokensIn+response.TokensOut, toolsPending)
		}

		if len(response.Message.ToolCalls) == 0 {
			return response.Message.Text, nil
		}

		a.logger.Debug().
			Int("toolCalls", len(response.Message.ToolCalls)).
			Int("loopTurn", turn).
			Msg("Executing tool calls")

		results := a.executor.ExecuteAll(execCtx, response.Message.ToolCalls, a.display)
		staged = []conversation.Message{{
			Sender:      conversation.SenderUser,
			ToolResults: results,
			Timestamp:   time.Now(),
		}}
	}

	return "", fmt.Errorf("maximum tool execution turns exceeded")
}

// runError maps a cancellation caused by Abort onto ErrAborted.
func (a *Agent) runError(err error) error {
	a.mu.Lock()
	aborted := a.aborted
	a.mu.Unlock()

	if aborted && (errors.Is(err, context.Canceled) || errors.Is(err, ErrAborted)) {
		return ErrAborted
	}
	return err
}

// callWithRetry calls the provider with exponential backoff on retryable
// errors.
func (a *Agent) callWithRetry(ctx context.Context, request provider.Request) (*provider.Response, error) {
	var lastErr error

	for attempt := 0; attempt < a.maxRetries; attempt++ {
		response, err := a.provider.Prompt(ctx, request, a.notifier)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Don't retry on permanent errors
		if !provider.IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == a.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := a.retryDelay * (1 << attempt)
		a.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", a.maxRetries, lastErr)
}
