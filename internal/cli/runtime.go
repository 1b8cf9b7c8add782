package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/porkytheblack/glove-sub003/internal/config"
	"github.com/porkytheblack/glove-sub003/internal/logger"
	"github.com/porkytheblack/glove-sub003/internal/observability"
	"github.com/porkytheblack/glove-sub003/pkg/agent"
	"github.com/porkytheblack/glove-sub003/pkg/commandqueue"
	"github.com/porkytheblack/glove-sub003/pkg/conversation"
	"github.com/porkytheblack/glove-sub003/pkg/coretools"
	"github.com/porkytheblack/glove-sub003/pkg/display"
	"github.com/porkytheblack/glove-sub003/pkg/provider"
	"github.com/porkytheblack/glove-sub003/pkg/toolexecutor"
)

// runtime bundles everything one chat session needs
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	agent   *agent.Agent
	display *display.Stack
	queue   *commandqueue.CommandQueue
	metrics *http.Server
}

// newRuntime wires the full session stack from configuration
func newRuntime(cfg *config.Config, sessionKey string, notifier provider.Notifier) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Redaction: true,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	store, err := conversation.NewFileStore(cfg.Sessions.Dir, sessionKey)
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	disp := display.NewStack()

	executor := toolexecutor.New()
	if err := coretools.RegisterCoreTools(executor, coretools.Options{}); err != nil {
		lg.Close()
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}

	profiles := make([]provider.AuthProfile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, provider.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	provider.SortProfiles(profiles)

	factory := &provider.Factory{}
	prov, err := factory.NewProvider(profiles[0])
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	queue := commandqueue.New()

	summaryModel := cfg.Compaction.SummaryModel
	if summaryModel == "" {
		summaryModel = cfg.Agent.Model
	}
	observer, err := agent.NewObserver(agent.ObserverConfig{
		Store:            store,
		Provider:         prov,
		Logger:           lg.GetZerolog(),
		Model:            summaryModel,
		MaxTurns:         cfg.Compaction.MaxTurns,
		MaxTokens:        cfg.Compaction.MaxTokens,
		SummaryMaxTokens: cfg.Compaction.SummaryMaxTokens,
	})
	if err != nil {
		queue.Close()
		lg.Close()
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}

	ag, err := agent.New(agent.Config{
		SessionKey:   sessionKey,
		Store:        store,
		Executor:     executor,
		Display:      disp,
		Provider:     prov,
		Queue:        queue,
		Observer:     observer,
		Notifier:     notifier,
		Logger:       lg.GetZerolog(),
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxTokens:    cfg.Agent.MaxTokens,
		Temperature:  cfg.Agent.Temperature,
		MaxRetries:   cfg.Agent.MaxRetries,
	})
	if err != nil {
		queue.Close()
		lg.Close()
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	rt := &runtime{
		cfg:     cfg,
		log:     lg,
		agent:   ag,
		display: disp,
		queue:   queue,
	}

	if cfg.Metrics.Enabled {
		rt.metrics = &http.Server{
			Addr:    cfg.Metrics.Addr,
			Handler: observability.MetricsHandler(),
		}
		go func() {
			if err := rt.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	return rt, nil
}

// Close tears the runtime down in reverse construction order
func (r *runtime) Close() {
	if r.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = r.metrics.Shutdown(ctx)
		cancel()
	}
	r.queue.Close()
	if r.log != nil {
		_ = r.log.Close()
	}
}
