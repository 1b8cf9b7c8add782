package toolexecutor

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porkytheblack/glove-sub003/pkg/conversation"
	"github.com/porkytheblack/glove-sub003/pkg/display"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echoes its input back",
		Parameters: []ToolParameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]any, disp *display.Stack) (any, error) {
			return args["text"], nil
		},
	}
}

func TestRegisterTool(t *testing.T) {
	t.Run("should register a valid tool", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		assert.NotNil(t, e.GetTool("echo"))
		assert.Equal(t, []string{"echo"}, e.ListTools())
	})

	t.Run("should reject duplicate names", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		err := e.RegisterTool(echoTool())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("should reject invalid definitions", func(t *testing.T) {
		e := New()

		err := e.RegisterTool(ToolDefinition{Description: "no name", Handler: func(context.Context, map[string]any, *display.Stack) (any, error) { return nil, nil }})
		assert.Error(t, err)

		err = e.RegisterTool(ToolDefinition{Name: "no_handler", Description: "d"})
		assert.Error(t, err)

		err = e.RegisterTool(ToolDefinition{
			Name:        "bad_type",
			Description: "d",
			Parameters:  []ToolParameter{{Name: "p", Type: "banana", Description: "d"}},
			Handler:     func(context.Context, map[string]any, *display.Stack) (any, error) { return nil, nil },
		})
		assert.Error(t, err)
	})
}

func TestInputSchema(t *testing.T) {
	def := echoTool()
	schema := def.InputSchema()

	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "text")
	assert.Equal(t, []string{"text"}, schema["required"])
}

func TestExecute(t *testing.T) {
	t.Run("should run a tool and wrap raw return values", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		result := e.Execute(context.Background(), conversation.ToolCall{
			ID: "c1", Name: "echo", Args: map[string]any{"text": "hi"},
		}, display.NewStack())

		assert.Equal(t, "c1", result.CallID)
		assert.Equal(t, conversation.StatusSuccess, result.Status)
		assert.Equal(t, "hi", result.Data)
	})

	t.Run("should pass through tagged results", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "tagged",
			Description: "Returns a ready-made result",
			Handler: func(context.Context, map[string]any, *display.Stack) (any, error) {
				return conversation.ToolResult{Status: conversation.StatusError, Message: "taken care of"}, nil
			},
		}))

		result := e.Execute(context.Background(), conversation.ToolCall{ID: "c2", Name: "tagged"}, display.NewStack())

		assert.Equal(t, "c2", result.CallID)
		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Equal(t, "taken care of", result.Message)
	})

	t.Run("should return error result for unknown tool", func(t *testing.T) {
		e := New()

		result := e.Execute(context.Background(), conversation.ToolCall{ID: "c3", Name: "missing"}, display.NewStack())

		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Contains(t, result.Message, "unknown tool")
	})

	t.Run("should return error result for invalid input", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(echoTool()))

		result := e.Execute(context.Background(), conversation.ToolCall{
			ID: "c4", Name: "echo", Args: map[string]any{"text": 42},
		}, display.NewStack())

		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Contains(t, result.Message, "validation")
	})

	t.Run("should convert handler errors to error results", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "fails",
			Description: "Always fails",
			Handler: func(context.Context, map[string]any, *display.Stack) (any, error) {
				return nil, fmt.Errorf("disk full")
			},
		}))

		result := e.Execute(context.Background(), conversation.ToolCall{ID: "c5", Name: "fails"}, display.NewStack())

		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Equal(t, "disk full", result.Message)
	})

	t.Run("should recover from handler panic", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "panics",
			Description: "Always panics",
			Handler: func(context.Context, map[string]any, *display.Stack) (any, error) {
				panic("boom")
			},
		}))

		result := e.Execute(context.Background(), conversation.ToolCall{ID: "c6", Name: "panics"}, display.NewStack())

		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Contains(t, result.Message, "boom")
	})

	t.Run("should time out a stuck handler", func(t *testing.T) {
		e := New()
		e.SetTimeout(20 * time.Millisecond)
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "stuck",
			Description: "Never returns",
			Handler: func(ctx context.Context, _ map[string]any, _ *display.Stack) (any, error) {
				<-ctx.Done()
				time.Sleep(time.Hour)
				return nil, nil
			},
		}))

		result := e.Execute(context.Background(), conversation.ToolCall{ID: "c7", Name: "stuck"}, display.NewStack())

		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Contains(t, result.Message, "timed out")
	})

	t.Run("should report cancellation rather than a timeout", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "parked",
			Description: "Waits for cancellation",
			Handler: func(ctx context.Context, _ map[string]any, _ *display.Stack) (any, error) {
				<-ctx.Done()
				time.Sleep(time.Hour)
				return nil, nil
			},
		}))

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		result := e.Execute(ctx, conversation.ToolCall{ID: "c8", Name: "parked"}, display.NewStack())

		assert.Equal(t, conversation.StatusError, result.Status)
		assert.Contains(t, result.Message, "cancelled")
		assert.NotContains(t, result.Message, "timed out")
	})
}

func TestExecuteAll(t *testing.T) {
	t.Run("should settle every call and match results by id", func(t *testing.T) {
		e := New()
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "slow_echo",
			Description: "Echoes after an input-dependent delay",
			Parameters: []ToolParameter{
				{Name: "text", Type: "string", Description: "Text", Required: true},
				{Name: "delay_ms", Type: "integer", Description: "Delay", Required: true},
			},
			Handler: func(ctx context.Context, args map[string]any, _ *display.Stack) (any, error) {
				delay := time.Duration(args["delay_ms"].(int)) * time.Millisecond
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return args["text"], nil
			},
		}))

		// The first call finishes last; results must still pair by id.
		calls := []conversation.ToolCall{
			{ID: "slow", Name: "slow_echo", Args: map[string]any{"text": "tortoise", "delay_ms": 50}},
			{ID: "fast", Name: "slow_echo", Args: map[string]any{"text": "hare", "delay_ms": 1}},
			{ID: "bad", Name: "slow_echo", Args: map[string]any{"text": "broken"}},
		}

		results := e.ExecuteAll(context.Background(), calls, display.NewStack())

		require.Len(t, results, 3)
		byID := map[string]conversation.ToolResult{}
		for _, r := range results {
			byID[r.CallID] = r
		}

		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		assert.Equal(t, []string{"bad", "fast", "slow"}, ids)

		assert.Equal(t, "tortoise", byID["slow"].Data)
		assert.Equal(t, "hare", byID["fast"].Data)
		assert.Equal(t, conversation.StatusError, byID["bad"].Status)
	})

	t.Run("should run calls concurrently", func(t *testing.T) {
		e := New()
		var inFlight, peak int32
		require.NoError(t, e.RegisterTool(ToolDefinition{
			Name:        "tracker",
			Description: "Tracks concurrent executions",
			Handler: func(ctx context.Context, _ map[string]any, _ *display.Stack) (any, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil, nil
			},
		}))

		calls := []conversation.ToolCall{
			{ID: "a", Name: "tracker"},
			{ID: "b", Name: "tracker"},
			{ID: "c", Name: "tracker"},
		}
		e.ExecuteAll(context.Background(), calls, display.NewStack())

		assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
	})
}
