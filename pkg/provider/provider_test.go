package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallAccumulator(t *testing.T) {
	t.Run("should reassemble argument fragments in arrival order", func(t *testing.T) {
		acc := newCallAccumulator()
		call := acc.at(0)
		call.id = "call-1"
		call.name = "current_time"
		call.args.WriteString(`{"timezone":`)
		call.args.WriteString(`"UTC"}`)

		calls := acc.finish()
		require.Len(t, calls, 1)
		assert.Equal(t, "call-1", calls[0].ID)
		assert.Equal(t, "current_time", calls[0].Name)
		assert.Equal(t, map[string]any{"timezone": "UTC"}, calls[0].Args)
	})

	t.Run("should order calls by content-block index", func(t *testing.T) {
		acc := newCallAccumulator()
		second := acc.at(2)
		second.id = "call-b"
		first := acc.at(1)
		first.id = "call-a"

		calls := acc.finish()
		require.Len(t, calls, 2)
		assert.Equal(t, "call-a", calls[0].ID)
		assert.Equal(t, "call-b", calls[1].ID)
	})

	t.Run("should discard calls that never got an id", func(t *testing.T) {
		acc := newCallAccumulator()
		acc.at(0).args.WriteString(`{"x":1}`)

		assert.Empty(t, acc.finish())
	})

	t.Run("should return nil for an unknown index", func(t *testing.T) {
		acc := newCallAccumulator()
		assert.Nil(t, acc.get(7))
	})
}

func TestDecodeToolArgs(t *testing.T) {
	t.Run("should decode a complete object", func(t *testing.T) {
		args := decodeToolArgs(`{"a":1,"b":"two"}`)
		assert.Equal(t, map[string]any{"a": float64(1), "b": "two"}, args)
	})

	t.Run("should return an empty map for empty input", func(t *testing.T) {
		assert.Equal(t, map[string]any{}, decodeToolArgs(""))
		assert.Equal(t, map[string]any{}, decodeToolArgs("   "))
	})

	t.Run("should preserve malformed input raw", func(t *testing.T) {
		args := decodeToolArgs(`{"a":1`)
		assert.Equal(t, map[string]any{"_raw": `{"a":1`}, args)
	})

	t.Run("should preserve non-object JSON raw", func(t *testing.T) {
		args := decodeToolArgs(`"just a string"`)
		assert.Equal(t, map[string]any{"_raw": `"just a string"`}, args)
	})

	t.Run("should treat a JSON null as no arguments", func(t *testing.T) {
		assert.Equal(t, map[string]any{}, decodeToolArgs("null"))
	})
}

type panickyNotifier struct{}

func (panickyNotifier) Record(string, map[string]any) {
	panic("notifier exploded")
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Record(event string, _ map[string]any) {
	n.events = append(n.events, event)
}

func TestNotify(t *testing.T) {
	t.Run("should swallow notifier panics", func(t *testing.T) {
		assert.NotPanics(t, func() {
			notify(panickyNotifier{}, EventTextDelta, map[string]any{"text": "x"})
		})
	})

	t.Run("should tolerate a nil notifier", func(t *testing.T) {
		assert.NotPanics(t, func() {
			notify(nil, EventTextDelta, nil)
		})
	})

	t.Run("should forward events in order", func(t *testing.T) {
		notifier := &recordingNotifier{}
		notify(notifier, EventTextDelta, nil)
		notify(notifier, EventModelResponseComplete, nil)
		assert.Equal(t, []string{EventTextDelta, EventModelResponseComplete}, notifier.events)
	})
}

func TestFactory(t *testing.T) {
	factory := &Factory{}

	t.Run("should create an anthropic provider", func(t *testing.T) {
		p, err := factory.NewProvider(AuthProfile{Provider: "anthropic", APIKey: "key"})
		require.NoError(t, err)
		assert.Equal(t, "anthropic", p.Name())
	})

	t.Run("should create an openai provider", func(t *testing.T) {
		p, err := factory.NewProvider(AuthProfile{Provider: "openai", APIKey: "key"})
		require.NoError(t, err)
		assert.Equal(t, "openai", p.Name())
	})

	t.Run("should reject an unknown provider", func(t *testing.T) {
		_, err := factory.NewProvider(AuthProfile{Provider: "carrier-pigeon"})
		assert.Error(t, err)
	})
}

func TestSortProfiles(t *testing.T) {
	profiles := []AuthProfile{
		{ID: "backup", Priority: 2},
		{ID: "primary", Priority: 1},
		{ID: "also-backup", Priority: 2},
	}

	SortProfiles(profiles)

	assert.Equal(t, "primary", profiles[0].ID)
	assert.Equal(t, "backup", profiles[1].ID)
	assert.Equal(t, "also-backup", profiles[2].ID)
}

func TestIsRetryableError(t *testing.T) {
	t.Run("should retry rate limits and server errors", func(t *testing.T) {
		assert.True(t, IsRetryableError(errors.New("429 Too Many Requests")))
		assert.True(t, IsRetryableError(errors.New("rate limit exceeded")))
		assert.True(t, IsRetryableError(errors.New("upstream returned 503")))
		assert.True(t, IsRetryableError(errors.New("read tcp: connection reset by peer")))
	})

	t.Run("should not retry client errors", func(t *testing.T) {
		assert.False(t, IsRetryableError(nil))
		assert.False(t, IsRetryableError(errors.New("invalid api key")))
		assert.False(t, IsRetryableError(errors.New("400 bad request")))
	})
}
