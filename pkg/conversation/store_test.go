package conversation

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppend(t *testing.T) {
	t.Run("should preserve insertion order", func(t *testing.T) {
		store := NewMemoryStore()

		require.NoError(t, store.Append(Message{Sender: SenderUser, Text: "one"}))
		require.NoError(t, store.Append(
			Message{Sender: SenderAgent, Text: "two"},
			Message{Sender: SenderUser, Text: "three"},
		))

		msgs, err := store.Messages()
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "one", msgs[0].Text)
		assert.Equal(t, "two", msgs[1].Text)
		assert.Equal(t, "three", msgs[2].Text)
	})

	t.Run("should be safe under concurrent appends", func(t *testing.T) {
		store := NewMemoryStore()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = store.Append(Message{Sender: SenderUser, Text: "m"})
			}()
		}
		wg.Wait()

		msgs, err := store.Messages()
		require.NoError(t, err)
		assert.Len(t, msgs, 50)
	})
}

func TestModelView(t *testing.T) {
	t.Run("should return full history without compaction boundary", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(
			Message{Sender: SenderUser, Text: "a"},
			Message{Sender: SenderAgent, Text: "b"},
		))

		view, err := store.ModelView()
		require.NoError(t, err)
		assert.Len(t, view, 2)
	})

	t.Run("should return suffix from last compaction boundary", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(
			Message{Sender: SenderUser, Text: "old"},
			Message{Sender: SenderAgent, Text: "old reply"},
			Message{Sender: SenderAgent, Text: "summary one", IsCompaction: true},
			Message{Sender: SenderUser, Text: "mid"},
			Message{Sender: SenderAgent, Text: "summary two", IsCompaction: true},
			Message{Sender: SenderUser, Text: "new"},
		))

		view, err := store.ModelView()
		require.NoError(t, err)
		require.Len(t, view, 2)
		assert.Equal(t, "summary two", view[0].Text)
		assert.Equal(t, "new", view[1].Text)

		// Full history is never truncated.
		msgs, err := store.Messages()
		require.NoError(t, err)
		assert.Len(t, msgs, 6)
	})

	t.Run("should be stable without intervening appends", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(
			Message{Sender: SenderAgent, Text: "s", IsCompaction: true},
			Message{Sender: SenderUser, Text: "q"},
		))

		first, err := store.ModelView()
		require.NoError(t, err)
		second, err := store.ModelView()
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestMemoryStoreCounters(t *testing.T) {
	store := NewMemoryStore()

	t.Run("should accumulate tokens and turns", func(t *testing.T) {
		require.NoError(t, store.AddTokens(100))
		require.NoError(t, store.AddTokens(50))
		require.NoError(t, store.IncrementTurn())

		tokens, err := store.TokenCount()
		require.NoError(t, err)
		assert.Equal(t, 150, tokens)

		turns, err := store.TurnCount()
		require.NoError(t, err)
		assert.Equal(t, 1, turns)
	})

	t.Run("should reset counters without touching history", func(t *testing.T) {
		require.NoError(t, store.Append(Message{Sender: SenderUser, Text: "m"}))
		require.NoError(t, store.ResetCounters())

		tokens, _ := store.TokenCount()
		turns, _ := store.TurnCount()
		assert.Equal(t, 0, tokens)
		assert.Equal(t, 0, turns)

		msgs, err := store.Messages()
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})
}

func TestFileStore(t *testing.T) {
	setup := func(t *testing.T) (*FileStore, string) {
		dir := t.TempDir()
		store, err := NewFileStore(dir, "test-session")
		require.NoError(t, err)
		return store, dir
	}

	t.Run("should reject unsafe session keys", func(t *testing.T) {
		dir := t.TempDir()
		for _, key := range []string{"", "../escape", "a/b", "a\\b", "nul\x00"} {
			_, err := NewFileStore(dir, key)
			assert.Error(t, err, "key %q", key)
		}
	})

	t.Run("should round-trip messages", func(t *testing.T) {
		store, _ := setup(t)
		require.NoError(t, store.Append(
			Message{Sender: SenderUser, Text: "hello"},
			Message{Sender: SenderAgent, Text: "reply", ToolCalls: []ToolCall{
				{ID: "c1", Name: "clock", Args: map[string]any{"tz": "UTC"}},
			}},
		))

		msgs, err := store.Messages()
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Text)
		require.Len(t, msgs[1].ToolCalls, 1)
		assert.Equal(t, "clock", msgs[1].ToolCalls[0].Name)
	})

	t.Run("should skip corrupt lines on load", func(t *testing.T) {
		store, dir := setup(t)
		require.NoError(t, store.Append(Message{Sender: SenderUser, Text: "ok"}))

		path := filepath.Join(dir, "test-session.jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("{truncated\n")
		require.NoError(t, err)
		f.Close()

		msgs, err := store.Messages()
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("should persist counters across instances", func(t *testing.T) {
		store, dir := setup(t)
		require.NoError(t, store.AddTokens(42))
		require.NoError(t, store.IncrementTurn())

		reopened, err := NewFileStore(dir, "test-session")
		require.NoError(t, err)

		tokens, err := reopened.TokenCount()
		require.NoError(t, err)
		assert.Equal(t, 42, tokens)
		turns, err := reopened.TurnCount()
		require.NoError(t, err)
		assert.Equal(t, 1, turns)
	})

	t.Run("should repair truncated file", func(t *testing.T) {
		store, dir := setup(t)
		require.NoError(t, store.Append(Message{Sender: SenderUser, Text: "keep"}))

		path := filepath.Join(dir, "test-session.jsonl")
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
		require.NoError(t, err)
		_, err = f.WriteString(`{"sender":"agent","text":"half`)
		require.NoError(t, err)
		f.Close()

		require.NoError(t, store.Repair())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "half")

		msgs, err := store.Messages()
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("should reset history and counters", func(t *testing.T) {
		store, _ := setup(t)
		require.NoError(t, store.Append(Message{Sender: SenderUser, Text: "x"}))
		require.NoError(t, store.AddTokens(5))

		require.NoError(t, store.ResetHistory())

		msgs, err := store.Messages()
		require.NoError(t, err)
		assert.Empty(t, msgs)
		tokens, _ := store.TokenCount()
		assert.Equal(t, 0, tokens)
	})
}
