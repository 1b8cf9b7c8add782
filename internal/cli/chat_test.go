package cli

import (
	"bytes"
	"testing"

	"github.com/porkytheblack/glove-sub003/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatCommand(t *testing.T) {
	t.Run("command exists with session flag", func(t *testing.T) {
		var chat *chatCommandProbe
		for _, c := range GetRootCmd().Commands() {
			if c.Name() == "chat" {
				chat = &chatCommandProbe{found: true, sessionFlag: c.Flags().Lookup("session") != nil}
				break
			}
		}
		require.NotNil(t, chat)
		assert.True(t, chat.found)
		assert.True(t, chat.sessionFlag)
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"chat", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)
		assert.Contains(t, output.String(), "interactive conversation")
	})
}

type chatCommandProbe struct {
	found       bool
	sessionFlag bool
}

func TestConsoleNotifier(t *testing.T) {
	t.Run("streams text deltas", func(t *testing.T) {
		buf := &bytes.Buffer{}
		n := &consoleNotifier{out: buf}

		n.Record(provider.EventTextDelta, map[string]any{"text": "hello "})
		n.Record(provider.EventTextDelta, map[string]any{"text": "world"})
		n.Record(provider.EventModelResponseComplete, map[string]any{})

		assert.Equal(t, "hello world\n", buf.String())
	})

	t.Run("announces tool use", func(t *testing.T) {
		buf := &bytes.Buffer{}
		n := &consoleNotifier{out: buf}

		n.Record(provider.EventToolUse, map[string]any{"id": "t1", "name": "current_time"})

		assert.Contains(t, buf.String(), "current_time")
	})

	t.Run("ignores malformed payloads", func(t *testing.T) {
		buf := &bytes.Buffer{}
		n := &consoleNotifier{out: buf}

		n.Record(provider.EventTextDelta, map[string]any{"text": 42})
		n.Record(provider.EventToolUse, nil)

		assert.Empty(t, buf.String())
	})
}
