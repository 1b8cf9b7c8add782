package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porkytheblack/glove-sub003/pkg/conversation"
)

func TestBuildWireTurns(t *testing.T) {
	t.Run("should convert a plain exchange", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "hello"},
			{Sender: conversation.SenderAgent, Text: "hi there"},
		})

		require.Len(t, turns, 2)
		assert.Equal(t, roleUser, turns[0].role)
		assert.Equal(t, "hello", turns[0].blocks[0].text)
		assert.Equal(t, roleAssistant, turns[1].role)
		assert.Equal(t, "hi there", turns[1].blocks[0].text)
	})

	t.Run("should merge consecutive same-role turns", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "first"},
			{Sender: conversation.SenderUser, Text: "second"},
			{Sender: conversation.SenderAgent, Text: "reply"},
		})

		require.Len(t, turns, 2)
		require.Len(t, turns[0].blocks, 2)
		assert.Equal(t, "first", turns[0].blocks[0].text)
		assert.Equal(t, "second", turns[0].blocks[1].text)
	})

	t.Run("should open with a user turn after a compaction boundary", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderAgent, Text: "summary so far", IsCompaction: true},
			{Sender: conversation.SenderUser, Text: "next question"},
		})

		require.Len(t, turns, 3)
		assert.Equal(t, roleUser, turns[0].role)
		assert.Equal(t, continuationText, turns[0].blocks[0].text)
		assert.Equal(t, roleAssistant, turns[1].role)
		assert.Equal(t, "summary so far", turns[1].blocks[0].text)
		assert.Equal(t, roleUser, turns[2].role)
		assert.Equal(t, "next question", turns[2].blocks[0].text)
	})

	t.Run("should open with a user turn when the history starts with the agent", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderAgent, Text: "unprompted greeting"},
		})

		require.Len(t, turns, 2)
		assert.Equal(t, roleUser, turns[0].role)
		assert.Equal(t, roleAssistant, turns[1].role)
	})

	t.Run("should skip empty messages", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "hello"},
			{Sender: conversation.SenderAgent},
		})

		require.Len(t, turns, 1)
	})

	t.Run("should keep the first result when duplicates share a call id", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "run it"},
			{Sender: conversation.SenderAgent, ToolCalls: []conversation.ToolCall{
				{ID: "call-1", Name: "current_time", Args: map[string]any{}},
			}},
			{Sender: conversation.SenderUser, ToolResults: []conversation.ToolResult{
				conversation.SuccessResult("call-1", "12:00"),
				conversation.SuccessResult("call-1", "13:00"),
			}},
		})

		require.Len(t, turns, 3)
		results := 0
		for _, block := range turns[2].blocks {
			if block.toolResult != nil {
				results++
				assert.Equal(t, "12:00", block.toolResult.Data)
			}
		}
		assert.Equal(t, 1, results)
	})

	t.Run("should drop results with no matching call", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "hello"},
			{Sender: conversation.SenderUser, ToolResults: []conversation.ToolResult{
				conversation.SuccessResult("ghost", "boo"),
			}},
		})

		require.Len(t, turns, 1)
		require.Len(t, turns[0].blocks, 1)
		assert.Equal(t, "hello", turns[0].blocks[0].text)
	})

	t.Run("should synthesize a result for an unpaired call", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "run it"},
			{Sender: conversation.SenderAgent, ToolCalls: []conversation.ToolCall{
				{ID: "call-1", Name: "current_time", Args: map[string]any{}},
			}},
			{Sender: conversation.SenderUser, Text: "never mind"},
		})

		require.Len(t, turns, 3)
		first := turns[2].blocks[0]
		require.NotNil(t, first.toolResult)
		assert.Equal(t, "call-1", first.toolResult.CallID)
		assert.Equal(t, missingResultText, first.toolResult.Message)
		assert.Equal(t, "never mind", turns[2].blocks[1].text)
	})

	t.Run("should append a user turn when the conversation ends with an unpaired call", func(t *testing.T) {
		turns := buildWireTurns([]conversation.Message{
			{Sender: conversation.SenderUser, Text: "run it"},
			{Sender: conversation.SenderAgent, ToolCalls: []conversation.ToolCall{
				{ID: "call-1", Name: "current_time", Args: map[string]any{}},
			}},
		})

		require.Len(t, turns, 3)
		assert.Equal(t, roleUser, turns[2].role)
		require.NotNil(t, turns[2].blocks[0].toolResult)
		assert.Equal(t, "call-1", turns[2].blocks[0].toolResult.CallID)
	})
}

func TestResultContent(t *testing.T) {
	t.Run("should render string data as-is", func(t *testing.T) {
		result := conversation.SuccessResult("call-1", "plain text")
		body, isError := resultContent(&result)
		assert.Equal(t, "plain text", body)
		assert.False(t, isError)
	})

	t.Run("should encode structured data as JSON", func(t *testing.T) {
		result := conversation.SuccessResult("call-1", map[string]any{"count": 3})
		body, isError := resultContent(&result)
		assert.JSONEq(t, `{"count":3}`, body)
		assert.False(t, isError)
	})

	t.Run("should render error results with the error flag", func(t *testing.T) {
		result := conversation.ErrorResult("call-1", "disk full")
		body, isError := resultContent(&result)
		assert.Equal(t, "disk full", body)
		assert.True(t, isError)
	})
}
