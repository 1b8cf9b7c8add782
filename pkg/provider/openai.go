package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/porkytheblack/glove-sub003/internal/observability"
	"github.com/porkytheblack/glove-sub003/pkg/conversation"
)

// OpenAIProvider implements Provider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Prompt makes a streaming API call to OpenAI
func (p *OpenAIProvider) Prompt(ctx context.Context, request Request, notifier Notifier) (*Response, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text      strings.Builder
		acc       = newCallAccumulator()
		tokensIn  int64
		tokensOut int64
	)

	for stream.Next() {
		chunk := stream.Current()

		// With IncludeUsage set, the final chunk carries usage totals. Keep
		// whatever arrived last.
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			tokensIn = chunk.Usage.PromptTokens
			tokensOut = chunk.Usage.CompletionTokens
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			notify(notifier, EventTextDelta, map[string]any{"text": delta.Content})
		}

		for _, fragment := range delta.ToolCalls {
			call := acc.at(fragment.Index)
			if call.id == "" && fragment.ID != "" {
				call.id = fragment.ID
			}
			if call.name == "" && fragment.Function.Name != "" {
				call.name = fragment.Function.Name
			}
			call.args.WriteString(fragment.Function.Arguments)

			if !call.announced && call.id != "" && call.name != "" {
				call.announced = true
				notify(notifier, EventToolUse, map[string]any{
					"id":   call.id,
					"name": call.name,
				})
			}
		}
	}

	if err := stream.Err(); err != nil {
		observability.RecordModelCall(p.Name(), time.Since(start), false)
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	observability.RecordModelCall(p.Name(), time.Since(start), true)
	observability.RecordTokens(p.Name(), int(tokensIn), int(tokensOut))

	toolCalls := acc.finish()
	notify(notifier, EventModelResponse, map[string]any{
		"text":       text.String(),
		"tool_calls": len(toolCalls),
	})
	notify(notifier, EventModelResponseComplete, map[string]any{
		"input_tokens":  int(tokensIn),
		"output_tokens": int(tokensOut),
	})

	return &Response{
		Message: conversation.Message{
			Sender:    conversation.SenderAgent,
			Text:      text.String(),
			ToolCalls: toolCalls,
			Timestamp: time.Now(),
		},
		TokensIn:  int(tokensIn),
		TokensOut: int(tokensOut),
	}, nil
}

func (p *OpenAIProvider) buildParams(request Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, turn := range buildWireTurns(request.Messages) {
		if turn.role == roleUser {
			var userText strings.Builder
			for _, block := range turn.blocks {
				switch {
				case block.toolResult != nil:
					body, _ := resultContent(block.toolResult)
					messages = append(messages, openai.ToolMessage(body, block.toolResult.CallID))
				case block.text != "":
					if userText.Len() > 0 {
						userText.WriteString("\n")
					}
					userText.WriteString(block.text)
				}
			}
			if userText.Len() > 0 {
				messages = append(messages, openai.UserMessage(userText.String()))
			}
			continue
		}

		var assistantText strings.Builder
		toolCalls := []openai.ChatCompletionMessageToolCall{}
		for _, block := range turn.blocks {
			switch {
			case block.toolUse != nil:
				argsJSON, err := json.Marshal(block.toolUse.Args)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   block.toolUse.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      block.toolUse.Name,
						Arguments: string(argsJSON),
					},
				})
			case block.text != "":
				if assistantText.Len() > 0 {
					assistantText.WriteString("\n")
				}
				assistantText.WriteString(block.text)
			}
		}

		if len(toolCalls) > 0 {
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   assistantText.String(),
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		} else if assistantText.Len() > 0 {
			messages = append(messages, openai.AssistantMessage(assistantText.String()))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema()),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}
