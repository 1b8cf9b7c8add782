package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/porkytheblack/glove-sub003/internal/observability"
	"github.com/porkytheblack/glove-sub003/pkg/conversation"
)

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Prompt makes a streaming API call to Anthropic Claude
func (p *AnthropicProvider) Prompt(ctx context.Context, request Request, notifier Notifier) (*Response, error) {
	params := p.buildParams(request)

	start := time.Now()
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text      strings.Builder
		acc       = newCallAccumulator()
		tokensIn  int64
		tokensOut int64
	)

	for stream.Next() {
		switch event := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			tokensIn = event.Message.Usage.InputTokens
			tokensOut = event.Message.Usage.OutputTokens

		case anthropic.ContentBlockStartEvent:
			if event.ContentBlock.Type != "tool_use" {
				continue
			}
			call := acc.at(event.Index)
			call.id = event.ContentBlock.ID
			call.name = event.ContentBlock.Name
			call.announced = true
			notify(notifier, EventToolUse, map[string]any{
				"id":   call.id,
				"name": call.name,
			})

		case anthropic.ContentBlockDeltaEvent:
			switch delta := event.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				notify(notifier, EventTextDelta, map[string]any{"text": delta.Text})
			case anthropic.InputJSONDelta:
				if call := acc.get(event.Index); call != nil {
					call.args.WriteString(delta.PartialJSON)
				}
			}

		case anthropic.MessageDeltaEvent:
			// Usage arrives cumulatively; the last value seen wins.
			if event.Usage.OutputTokens > 0 {
				tokensOut = event.Usage.OutputTokens
			}
		}
	}

	if err := stream.Err(); err != nil {
		observability.RecordModelCall(p.Name(), time.Since(start), false)
		return nil, fmt.Errorf("anthropic stream: %w", err)
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

func (p *AnthropicProvider) buildParams(request Request) anthropic.MessageNewParams {
	messages := []anthropic.MessageParam{}

	for _, turn := range buildWireTurns(request.Messages) {
		content := []anthropic.ContentBlockParamUnion{}
		for _, block := range turn.blocks {
			switch {
			case block.toolResult != nil:
				body, isError := resultContent(block.toolResult)
				content = append(content, anthropic.NewToolResultBlock(block.toolResult.CallID, body, isError))
			case block.toolUse != nil:
				content = append(content, anthropic.NewToolUseBlock(block.toolUse.ID, block.toolUse.Args, block.toolUse.Name))
			default:
				content = append(content, anthropic.NewTextBlock(block.text))
			}
		}

		role := anthropic.MessageParamRoleUser
		if turn.role == roleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: content})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(request.MaxTokens),
	}

	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := []anthropic.ToolUnionParam{}
		for _, tool := range request.Tools {
			schema := tool.InputSchema()

			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}
			if required, ok := schema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}

			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}
