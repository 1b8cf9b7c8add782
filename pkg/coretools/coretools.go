package coretools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/porkytheblack/glove-sub003/pkg/display"
	"github.com/porkytheblack/glove-sub003/pkg/toolexecutor"
)

// Options configures core tool registration.
type Options struct {
	// Clock overrides the time source of current_time. Defaults to time.Now.
	Clock func() time.Time
}

// RegisterCoreTools registers the baseline conversational tools.
func RegisterCoreTools(executor *toolexecutor.Executor, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}

	tools := []toolexecutor.ToolDefinition{
		currentTimeTool(opts),
		askUserTool(),
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func currentTimeTool(opts Options) toolexecutor.ToolDefinition {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return toolexecutor.ToolDefinition{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a specific IANA timezone.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. Europe/Berlin. Defaults to local time.", Required: false},
		},
		Handler: func(_ context.Context, args map[string]any, _ *display.Stack) (any, error) {
			now := clock()

			if tz, ok := args["timezone"].(string); ok && strings.TrimSpace(tz) != "" {
				loc, err := time.LoadLocation(strings.TrimSpace(tz))
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
				now = now.In(loc)
			}

			return map[string]interface{}{
				"iso":      now.Format(time.RFC3339),
				"unix":     now.Unix(),
				"timezone": now.Location().String(),
				"weekday":  now.Weekday().String(),
			}, nil
		},
	}
}

// askUserTool suspends on the display stack until someone resolves the
// question slot. The model sees whatever value the resolver supplied.
func askUserTool() toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "ask_user",
		Description: "Ask the user a question and wait for their answer before continuing.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "question", Type: "string", Description: "Question to present to the user", Required: true},
			{Name: "options", Type: "array", Description: "Optional list of suggested answers", Required: false},
		},
		Handler: func(ctx context.Context, args map[string]any, disp *display.Stack) (any, error) {
			question, _ := args["question"].(string)
			question = strings.TrimSpace(question)
			if question == "" {
				return nil, fmt.Errorf("question is required")
			}

			slotID, err := gonanoid.New()
			if err != nil {
				return nil, fmt.Errorf("failed to generate slot id: %w", err)
			}

			data := map[string]interface{}{"question": question}
			if options, ok := args["options"].([]interface{}); ok && len(options) > 0 {
				data["options"] = options
			}

			answer, err := disp.PushAndWait(ctx, display.Slot{
				ID:       slotID,
				Renderer: "question",
				Data:     data,
			})
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{"answer": answer}, nil
		},
	}
}
