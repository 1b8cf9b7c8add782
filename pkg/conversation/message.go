package conversation

import "time"

// Sender values for Message.Sender
const (
	SenderUser  = "user"
	SenderAgent = "agent"
)

// ToolResult status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ToolCall is a model-requested tool invocation. It is ephemeral until a
// ToolResult with the same ID has been appended.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult is the outcome paired to a ToolCall by CallID.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Message is a single conversation entry. Messages are immutable once
// appended to a store; compaction never removes history, it only marks a
// boundary with IsCompaction.
type Message struct {
	Sender       string       `json:"sender"`
	Text         string       `json:"text,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []ToolResult `json:"tool_results,omitempty"`
	IsCompaction bool         `json:"is_compaction,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// ErrorResult builds an error ToolResult for the given call id.
func ErrorResult(callID, message string) ToolResult {
	return ToolResult{CallID: callID, Status: StatusError, Message: message}
}

// SuccessResult builds a success ToolResult for the given call id.
func SuccessResult(callID string, data any) ToolResult {
	return ToolResult{CallID: callID, Status: StatusSuccess, Data: data}
}

// modelView returns the suffix of msgs starting at the most recent
// compaction boundary, or all of msgs when no boundary exists. The scan is
// backward so the cost is proportional to the post-compaction window in
// the common case.
func modelView(msgs []Message) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsCompaction {
			return msgs[i:]
		}
	}
	return msgs
}
