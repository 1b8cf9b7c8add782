package provider

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/porkytheblack/glove-sub003/pkg/conversation"
)

// pendingCall tracks one streamed tool invocation while its argument JSON is
// still arriving in fragments.
type pendingCall struct {
	id        string
	name      string
	announced bool
	args      strings.Builder
}

// callAccumulator collects streamed tool calls keyed by content-block index.
// Fragments for one call always share an index, so appending in arrival
// order reassembles the argument document.
type callAccumulator struct {
	calls map[int64]*pendingCall
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{calls: map[int64]*pendingCall{}}
}

// at returns the pending call for index, creating it on first access.
func (a *callAccumulator) at(index int64) *pendingCall {
	call, ok := a.calls[index]
	if !ok {
		call = &pendingCall{}
		a.calls[index] = call
	}
	return call
}

// get returns the pending call for index, or nil if none was started.
func (a *callAccumulator) get(index int64) *pendingCall {
	return a.calls[index]
}

// finish decodes every accumulated call in index order. Calls that never
// received an id are discarded.
func (a *callAccumulator) finish() []conversation.ToolCall {
	indices := make([]int64, 0, len(a.calls))
	for index, call := range a.calls {
		if call.id == "" {
			continue
		}
		indices = append(indices, index)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	out := make([]conversation.ToolCall, 0, len(indices))
	for _, index := range indices {
		call := a.calls[index]
		out = append(out, conversation.ToolCall{
			ID:   call.id,
			Name: call.name,
			Args: decodeToolArgs(call.args.String()),
		})
	}
	return out
}

// decodeToolArgs parses an accumulated argument document. A document that is
// not a JSON object is preserved raw so schema validation can report it
// instead of the stream loop.
func decodeToolArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"_raw": raw}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args
}
