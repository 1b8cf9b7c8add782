package provider

import (
	"encoding/json"
	"fmt"

	"github.com/porkytheblack/glove-sub003/pkg/conversation"
)

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// missingResultText fills in for a tool_use id that has no recorded result.
const missingResultText = "No result available"

// continuationText opens the wire turn list when the visible history starts
// with an assistant turn, which is the normal shape right after a compaction
// boundary. Anthropic rejects requests whose first message is not user-role.
const continuationText = "Continuing an earlier conversation. The assistant message that follows summarizes it."

// wireBlock is one content block of a wire turn. Exactly one field is set.
type wireBlock struct {
	text       string
	toolUse    *conversation.ToolCall
	toolResult *conversation.ToolResult
}

// wireTurn is a provider-neutral conversation turn. Both adapters translate
// wire turns into their SDK's message shape, so the repair rules below only
// have to exist once.
type wireTurn struct {
	role   string
	blocks []wireBlock
}

// buildWireTurns converts stored messages into a sequence of wire turns that
// any provider will accept:
//
//   - consecutive same-role turns are merged into one
//   - duplicate tool_result blocks for the same call id keep the first
//   - tool_result blocks with no matching tool_use are dropped
//   - every tool_use id is guaranteed a result; missing ones are synthesized
//     into the user turn that follows the calling assistant turn
//   - the first turn is always user-role; a synthetic continuation turn is
//     prepended when the history opens with an assistant turn
func buildWireTurns(msgs []conversation.Message) []wireTurn {
	turns := make([]wireTurn, 0, len(msgs))

	for _, msg := range msgs {
		role := roleAssistant
		if msg.Sender == conversation.SenderUser {
			role = roleUser
		}

		var blocks []wireBlock
		for i := range msg.ToolResults {
			blocks = append(blocks, wireBlock{toolResult: &msg.ToolResults[i]})
		}
		if msg.Text != "" {
			blocks = append(blocks, wireBlock{text: msg.Text})
		}
		for i := range msg.ToolCalls {
			blocks = append(blocks, wireBlock{toolUse: &msg.ToolCalls[i]})
		}
		if len(blocks) == 0 {
			continue
		}

		turns = append(turns, wireTurn{role: role, blocks: blocks})
	}

	repaired := repairToolPairing(mergeAdjacent(turns))
	if len(repaired) > 0 && repaired[0].role == roleAssistant {
		opener := wireTurn{role: roleUser, blocks: []wireBlock{{text: continuationText}}}
		repaired = append([]wireTurn{opener}, repaired...)
	}
	return repaired
}

// mergeAdjacent folds consecutive turns with the same role into one turn.
func mergeAdjacent(turns []wireTurn) []wireTurn {
	merged := make([]wireTurn, 0, len(turns))
	for _, turn := range turns {
		if n := len(merged); n > 0 && merged[n-1].role == turn.role {
			merged[n-1].blocks = append(merged[n-1].blocks, turn.blocks...)
			continue
		}
		merged = append(merged, turn)
	}
	return merged
}

// repairToolPairing enforces the tool_use/tool_result pairing that provider
// APIs reject violations of.
func repairToolPairing(turns []wireTurn) []wireTurn {
	useSeen := map[string]bool{}
	for _, turn := range turns {
		for _, block := range turn.blocks {
			if block.toolUse != nil {
				useSeen[block.toolUse.ID] = true
			}
		}
	}

	// Drop orphaned results and duplicates (first one wins).
	resultSeen := map[string]bool{}
	filtered := make([]wireTurn, 0, len(turns))
	for _, turn := range turns {
		kept := make([]wireBlock, 0, len(turn.blocks))
		for _, block := range turn.blocks {
			if block.toolResult != nil {
				id := block.toolResult.CallID
				if !useSeen[id] || resultSeen[id] {
					continue
				}
				resultSeen[id] = true
			}
			kept = append(kept, block)
		}
		if len(kept) == 0 {
			continue
		}
		turn.blocks = kept
		filtered = append(filtered, turn)
	}
	filtered = mergeAdjacent(filtered)

	// Synthesize results for tool_use ids that never got one. The block goes
	// at the front of the following user turn so results precede user text.
	out := make([]wireTurn, 0, len(filtered)+1)
	for i := 0; i < len(filtered); i++ {
		turn := filtered[i]
		out = append(out, turn)
		if turn.role != roleAssistant {
			continue
		}

		var missing []wireBlock
		for _, block := range turn.blocks {
			if block.toolUse == nil || resultSeen[block.toolUse.ID] {
				continue
			}
			resultSeen[block.toolUse.ID] = true
			synth := conversation.ErrorResult(block.toolUse.ID, missingResultText)
			missing = append(missing, wireBlock{toolResult: &synth})
		}
		if len(missing) == 0 {
			continue
		}

		if i+1 < len(filtered) && filtered[i+1].role == roleUser {
			filtered[i+1].blocks = append(missing, filtered[i+1].blocks...)
		} else {
			out = append(out, wireTurn{role: roleUser, blocks: missing})
		}
	}
	return out
}

// resultContent renders a tool result as wire text plus an is-error flag.
func resultContent(result *conversation.ToolResult) (string, bool) {
	if result.Status == conversation.StatusError {
		msg := result.Message
		if msg == "" {
			msg = "tool execution failed"
		}
		return msg, true
	}

	switch data := result.Data.(type) {
	case nil:
		return "", false
	case string:
		return data, false
	default:
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Sprintf("%v", data), false
		}
		return string(encoded), false
	}
}
