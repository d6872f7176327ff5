// Package agent drives one conversation turn end to end: history decoding
// and compaction, the step loop against the model, tool dispatch and the
// persisted turn record.
package agent

import (
	"encoding/json"

	"github.com/projectx/agentx/internal/store"
)

// Message kinds in the agent's working history.
const (
	KindRequest  = "request"  // user or system input
	KindResponse = "response" // model output
)

// HistoryMessage is one agent-graph message: an ordered part list with a
// direction.
type HistoryMessage struct {
	Kind  string
	Parts []store.Part
}

// DecodeHistory rebuilds the agent's working history from persisted rows.
// AGENT rows are repaired on the way in: a tool-call without a matching
// tool-return (a crashed turn) is dropped, and when nothing survives the row
// degrades to a single text part carrying its content.
func DecodeHistory(rows []store.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(rows))
	for _, row := range rows {
		switch row.Role {
		case store.RoleUser:
			out = append(out, HistoryMessage{
				Kind:  KindRequest,
				Parts: []store.Part{store.UserPromptPart{Content: row.Content}},
			})

		case store.RoleAgent:
			if row.Parts == nil || len(row.Parts.Parts) == 0 {
				out = append(out, HistoryMessage{
					Kind:  KindResponse,
					Parts: []store.Part{store.TextPart{Content: row.Content}},
				})
				continue
			}
			parts := repairParts(row.Parts.Parts)
			if len(parts) == 0 {
				parts = []store.Part{store.TextPart{Content: row.Content}}
			}
			out = append(out, HistoryMessage{Kind: KindResponse, Parts: parts})
		}
	}
	return out
}

// repairParts drops tool-calls whose id never got a tool-return.
func repairParts(parts []store.Part) []store.Part {
	returned := map[string]bool{}
	for _, p := range parts {
		if r, ok := p.(store.ToolReturnPart); ok {
			returned[r.ToolCallID] = true
		}
	}

	out := make([]store.Part, 0, len(parts))
	for _, p := range parts {
		if c, ok := p.(store.ToolCallPart); ok && !returned[c.ToolCallID] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// EstimateTokens approximates the token footprint of a history as the summed
// serialized text of every part divided by four.
func EstimateTokens(history []HistoryMessage) int {
	chars := 0
	for _, msg := range history {
		for _, part := range msg.Parts {
			chars += partFootprint(part)
		}
	}
	return chars / 4
}

func partFootprint(part store.Part) int {
	switch p := part.(type) {
	case store.UserPromptPart:
		return len(p.Content)
	case store.SystemPromptPart:
		return len(p.Content)
	case store.TextPart:
		return len(p.Content)
	case store.ThinkingPart:
		return len(p.Content)
	case store.ToolCallPart:
		n := len(p.ToolName)
		if data, err := json.Marshal(p.Args); err == nil {
			n += len(data)
		}
		return n
	case store.ToolReturnPart:
		n := len(p.ToolName)
		if p.Content != nil {
			n += len(*p.Content)
		}
		return n
	}
	return 0
}
