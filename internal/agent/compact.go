package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/projectx/agentx/internal/providers"
	"github.com/projectx/agentx/internal/store"
)

const (
	// compactFlattenWindow is how many trailing messages feed the summarizer.
	compactFlattenWindow = 50
	// compactKeepVerbatim is how many trailing messages survive unchanged.
	compactKeepVerbatim = 5
)

const summarizerPrompt = `You summarize a long conversation between a user and a coding agent.
Produce a recap of at most 500 tokens covering: the topics discussed, the
decisions made, the current state of the work, and any open items. Write
plain prose, no preamble.`

// Compactor replaces an oversize history with a summary plus a short
// verbatim tail. The transform is pure: it never touches the store.
type Compactor struct {
	Provider  providers.Provider
	Threshold int
}

// Apply returns the history unchanged when it is under the threshold,
// otherwise the compacted form. The input slice is never mutated.
func (c *Compactor) Apply(ctx context.Context, history []HistoryMessage) ([]HistoryMessage, error) {
	if EstimateTokens(history) < c.Threshold {
		return history, nil
	}

	window := history
	if len(window) > compactFlattenWindow {
		window = window[len(window)-compactFlattenWindow:]
	}

	resp, err := c.Provider.Chat(ctx, providers.ChatRequest{
		System: summarizerPrompt,
		Messages: []providers.Message{
			{Role: "user", Content: Flatten(window)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("summarize history: %w", err)
	}

	tail := history
	if len(tail) > compactKeepVerbatim {
		tail = tail[len(tail)-compactKeepVerbatim:]
	}

	out := make([]HistoryMessage, 0, len(tail)+1)
	out = append(out, HistoryMessage{
		Kind: KindRequest,
		Parts: []store.Part{store.SystemPromptPart{
			Content: "Summary of the conversation so far:\n\n" + resp.Content,
		}},
	})
	out = append(out, tail...)
	return out, nil
}

// Flatten renders messages as plain text for the summarizer.
func Flatten(history []HistoryMessage) string {
	var b strings.Builder
	for _, msg := range history {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case store.UserPromptPart:
				fmt.Fprintf(&b, "User: %s\n", p.Content)
			case store.SystemPromptPart:
				fmt.Fprintf(&b, "System: %s\n", p.Content)
			case store.TextPart:
				fmt.Fprintf(&b, "Agent: %s\n", p.Content)
			case store.ToolCallPart:
				fmt.Fprintf(&b, "Tool called: %s\n", p.ToolName)
			}
		}
	}
	return b.String()
}
