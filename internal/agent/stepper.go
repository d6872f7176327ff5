package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/projectx/agentx/internal/providers"
	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/internal/tools"
)

// StepResult is what one agent step produced.
type StepResult struct {
	// Parts in emission order: thinking, text, tool-calls, tool-returns.
	Parts []store.Part

	ModelName string
	Timestamp *time.Time

	// ToolErrors counts failed tool dispatches within this step.
	ToolErrors int

	// Done is set when the model finished without requesting tools; Output
	// is then the turn's final text.
	Done   bool
	Output string
}

// Stepper advances the agent graph one step at a time. Implementations keep
// their own working state between steps; a Stepper serves exactly one turn.
type Stepper interface {
	Step(ctx context.Context, turn *tools.Turn) (StepResult, error)
}

// StepperFactory builds the per-turn stepper from the decoded history and
// the new user prompt.
type StepperFactory interface {
	NewTurnStepper(history []HistoryMessage, prompt string) Stepper
}

// Runner is the production StepperFactory: a provider-backed agent over the
// registered tool surface.
type Runner struct {
	Provider providers.Provider
	Registry *tools.Registry
	System   string
	Model    string
}

func (r *Runner) NewTurnStepper(history []HistoryMessage, prompt string) Stepper {
	system, messages := toProviderMessages(history)
	if system != "" {
		system = r.System + "\n\n" + system
	} else {
		system = r.System
	}
	messages = append(messages, providers.Message{Role: "user", Content: prompt})

	return &providerStepper{
		provider: r.Provider,
		registry: r.Registry,
		system:   system,
		model:    r.Model,
		messages: messages,
	}
}

type providerStepper struct {
	provider providers.Provider
	registry *tools.Registry
	system   string
	model    string
	messages []providers.Message
}

// Step sends the working conversation to the model, dispatches any requested
// tools in order, and folds the exchange back into the working state.
func (s *providerStepper) Step(ctx context.Context, turn *tools.Turn) (StepResult, error) {
	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		System:   s.system,
		Messages: s.messages,
		Tools:    s.registry.Definitions(),
		Model:    s.model,
	})
	if err != nil {
		return StepResult{}, err
	}

	now := time.Now().UTC()
	result := StepResult{ModelName: resp.Model, Timestamp: &now}
	if result.ModelName == "" {
		result.ModelName = s.provider.DefaultModel()
	}

	if resp.Thinking != "" {
		result.Parts = append(result.Parts, store.ThinkingPart{
			Content:  resp.Thinking,
			Provider: s.provider.Name(),
		})
	}
	if resp.Content != "" {
		result.Parts = append(result.Parts, store.TextPart{Content: resp.Content})
	}

	if len(resp.ToolCalls) == 0 {
		result.Done = true
		result.Output = resp.Content
		s.messages = append(s.messages, providers.Message{Role: "assistant", Content: resp.Content})
		return result, nil
	}

	// Tool round: record the calls, dispatch serially, feed results back.
	calls := make([]providers.ToolCall, len(resp.ToolCalls))
	copy(calls, resp.ToolCalls)
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = uuid.NewString()
		}
		result.Parts = append(result.Parts, store.ToolCallPart{
			ToolName:   calls[i].Name,
			Args:       calls[i].Arguments,
			ToolCallID: calls[i].ID,
		})
	}
	s.messages = append(s.messages, providers.Message{
		Role:      "assistant",
		Content:   resp.Content,
		ToolCalls: calls,
	})

	for _, call := range calls {
		res := s.registry.Dispatch(ctx, turn, call)
		if res.IsError {
			result.ToolErrors++
		}
		content := store.NormalizeToolContent(res.Value)
		result.Parts = append(result.Parts, store.ToolReturnPart{
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Content:    content,
		})
		text := ""
		if content != nil {
			text = *content
		}
		s.messages = append(s.messages, providers.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    text,
		})
	}

	return result, nil
}

// toProviderMessages flattens agent history into the provider's wire shape.
// system-prompt parts (compaction summaries) are lifted into the system
// string; thinking parts are not replayed.
func toProviderMessages(history []HistoryMessage) (system string, messages []providers.Message) {
	var systems []string
	for _, msg := range history {
		var assistant providers.Message
		assistant.Role = "assistant"
		var returns []providers.Message

		for _, part := range msg.Parts {
			switch p := part.(type) {
			case store.UserPromptPart:
				messages = append(messages, providers.Message{Role: "user", Content: p.Content})
			case store.SystemPromptPart:
				systems = append(systems, p.Content)
			case store.TextPart:
				if assistant.Content != "" {
					assistant.Content += "\n"
				}
				assistant.Content += p.Content
			case store.ToolCallPart:
				assistant.ToolCalls = append(assistant.ToolCalls, providers.ToolCall{
					ID:        p.ToolCallID,
					Name:      p.ToolName,
					Arguments: p.Args,
				})
			case store.ToolReturnPart:
				content := ""
				if p.Content != nil {
					content = *p.Content
				}
				returns = append(returns, providers.Message{
					Role:       "tool",
					ToolCallID: p.ToolCallID,
					Content:    content,
				})
			}
		}

		if msg.Kind == KindResponse && (assistant.Content != "" || len(assistant.ToolCalls) > 0) {
			messages = append(messages, assistant)
		}
		messages = append(messages, returns...)
	}

	if len(systems) > 0 {
		system = systems[0]
		for _, s := range systems[1:] {
			system += "\n\n" + s
		}
	}
	return system, messages
}
