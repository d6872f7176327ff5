package agent

import (
	"context"
	"testing"

	"github.com/projectx/agentx/internal/providers"
	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/internal/tools"
)

type echoTool struct{}

func (echoTool) Name() string               { return "echo" }
func (echoTool) Description() string        { return "echo back the input" }
func (echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (echoTool) Execute(ctx context.Context, turn *tools.Turn, args map[string]any) *tools.Result {
	if fail, _ := args["fail"].(bool); fail {
		return tools.ErrorResult("echo failed")
	}
	return tools.NewResult(args["text"])
}

func newRunner(p providers.Provider) *Runner {
	return &Runner{
		Provider: p,
		Registry: tools.NewRegistry(echoTool{}),
		System:   "base system",
	}
}

func testTurn() *tools.Turn {
	return &tools.Turn{Events: &recordingEvents{}, ConversationID: 1, AgentMessageID: 2}
}

func TestStepperToolRound(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			Content:      "let me check",
			ToolCalls:    []providers.ToolCall{{ID: "t1", Name: "echo", Arguments: map[string]any{"text": "ping"}}},
			FinishReason: "tool_calls",
		},
		{Content: "all done", FinishReason: "stop", Model: "m1"},
	}}
	stepper := newRunner(p).NewTurnStepper(nil, "go")

	turn := testTurn()
	res, err := stepper.Step(context.Background(), turn)
	if err != nil {
		t.Fatal(err)
	}
	if res.Done {
		t.Error("tool round must not finish the turn")
	}
	kinds := make([]string, len(res.Parts))
	for i, part := range res.Parts {
		kinds[i] = part.Kind()
	}
	want := []string{store.KindText, store.KindToolCall, store.KindToolReturn}
	if len(kinds) != 3 || kinds[0] != want[0] || kinds[1] != want[1] || kinds[2] != want[2] {
		t.Errorf("part kinds = %v, want %v", kinds, want)
	}
	ret := res.Parts[2].(store.ToolReturnPart)
	if ret.ToolCallID != "t1" || ret.Content == nil || *ret.Content != "ping" {
		t.Errorf("tool return = %+v", ret)
	}

	res, err = stepper.Step(context.Background(), turn)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Done || res.Output != "all done" {
		t.Errorf("final = %+v", res)
	}
	if res.ModelName != "m1" {
		t.Errorf("model = %q", res.ModelName)
	}

	// The second request must carry the tool exchange.
	second := p.requests[1]
	var sawToolResult bool
	for _, m := range second.Messages {
		if m.Role == "tool" && m.ToolCallID == "t1" && m.Content == "ping" {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Errorf("tool result missing from follow-up request: %+v", second.Messages)
	}
}

func TestStepperCountsToolErrors(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "a", Name: "echo", Arguments: map[string]any{"fail": true}},
				{ID: "b", Name: "echo", Arguments: map[string]any{"text": "ok"}},
			},
			FinishReason: "tool_calls",
		},
	}}
	stepper := newRunner(p).NewTurnStepper(nil, "go")

	res, err := stepper.Step(context.Background(), testTurn())
	if err != nil {
		t.Fatal(err)
	}
	if res.ToolErrors != 1 {
		t.Errorf("tool errors = %d, want 1", res.ToolErrors)
	}
}

func TestStepperLiftsSystemPromptParts(t *testing.T) {
	p := &scriptedProvider{}
	history := []HistoryMessage{
		{Kind: KindRequest, Parts: []store.Part{store.SystemPromptPart{Content: "earlier summary"}}},
		{Kind: KindRequest, Parts: []store.Part{store.UserPromptPart{Content: "old question"}}},
		{Kind: KindResponse, Parts: []store.Part{store.TextPart{Content: "old answer"}}},
	}
	stepper := newRunner(p).NewTurnStepper(history, "new question")

	if _, err := stepper.Step(context.Background(), testTurn()); err != nil {
		t.Fatal(err)
	}
	req := p.requests[0]
	if req.System != "base system\n\nearlier summary" {
		t.Errorf("system = %q", req.System)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.Messages[0].Role != "user" || req.Messages[1].Role != "assistant" {
		t.Errorf("roles = %s, %s", req.Messages[0].Role, req.Messages[1].Role)
	}
	if last := req.Messages[2]; last.Role != "user" || last.Content != "new question" {
		t.Errorf("prompt message = %+v", last)
	}
}
