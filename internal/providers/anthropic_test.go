package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatParsesTextAndToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["system"] != "you are helpful" {
			t.Errorf("system = %v", body["system"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "claude-sonnet-4-5-20250929",
			"content": [
				{"type": "thinking", "thinking": "let me check"},
				{"type": "text", "text": "Reading the file."},
				{"type": "tool_use", "id": "toolu_01", "name": "read_file", "input": {"file_path": "a.txt"}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 10, "output_tokens": 20}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		System:   "you are helpful",
		Messages: []Message{{Role: "user", Content: "read a.txt"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != "Reading the file." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Thinking != "let me check" {
		t.Errorf("Thinking = %q", resp.Thinking)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_01" || tc.Name != "read_file" {
		t.Errorf("ToolCall = %+v", tc)
	}
	if tc.Arguments["file_path"] != "a.txt" {
		t.Errorf("Arguments = %v", tc.Arguments)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 30 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
}

func TestChatToolResultBecomesUserTurn(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"content":[{"type":"text","text":"done"}],"stop_reason":"end_turn","usage":{}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "go"},
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "t1", Name: "file_exists", Arguments: map[string]any{"file_path": "x"}}}},
			{Role: "tool", ToolCallID: "t1", Content: "true"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	messages := captured["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("messages = %d", len(messages))
	}
	last := messages[2].(map[string]any)
	if last["role"] != "user" {
		t.Errorf("tool result role = %v", last["role"])
	}
	block := last["content"].([]any)[0].(map[string]any)
	if block["type"] != "tool_result" || block["tool_use_id"] != "t1" {
		t.Errorf("tool result block = %v", block)
	}
}

func TestChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("k", WithAnthropicBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error type %T", err)
	}
	if httpErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d", httpErr.Status)
	}
}
