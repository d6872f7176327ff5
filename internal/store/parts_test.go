package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

func TestPartRoundTrip(t *testing.T) {
	parts := []Part{
		UserPromptPart{Content: "hello"},
		SystemPromptPart{Content: "summary of earlier turns"},
		TextPart{Content: "working on it", ID: "txt_1"},
		ThinkingPart{Content: "first check the file", Provider: "anthropic"},
		ToolCallPart{ToolName: "read_file", Args: map[string]any{"file_path": "a.txt"}, ToolCallID: "tc_1"},
		ToolReturnPart{ToolName: "read_file", ToolCallID: "tc_1", Content: strptr("contents")},
		ToolReturnPart{ToolName: "stop_process", ToolCallID: "tc_2", Content: nil},
	}

	for _, p := range parts {
		data, err := MarshalPart(p)
		if err != nil {
			t.Fatalf("MarshalPart(%s): %v", p.Kind(), err)
		}
		got, err := UnmarshalPart(data)
		if err != nil {
			t.Fatalf("UnmarshalPart(%s): %v", data, err)
		}
		if got.Kind() != p.Kind() {
			t.Errorf("kind mismatch: %s != %s", got.Kind(), p.Kind())
		}
		again, err := MarshalPart(got)
		if err != nil {
			t.Fatal(err)
		}
		if string(again) != string(data) {
			t.Errorf("not stable: %s vs %s", again, data)
		}
	}
}

func TestUnmarshalPartRejectsUnknownKind(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown kind", `{"part_kind":"retry-prompt","content":"x"}`},
		{"missing kind", `{"content":"x"}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := UnmarshalPart([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToolReturnNullContent(t *testing.T) {
	data, err := MarshalPart(ToolReturnPart{ToolName: "x", ToolCallID: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"content":null`) {
		t.Errorf("absent content must serialize as explicit null, got %s", data)
	}
}

func TestEncodePartsSkipsPrompts(t *testing.T) {
	parts := []Part{
		UserPromptPart{Content: "hi"},
		SystemPromptPart{Content: "sys"},
		TextPart{Content: "answer"},
		ToolCallPart{ToolName: "f", ToolCallID: "1", Args: map[string]any{}},
	}
	got := EncodeParts(parts)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, p := range got {
		if p.Kind() == KindUserPrompt || p.Kind() == KindSystemPrompt {
			t.Errorf("prompt part leaked into payload: %s", p.Kind())
		}
	}
}

func TestPartsPayloadRoundTrip(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	payload := PartsPayload{
		Parts: []Part{
			TextPart{Content: "done"},
			ToolCallPart{ToolName: "read_file", Args: map[string]any{"file_path": "x"}, ToolCallID: "a"},
			ToolReturnPart{ToolName: "read_file", ToolCallID: "a", Content: strptr("x contents")},
		},
		ModelName: "claude-sonnet-4-5-20250929",
		Timestamp: &ts,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	var got PartsPayload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Parts) != 3 {
		t.Fatalf("parts = %d", len(got.Parts))
	}
	if got.ModelName != payload.ModelName {
		t.Errorf("model = %q", got.ModelName)
	}
	if got.Timestamp == nil || !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v", got.Timestamp)
	}

	// encode(decode(x)) == x on the wire
	again, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(data) {
		t.Errorf("payload not stable:\n%s\n%s", data, again)
	}
}

func TestNormalizeToolContent(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *string
	}{
		{"nil", nil, nil},
		{"string", "plain", strptr("plain")},
		{"list", []string{"a", "b"}, strptr(`["a","b"]`)},
		{"map", map[string]int{"n": 1}, strptr(`{"n":1}`)},
		{"number", 42, strptr("42")},
		{"bool", true, strptr("true")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeToolContent(tt.in)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Errorf("got %v, want %v", got, tt.want)
			case *got != *tt.want:
				t.Errorf("got %q, want %q", *got, *tt.want)
			}
		})
	}
}
