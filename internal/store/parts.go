package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Part kinds. The persisted payload and the streamed envelopes share this
// tagged representation; decoding rejects kinds it does not know.
const (
	KindUserPrompt   = "user-prompt"
	KindSystemPrompt = "system-prompt"
	KindText         = "text"
	KindThinking     = "thinking"
	KindToolCall     = "tool-call"
	KindToolReturn   = "tool-return"
)

// Part is one typed fragment of a message. The set of implementations is
// closed: UserPromptPart, SystemPromptPart, TextPart, ThinkingPart,
// ToolCallPart and ToolReturnPart.
type Part interface {
	Kind() string
}

type UserPromptPart struct {
	Content string `json:"content"`
}

func (UserPromptPart) Kind() string { return KindUserPrompt }

func (p UserPromptPart) MarshalJSON() ([]byte, error) {
	type alias UserPromptPart
	return json.Marshal(struct {
		PartKind string `json:"part_kind"`
		alias
	}{KindUserPrompt, alias(p)})
}

type SystemPromptPart struct {
	Content string `json:"content"`
}

func (SystemPromptPart) Kind() string { return KindSystemPrompt }

func (p SystemPromptPart) MarshalJSON() ([]byte, error) {
	type alias SystemPromptPart
	return json.Marshal(struct {
		PartKind string `json:"part_kind"`
		alias
	}{KindSystemPrompt, alias(p)})
}

type TextPart struct {
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
}

func (TextPart) Kind() string { return KindText }

func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	return json.Marshal(struct {
		PartKind string `json:"part_kind"`
		alias
	}{KindText, alias(p)})
}

type ThinkingPart struct {
	Content   string `json:"content"`
	Provider  string `json:"provider_name,omitempty"`
	Signature string `json:"signature,omitempty"`
	ID        string `json:"id,omitempty"`
}

func (ThinkingPart) Kind() string { return KindThinking }

func (p ThinkingPart) MarshalJSON() ([]byte, error) {
	type alias ThinkingPart
	return json.Marshal(struct {
		PartKind string `json:"part_kind"`
		alias
	}{KindThinking, alias(p)})
}

type ToolCallPart struct {
	ToolName   string         `json:"tool_name"`
	Args       map[string]any `json:"args"`
	ToolCallID string         `json:"tool_call_id"`
}

func (ToolCallPart) Kind() string { return KindToolCall }

func (p ToolCallPart) MarshalJSON() ([]byte, error) {
	type alias ToolCallPart
	return json.Marshal(struct {
		PartKind string `json:"part_kind"`
		alias
	}{KindToolCall, alias(p)})
}

// ToolReturnPart carries the result of a tool call. Content is a pointer so
// an absent result serializes as an explicit null rather than being omitted.
type ToolReturnPart struct {
	ToolName   string  `json:"tool_name"`
	ToolCallID string  `json:"tool_call_id"`
	Content    *string `json:"content"`
}

func (ToolReturnPart) Kind() string { return KindToolReturn }

func (p ToolReturnPart) MarshalJSON() ([]byte, error) {
	type alias ToolReturnPart
	return json.Marshal(struct {
		PartKind string `json:"part_kind"`
		alias
	}{KindToolReturn, alias(p)})
}

// MarshalPart serializes a part with its part_kind tag.
func MarshalPart(p Part) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s part: %w", p.Kind(), err)
	}
	return data, nil
}

// UnmarshalPart decodes a tagged part. Unknown or missing part_kind values
// are an error, never silently dropped.
func UnmarshalPart(data []byte) (Part, error) {
	var probe struct {
		PartKind string `json:"part_kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode part: %w", err)
	}

	switch probe.PartKind {
	case KindUserPrompt:
		var p UserPromptPart
		return p, json.Unmarshal(data, &p)
	case KindSystemPrompt:
		var p SystemPromptPart
		return p, json.Unmarshal(data, &p)
	case KindText:
		var p TextPart
		return p, json.Unmarshal(data, &p)
	case KindThinking:
		var p ThinkingPart
		return p, json.Unmarshal(data, &p)
	case KindToolCall:
		var p ToolCallPart
		return p, json.Unmarshal(data, &p)
	case KindToolReturn:
		var p ToolReturnPart
		return p, json.Unmarshal(data, &p)
	case "":
		return nil, fmt.Errorf("part is missing part_kind")
	default:
		return nil, fmt.Errorf("unknown part_kind %q", probe.PartKind)
	}
}

// PartsPayload is the structured record persisted in messages.parts.
type PartsPayload struct {
	Parts     []Part
	ModelName string
	Timestamp *time.Time
}

func (p PartsPayload) MarshalJSON() ([]byte, error) {
	raw := make([]json.RawMessage, 0, len(p.Parts))
	for _, part := range p.Parts {
		data, err := MarshalPart(part)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(struct {
		Parts     []json.RawMessage `json:"parts"`
		ModelName string            `json:"model_name,omitempty"`
		Timestamp *time.Time        `json:"timestamp,omitempty"`
	}{raw, p.ModelName, p.Timestamp})
}

func (p *PartsPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		Parts     []json.RawMessage `json:"parts"`
		ModelName string            `json:"model_name"`
		Timestamp *time.Time        `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode parts payload: %w", err)
	}
	p.Parts = make([]Part, 0, len(raw.Parts))
	for _, r := range raw.Parts {
		part, err := UnmarshalPart(r)
		if err != nil {
			return err
		}
		p.Parts = append(p.Parts, part)
	}
	p.ModelName = raw.ModelName
	p.Timestamp = raw.Timestamp
	return nil
}

// EncodeParts filters a part list down to what is persisted: user-prompt and
// system-prompt parts never enter the stored payload.
func EncodeParts(parts []Part) []Part {
	out := make([]Part, 0, len(parts))
	for _, p := range parts {
		switch p.Kind() {
		case KindUserPrompt, KindSystemPrompt:
			continue
		}
		out = append(out, p)
	}
	return out
}

// NormalizeToolContent converts an arbitrary tool result value to the stored
// string form: nil stays nil, strings pass through, lists and mappings become
// canonical JSON, anything else uses the default rendering.
func NormalizeToolContent(v any) *string {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		if data, err := json.Marshal(v); err == nil {
			s := string(data)
			return &s
		}
	}
	s := fmt.Sprintf("%v", v)
	return &s
}
