// Package protocol defines the JSON wire contract of the messaging duplex
// channel. Clients (web UI, the chat command) decode these envelopes; the
// server is the only producer. Every envelope carries "type" and, when known,
// "conversation_id".
package protocol

import (
	"encoding/json"
	"time"
)

// Envelope type names pushed from server to client.
const (
	EventConversationCreated = "conversation_created"
	EventMessage             = "message"
	EventMessagePart         = "message_part"
	EventNodeAdded           = "node_added"
	EventTextChunk           = "text_chunk"
	EventToolStart           = "tool_start"
	EventToolComplete        = "tool_complete"
	EventMessageComplete     = "message_complete"
	EventError               = "error"
)

// Tool completion statuses.
const (
	ToolStatusSuccess   = "success"
	ToolStatusError     = "error"
	ToolStatusCancelled = "cancelled"
)

// Frame is the single client→server message shape.
type Frame struct {
	Content        string `json:"content"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}

// ConversationCreated announces the lazily created conversation for a first
// turn that carried no conversation_id.
type ConversationCreated struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
}

// Message echoes a persisted message (the just-saved user prompt).
type Message struct {
	Type           string            `json:"type"`
	ID             int64             `json:"id"`
	Parts          []json.RawMessage `json:"parts"`
	Role           string            `json:"role"`
	ConversationID int64             `json:"conversation_id"`
	CreatedAt      time.Time         `json:"created_at"`
}

// MessagePart streams one part of an in-progress agent message.
type MessagePart struct {
	Type           string          `json:"type"`
	MessageID      int64           `json:"message_id"`
	Part           json.RawMessage `json:"part"`
	Role           string          `json:"role"`
	ConversationID int64           `json:"conversation_id"`
}

// Node bundles the non-tool parts produced at a single agent step.
type Node struct {
	ID        string            `json:"id"` // "step-N"
	Parts     []json.RawMessage `json:"parts"`
	ModelName string            `json:"model_name,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
}

// NodeAdded streams one completed agent step.
type NodeAdded struct {
	Type           string `json:"type"`
	MessageID      int64  `json:"message_id"`
	Node           Node   `json:"node"`
	ConversationID int64  `json:"conversation_id"`
}

// TextChunk is reserved for future sub-part streaming; the server currently
// streams at part granularity only.
type TextChunk struct {
	Type           string `json:"type"`
	MessageID      int64  `json:"message_id"`
	Chunk          string `json:"chunk"`
	Role           string `json:"role"`
	ConversationID int64  `json:"conversation_id"`
}

// ToolStart announces a tool invocation.
type ToolStart struct {
	Type           string         `json:"type"`
	MessageID      int64          `json:"message_id"`
	ToolName       string         `json:"tool_name"`
	Args           map[string]any `json:"args"`
	ConversationID int64          `json:"conversation_id"`
}

// ToolComplete closes a ToolStart. Status is one of the ToolStatus constants;
// ErrorMessage is set when Status != "success".
type ToolComplete struct {
	Type           string `json:"type"`
	MessageID      int64  `json:"message_id"`
	ToolName       string `json:"tool_name"`
	Result         string `json:"result"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ConversationID int64  `json:"conversation_id"`
}

// MessageComplete finalizes an agent message after the turn ends.
type MessageComplete struct {
	Type           string     `json:"type"`
	ID             int64      `json:"id"`
	Role           string     `json:"role"`
	ModelName      string     `json:"model_name,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	ConversationID int64      `json:"conversation_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Error reports a turn-level failure. ConversationID is zero when the error
// occurred before a conversation was resolved.
type Error struct {
	Type           string `json:"type"`
	Error          string `json:"error"`
	ConversationID int64  `json:"conversation_id,omitempty"`
}
