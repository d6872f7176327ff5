package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/projectx/agentx/internal/agent"
	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/pkg/protocol"
)

// Client owns one websocket connection. It is the orchestrator's event sink:
// every envelope of a turn is serialized and written here, under writeMu so
// concurrent emitters never interleave partial frames.
type Client struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	limiter *rate.Limiter // nil when rate limiting is disabled
	session *store.Session
	manager *Manager
}

func NewClient(conn *websocket.Conn, session *store.Session, limiter *rate.Limiter, manager *Manager) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		limiter: limiter,
		session: session,
		manager: manager,
	}
}

// ID returns the connection's identity within the manager.
func (c *Client) ID() string { return c.id }

// Close releases the store session and the socket.
func (c *Client) Close() {
	c.session.Close()
	c.conn.Close()
}

// Run reads frames until the peer disconnects or a turn fails fatally.
// Malformed frames and rate-limited frames produce an error envelope and the
// connection stays open; a fatal turn error tears the connection down after
// the orchestrator has emitted its error envelope.
func (c *Client) Run(ctx context.Context, orch *agent.Orchestrator) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "client", c.id, "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.EmitError(0, "Rate limit exceeded")
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.EmitError(0, "Invalid message format")
			continue
		}

		if err := orch.HandleFrame(ctx, frame); err != nil {
			if errors.Is(err, agent.ErrTurnFatal) {
				slog.Warn("closing connection after fatal turn", "client", c.id)
			} else {
				slog.Error("turn error", "client", c.id, "error", err)
			}
			return
		}
	}
}

// send writes one envelope atomically.
func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) EmitConversationCreated(conversationID int64) error {
	c.manager.Bind(c.id, conversationID)
	return c.send(protocol.ConversationCreated{
		Type:           protocol.EventConversationCreated,
		ConversationID: conversationID,
	})
}

func (c *Client) EmitMessage(msg *store.Message) error {
	c.manager.Bind(c.id, msg.ConversationID)
	parts, err := messageParts(msg)
	if err != nil {
		return err
	}
	return c.send(protocol.Message{
		Type:           protocol.EventMessage,
		ID:             msg.ID,
		Parts:          parts,
		Role:           msg.Role,
		ConversationID: msg.ConversationID,
		CreatedAt:      msg.CreatedAt,
	})
}

func (c *Client) EmitNodeAdded(conversationID, messageID int64, node protocol.Node) error {
	return c.send(protocol.NodeAdded{
		Type:           protocol.EventNodeAdded,
		MessageID:      messageID,
		Node:           node,
		ConversationID: conversationID,
	})
}

func (c *Client) EmitToolStart(conversationID, messageID int64, toolName string, args map[string]any) error {
	return c.send(protocol.ToolStart{
		Type:           protocol.EventToolStart,
		MessageID:      messageID,
		ToolName:       toolName,
		Args:           args,
		ConversationID: conversationID,
	})
}

func (c *Client) EmitToolComplete(conversationID, messageID int64, toolName, result, status, errorMessage string) error {
	return c.send(protocol.ToolComplete{
		Type:           protocol.EventToolComplete,
		MessageID:      messageID,
		ToolName:       toolName,
		Result:         result,
		Status:         status,
		ErrorMessage:   errorMessage,
		ConversationID: conversationID,
	})
}

func (c *Client) EmitMessageComplete(conversationID int64, msg *store.Message, modelName string, timestamp *time.Time) error {
	return c.send(protocol.MessageComplete{
		Type:           protocol.EventMessageComplete,
		ID:             msg.ID,
		Role:           msg.Role,
		ModelName:      modelName,
		Timestamp:      timestamp,
		ConversationID: conversationID,
		CreatedAt:      msg.CreatedAt,
	})
}

func (c *Client) EmitError(conversationID int64, message string) error {
	return c.send(protocol.Error{
		Type:           protocol.EventError,
		Error:          message,
		ConversationID: conversationID,
	})
}

// messageParts renders a persisted message for the wire. USER rows carry no
// stored parts, so the prompt is synthesized into one.
func messageParts(msg *store.Message) ([]json.RawMessage, error) {
	if msg.Parts != nil {
		out := make([]json.RawMessage, 0, len(msg.Parts.Parts))
		for _, p := range msg.Parts.Parts {
			raw, err := store.MarshalPart(p)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
		return out, nil
	}
	raw, err := store.MarshalPart(store.UserPromptPart{Content: msg.Content})
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}
