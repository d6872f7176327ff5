package agent

import (
	"time"

	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/internal/tools"
	"github.com/projectx/agentx/pkg/protocol"
)

// EventSink is everything the orchestrator pushes down the duplex channel.
// The gateway client implements it; each emit writes one atomic envelope.
type EventSink interface {
	tools.EventSink

	EmitConversationCreated(conversationID int64) error
	EmitMessage(msg *store.Message) error
	EmitNodeAdded(conversationID, messageID int64, node protocol.Node) error
	EmitMessageComplete(conversationID int64, msg *store.Message, modelName string, timestamp *time.Time) error
	EmitError(conversationID int64, message string) error
}
