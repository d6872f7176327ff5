package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/internal/tools"
	"github.com/projectx/agentx/pkg/protocol"
)

// Defaults for the step loop.
const (
	DefaultMaxSteps    = 40
	DefaultRetryBudget = 10
)

// ErrTurnFatal wraps errors that must tear down the connection after the
// error envelope has been emitted.
var ErrTurnFatal = errors.New("turn failed")

// Orchestrator runs the per-turn state machine over one connection's store
// session. It is not safe for concurrent use; a connection handles one frame
// at a time.
type Orchestrator struct {
	Session   *store.Session
	Events    EventSink
	Factory   StepperFactory
	Compactor *Compactor // nil disables history compaction

	MaxSteps    int
	RetryBudget int

	tracer trace.Tracer
}

func NewOrchestrator(session *store.Session, events EventSink, factory StepperFactory, compactor *Compactor) *Orchestrator {
	return &Orchestrator{
		Session:     session,
		Events:      events,
		Factory:     factory,
		Compactor:   compactor,
		MaxSteps:    DefaultMaxSteps,
		RetryBudget: DefaultRetryBudget,
		tracer:      otel.Tracer("agentx/agent"),
	}
}

// HandleFrame drives one turn. Recoverable failures (bad frame, unknown
// conversation, content too long) emit an error envelope and return nil; the
// connection stays open. A returned error wraps ErrTurnFatal and means the
// caller should disconnect.
func (o *Orchestrator) HandleFrame(ctx context.Context, frame protocol.Frame) error {
	ctx, span := o.tracer.Start(ctx, "turn")
	defer span.End()

	// Recv
	if frame.Content == "" {
		o.Events.EmitError(frame.ConversationID, "Message content is required")
		return nil
	}

	// EnsureConversation
	conversationID := frame.ConversationID
	if conversationID == 0 {
		conv, err := o.Session.CreateConversation(ctx, "")
		if err != nil {
			return o.fatal(conversationID, err)
		}
		conversationID = conv.ID
		if err := o.Events.EmitConversationCreated(conversationID); err != nil {
			return o.fatal(conversationID, err)
		}
	} else {
		if _, err := o.Session.GetConversation(ctx, conversationID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				o.Events.EmitError(conversationID, fmt.Sprintf("Conversation %d not found", conversationID))
				return nil
			}
			return o.fatal(conversationID, err)
		}
	}
	span.SetAttributes(attribute.Int64("conversation.id", conversationID))

	// PersistUser
	userMsg, err := o.Session.InsertMessage(ctx, conversationID, store.RoleUser, frame.Content, nil)
	if err != nil {
		if errors.Is(err, store.ErrContentTooLong) {
			o.Events.EmitError(conversationID, err.Error())
			return nil
		}
		return o.fatal(conversationID, err)
	}
	if err := o.Events.EmitMessage(userMsg); err != nil {
		return o.fatal(conversationID, err)
	}

	// LoadHistory
	rows, err := o.Session.ListMessagesExcept(ctx, conversationID, userMsg.ID)
	if err != nil {
		return o.fatal(conversationID, err)
	}
	history := DecodeHistory(rows)

	// Compact?
	if o.Compactor != nil {
		compacted, err := o.Compactor.Apply(ctx, history)
		if err != nil {
			slog.Warn("history compaction failed, using full history",
				"conversation_id", conversationID, "error", err)
		} else {
			history = compacted
		}
	}

	return o.runTurn(ctx, conversationID, history, frame.Content)
}

// runTurn covers StartAgent → StepLoop → Finalize inside the turn's
// transaction window.
func (o *Orchestrator) runTurn(ctx context.Context, conversationID int64, history []HistoryMessage, prompt string) error {
	tx, err := o.Session.BeginTurn(ctx)
	if err != nil {
		return o.fatal(conversationID, err)
	}
	defer tx.Rollback()

	agentMsg, err := tx.InsertAgentMessage(ctx, conversationID)
	if err != nil {
		return o.fatal(conversationID, err)
	}
	turn := &tools.Turn{
		Events:         o.Events,
		ConversationID: conversationID,
		AgentMessageID: agentMsg.ID,
	}

	stepper := o.Factory.NewTurnStepper(history, prompt)

	var (
		turnParts  []store.Part
		modelName  string
		timestamp  *time.Time
		toolErrors int
		output     string
		finished   bool
	)
	maxSteps := o.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	budget := o.RetryBudget
	if budget <= 0 {
		budget = DefaultRetryBudget
	}

	for step := 1; step <= maxSteps; step++ {
		result, err := stepper.Step(ctx, turn)
		if err != nil {
			return o.fatal(conversationID, fmt.Errorf("agent step %d: %w", step, err))
		}
		if result.ModelName != "" {
			modelName = result.ModelName
		}
		if result.Timestamp != nil {
			timestamp = result.Timestamp
		}

		node := protocol.Node{ID: fmt.Sprintf("step-%d", step), ModelName: modelName, Timestamp: timestamp}
		for _, part := range result.Parts {
			turnParts = append(turnParts, part)
			switch part.Kind() {
			case store.KindToolCall, store.KindToolReturn:
				// streamed out-of-band by the dispatcher
			default:
				raw, err := store.MarshalPart(part)
				if err != nil {
					return o.fatal(conversationID, err)
				}
				node.Parts = append(node.Parts, raw)
			}
		}
		if len(node.Parts) > 0 {
			if err := o.Events.EmitNodeAdded(conversationID, agentMsg.ID, node); err != nil {
				return o.fatal(conversationID, err)
			}
		}

		toolErrors += result.ToolErrors
		if toolErrors > budget {
			return o.fatal(conversationID, fmt.Errorf("tool retry budget exhausted after %d failures", toolErrors))
		}

		if result.Done {
			output = result.Output
			finished = true
			break
		}
	}
	if !finished {
		return o.fatal(conversationID, fmt.Errorf("agent did not finish within %d steps", maxSteps))
	}

	// Finalize
	payload := &store.PartsPayload{
		Parts:     store.EncodeParts(turnParts),
		ModelName: modelName,
		Timestamp: timestamp,
	}
	if err := tx.Finalize(ctx, agentMsg.ID, output, payload); err != nil {
		return o.fatal(conversationID, err)
	}
	if err := tx.Commit(); err != nil {
		return o.fatal(conversationID, err)
	}

	agentMsg.Content = output
	agentMsg.Parts = payload
	return o.Events.EmitMessageComplete(conversationID, agentMsg, modelName, timestamp)
}

// fatal emits the error envelope and flags the turn for disconnect. The
// deferred transaction rollback discards the empty AGENT row.
func (o *Orchestrator) fatal(conversationID int64, err error) error {
	slog.Error("turn failed", "conversation_id", conversationID, "error", err)
	o.Events.EmitError(conversationID, err.Error())
	return fmt.Errorf("%w: %v", ErrTurnFatal, err)
}
