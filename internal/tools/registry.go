package tools

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/projectx/agentx/internal/providers"
	"github.com/projectx/agentx/internal/store"
	"github.com/projectx/agentx/pkg/protocol"
)

// ErrUnknownTool marks a dispatch for a tool name that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one callable operation exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the tool's JSON schema for the provider request.
	Parameters() map[string]any
	Execute(ctx context.Context, turn *Turn, args map[string]any) *Result
}

// Registry holds the tool surface and mediates every dispatch. It owns the
// tool_start/tool_complete pairing: a start always gets its complete, even
// when the tool panics.
type Registry struct {
	tools  map[string]Tool
	order  []string
	tracer trace.Tracer
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{
		tools:  make(map[string]Tool, len(tools)),
		tracer: otel.Tracer("agentx/tools"),
	}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool; re-registering a name replaces the old tool.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Definitions returns the provider-facing tool schemas in registration order.
func (r *Registry) Definitions() []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return defs
}

// DefaultRegistry assembles the full tool surface over one workspace and a
// shared background-process registry.
func DefaultRegistry(ws *Workspace, procs *ProcessRegistry) *Registry {
	return NewRegistry(
		NewReadFileTool(ws),
		NewWriteFileTool(ws),
		NewEditFileTool(ws),
		NewListFilesTool(ws),
		NewSearchInFilesTool(ws),
		NewRunCommandTool(ws),
		NewRunGitCommandTool(ws),
		NewRunTestsTool(ws),
		NewStartProcessTool(ws, procs),
		NewStopProcessTool(procs),
		NewListProcessesTool(procs),
		NewWorkingDirectoryTool(ws),
		NewFileExistsTool(ws),
	)
}

// Dispatch runs one tool call, emitting tool_start before execution and
// tool_complete after, whatever happens in between.
func (r *Registry) Dispatch(ctx context.Context, turn *Turn, call providers.ToolCall) (res *Result) {
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	if err := turn.Events.EmitToolStart(turn.ConversationID, turn.AgentMessageID, call.Name, args); err != nil {
		slog.Warn("emit tool_start failed", "tool", call.Name, "error", err)
	}

	ctx, span := r.tracer.Start(ctx, "tool."+call.Name,
		trace.WithAttributes(attribute.String("tool.call_id", call.ID)))

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", rec)
			res = Errorf("tool %s panicked: %v", call.Name, rec)
		}
		span.SetAttributes(attribute.Bool("tool.error", res.IsError))
		span.End()

		status := protocol.ToolStatusSuccess
		errorMessage := ""
		if ctx.Err() != nil {
			status = protocol.ToolStatusCancelled
		} else if res.IsError {
			status = protocol.ToolStatusError
		}
		result := ""
		if s := store.NormalizeToolContent(res.Value); s != nil {
			result = *s
		}
		if status == protocol.ToolStatusError {
			errorMessage = result
		}
		if err := turn.Events.EmitToolComplete(turn.ConversationID, turn.AgentMessageID, call.Name, result, status, errorMessage); err != nil {
			slog.Warn("emit tool_complete failed", "tool", call.Name, "error", err)
		}
	}()

	tool, ok := r.tools[call.Name]
	if !ok {
		return Errorf("%v: %s", ErrUnknownTool, call.Name)
	}
	return tool.Execute(ctx, turn, args)
}
