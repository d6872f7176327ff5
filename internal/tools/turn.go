package tools

// EventSink receives the tool lifecycle envelopes. The gateway client is the
// production implementation; tests use a recording stub.
type EventSink interface {
	EmitToolStart(conversationID, messageID int64, toolName string, args map[string]any) error
	EmitToolComplete(conversationID, messageID int64, toolName, result, status, errorMessage string) error
}

// Turn carries the per-turn identifiers every tool dispatch needs. It is
// constructed by the orchestrator after the AGENT message row exists and
// passed explicitly; tools never reach into ambient state.
type Turn struct {
	Events         EventSink
	ConversationID int64
	AgentMessageID int64
}

// Argument extraction helpers. Tool arguments arrive as a decoded JSON
// object, so numbers are float64.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func stringListArg(args map[string]any, key string) ([]string, bool) {
	raw, ok := args[key]
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}
