package tools

import "fmt"

// Result is the unified return type from tool execution. Value holds the
// tool's payload: a string, or a list/mapping that is stringified on the way
// to the model and the persisted tool-return part.
type Result struct {
	Value   any
	IsError bool
}

func NewResult(value any) *Result {
	return &Result{Value: value}
}

func ErrorResult(message string) *Result {
	return &Result{Value: message, IsError: true}
}

func Errorf(format string, args ...any) *Result {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// RetryableResult marks transient failures (port in use, stuck process). The
// retry instruction travels in the message itself; the model decides.
func RetryableResult(message string) *Result {
	return ErrorResult("Transient error, please retry: " + message)
}
