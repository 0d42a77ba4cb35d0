package tool

import "fmt"

// ErrorKind classifies invocation failures so callers can react without
// parsing messages.
type ErrorKind string

const (
	ErrUnknownTool      ErrorKind = "unknown_tool"
	ErrSecurityRejected ErrorKind = "security_rejected"
	ErrExecutionFault   ErrorKind = "execution_fault"
	ErrTimeout          ErrorKind = "timeout"
)

// InvocationRequest names a tool and carries the raw, not-yet-validated
// argument payload from the model.
type InvocationRequest struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// InvocationResult is the engine's only output shape. Failures are data,
// never panics; the orchestrator feeds either variant back into the
// conversation uniformly.
type InvocationResult struct {
	Success   bool                   `json:"success"`
	Output    interface{}            `json:"output,omitempty"`
	ErrorKind ErrorKind              `json:"error_kind,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Succeed builds a success result.
func Succeed(output interface{}) InvocationResult {
	return InvocationResult{Success: true, Output: output}
}

// Fail builds a failure result with a classified kind.
func Fail(kind ErrorKind, format string, args ...interface{}) InvocationResult {
	return InvocationResult{
		Success:   false,
		ErrorKind: kind,
		Error:     fmt.Sprintf(format, args...),
	}
}

// Text renders the result as the string that gets appended to the
// conversation as a tool-result turn.
func (r InvocationResult) Text() string {
	if r.Success {
		if s, ok := r.Output.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", r.Output)
	}
	return fmt.Sprintf("error (%s): %s", r.ErrorKind, r.Error)
}
