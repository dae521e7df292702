package toolexecutor

import "fmt"

// Result codes carried by failed ToolResults.
const (
	CodeInvalidArgument   = "invalid_argument"
	CodeNotFound          = "not_found"
	CodeInvalidTransition = "invalid_transition"
	CodeUnknownTool       = "unknown_tool"
	CodePolicyDenied      = "policy_denied"
	CodeTimeout           = "timeout"
	CodeExecutionError    = "execution_error"
)

// ToolError is a business failure returned by a handler. Execute turns it
// into a failed result carrying Code.
type ToolError struct {
	Code    string
	Message string
}

func (e *ToolError) Error() string {
	return e.Message
}

// NewToolError builds a ToolError
func NewToolError(code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

// ToolErrorf builds a ToolError with a formatted message
func ToolErrorf(code, format string, args ...interface{}) *ToolError {
	return &ToolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
