// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (APIs, computations, side‑effects) with schema
// validated arguments, consistent error handling and metadata for model guidance.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/model"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tools are registered with leaf agents and invoked when the model emits a
// matching function call. Tools reach session state and control signals
// (escalate, transfer, skip summarization) only through the ToolContext.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Return errors for recoverable failures; they are reported back to the model
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description is shown to the model to explain when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with the model supplied arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// LongRunner is implemented by tools whose real result arrives later through
// a user event carrying a function response with the same call id.
type LongRunner interface {
	IsLongRunning() bool
}

// IsLongRunning reports whether t is marked long-running.
func IsLongRunning(t Tool) bool {
	lr, ok := t.(LongRunner)
	return ok && lr.IsLongRunning()
}

// Declaration converts t into the definition advertised to the model.
func Declaration(t Tool) model.ToolDefinition {
	desc := t.Description()
	if IsLongRunning(t) {
		desc += "\n\nNOTE: this is a long-running operation. Do not call it again while a call is pending."
	}

	return model.ToolDefinition{
		Name:        t.Name(),
		Description: desc,
		Parameters:  t.Parameters(),
	}
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}

	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
