// Package flow implements the reasoning step loop of a leaf agent.
//
// A Flow builds a model request through pluggable request processors, runs
// the model and tool interception callbacks, executes function calls and
// commits every intermediate event through the InvocationContext. The final
// model answer is returned uncommitted so the owning agent can attach its
// output key and after-agent override before emitting it.
package flow

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

// FlowAgent defines what a flow needs from the leaf agent that owns it.
//
// This interface provides flows with access to agent configuration without
// exposing the full agent implementation details.
type FlowAgent interface {
	// Name returns the agent's unique name in its tree.
	Name() string

	// Model returns the language model instance.
	Model() model.Model

	// ResolveInstruction returns the system instruction with state injected.
	ResolveInstruction(ic *core.InvocationContext) (string, error)

	// Tools returns the tools the model may call this turn.
	Tools(ic *core.InvocationContext) ([]tool.Tool, error)

	// OutputSchema returns the JSON schema of the final answer, if any.
	OutputSchema() map[string]any

	// IncludeHistory reports whether prior conversation is sent to the model.
	IncludeHistory() bool
}

// RequestProcessor processes the request before sending it to the model.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request before model execution.
	ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error
}

// BeforeModelCallback may edit req in place or Override with a response,
// in which case the model is not invoked.
type BeforeModelCallback func(ic *core.InvocationContext, req *model.Request) (core.Result[*model.Response], error)

// AfterModelCallback may Override the model response.
type AfterModelCallback func(ic *core.InvocationContext, resp *model.Response) (core.Result[*model.Response], error)

// BeforeToolCallback may edit args in place or Override with a canned result,
// in which case the tool is not invoked.
type BeforeToolCallback func(tc *core.ToolContext, t tool.Tool, args map[string]any) (core.Result[any], error)

// AfterToolCallback may Override the tool result. The model only ever sees
// the replacement.
type AfterToolCallback func(tc *core.ToolContext, t tool.Tool, args map[string]any, result any) (core.Result[any], error)

// Callbacks groups the interception points of a flow. Each list runs in
// order; the first Override wins.
type Callbacks struct {
	BeforeModel []BeforeModelCallback
	AfterModel  []AfterModelCallback
	BeforeTool  []BeforeToolCallback
	AfterTool   []AfterToolCallback
}

// Outcome describes how a flow run ended.
type Outcome struct {
	// Final is the terminal model answer. It is not committed yet. Nil when
	// the run ended on a tool response, a pause or a transfer.
	Final *core.Event
	// Paused is set when a long-running call awaits an external result.
	Paused bool
	// PendingCalls lists the long-running call ids started by this run.
	PendingCalls []string
	// TransferTo names the agent a tool asked to hand over to.
	TransferTo string
}
