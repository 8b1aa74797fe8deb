package core

import (
	"context"
	"sync"

	"github.com/hupe1980/agentflow/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations invoked by an agent. It accumulates EventActions (state
// deltas, transfers, escalation signals) without mutating the session; the
// actions are merged into the function response event when it is emitted.
type ToolContext struct {
	ic             *InvocationContext
	functionCallID string

	mu           sync.Mutex
	eventActions EventActions

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent
// InvocationContext and the id of the function call being served.
func NewToolContext(ic *InvocationContext, functionCallID string) *ToolContext {
	return &ToolContext{
		ic:             ic,
		functionCallID: functionCallID,
		loggerAdapter:  ic.loggerAdapter,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ic.Context }

// InvocationID returns the invocation the tool runs in.
func (tc *ToolContext) InvocationID() string { return tc.ic.InvocationID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// AgentName returns the name of the agent that issued the call.
func (tc *ToolContext) AgentName() string { return tc.ic.Agent.Name }

// InvocationContext returns the invocation context the tool runs in.
func (tc *ToolContext) InvocationContext() *InvocationContext { return tc.ic }

// GetState returns a value staged by this tool, else the agent's view.
func (tc *ToolContext) GetState(k string) (any, bool) {
	tc.mu.Lock()
	v, ok := tc.eventActions.StateDelta[k]
	tc.mu.Unlock()

	if ok {
		return v, true
	}

	return tc.ic.GetState(k)
}

// SetState records a state mutation in the local EventActions delta.
func (tc *ToolContext) SetState(k string, v any) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.eventActions.StateDelta == nil {
		tc.eventActions.StateDelta = map[string]any{}
	}

	tc.eventActions.StateDelta[k] = v
}

// SkipSummarization requests that the agent stop after this tool's response
// instead of asking the model to summarize it.
func (tc *ToolContext) SkipSummarization() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.eventActions.SkipSummarization = BoolPtr(true)
}

// TransferToAgent signals orchestration to hand off control to another agent.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.mu.Lock()
	tc.eventActions.TransferToAgent = StringPtr(name)
	tc.mu.Unlock()

	tc.LogInfo("tool.transfer.request", "from_agent", tc.AgentName(), "to_agent", name, "function_call_id", tc.functionCallID)
}

// Escalate requests that the enclosing loop terminate after the current pass.
func (tc *ToolContext) Escalate() {
	tc.mu.Lock()
	tc.eventActions.Escalate = BoolPtr(true)
	tc.mu.Unlock()

	tc.LogInfo("tool.escalate.request", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
}

// Actions returns a copy of the accumulated actions.
func (tc *ToolContext) Actions() EventActions {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	a := tc.eventActions
	if a.StateDelta != nil {
		a.StateDelta = make(map[string]any, len(tc.eventActions.StateDelta))
		for k, v := range tc.eventActions.StateDelta {
			a.StateDelta[k] = v
		}
	}

	return a
}

// ApplyActions merges accumulated EventActions into ev.
func (tc *ToolContext) ApplyActions(ev *Event) {
	MergeActions(&ev.Actions, tc.Actions())
}

// MergeActions folds src into dst. Later deltas win per key; set flags and
// transfer targets in src override dst.
func MergeActions(dst *EventActions, src EventActions) {
	if len(src.StateDelta) > 0 {
		if dst.StateDelta == nil {
			dst.StateDelta = map[string]any{}
		}

		for k, v := range src.StateDelta {
			dst.StateDelta[k] = v
		}
	}

	if src.TransferToAgent != nil {
		dst.TransferToAgent = src.TransferToAgent
	}

	if src.Escalate != nil {
		dst.Escalate = src.Escalate
	}

	if src.SkipSummarization != nil {
		dst.SkipSummarization = src.SkipSummarization
	}
}
