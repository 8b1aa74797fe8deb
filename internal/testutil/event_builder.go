package testutil

import (
	"github.com/hupe1980/agentflow/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Author("writer").Invocation("inv-1").ModelText("hello").State("draft", "v1").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	author       string
	invocationID string
	id           string
	branch       string
	role         string
	parts        []core.Part
	actions      core.EventActions
	longRunning  []string
	partial      bool
	turnComplete bool
}

// NewEventBuilder creates a builder with default author "agent".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "agent"} }

// Author sets the author name for the event (chainable).
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Invocation sets the invocation ID associated with the event (chainable).
func (b *EventBuilder) Invocation(id string) *EventBuilder { b.invocationID = id; return b }

// ID overrides the generated event ID (chainable).
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Branch sets the parallel branch label (chainable).
func (b *EventBuilder) Branch(br string) *EventBuilder { b.branch = br; return b }

// Partial marks the event as a streaming fragment (chainable).
func (b *EventBuilder) Partial() *EventBuilder { b.partial = true; return b }

// TurnComplete marks the event as the end of an agent turn (chainable).
func (b *EventBuilder) TurnComplete() *EventBuilder { b.turnComplete = true; return b }

// UserText appends a text part and sets the role to user (chainable).
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = core.RoleUser
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// ModelText appends a text part and sets the role to model (chainable).
func (b *EventBuilder) ModelText(t string) *EventBuilder {
	b.role = core.RoleModel
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// FunctionCall appends a function call part (chainable).
func (b *EventBuilder) FunctionCall(id, name string, args map[string]any) *EventBuilder {
	b.role = core.RoleModel
	b.parts = append(b.parts, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: args}})
	return b
}

// FunctionResponse appends a function response part (chainable).
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	fr := core.FunctionResponse{ID: id, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}

	b.role = core.RoleUser
	b.parts = append(b.parts, core.FunctionResponsePart{FunctionResponse: fr})

	return b
}

// State adds key=value to the state delta (chainable).
func (b *EventBuilder) State(key string, value any) *EventBuilder {
	if b.actions.StateDelta == nil {
		b.actions.StateDelta = map[string]any{}
	}

	b.actions.StateDelta[key] = value

	return b
}

// SkipSummarization sets the SkipSummarization action flag (chainable).
func (b *EventBuilder) SkipSummarization() *EventBuilder {
	b.actions.SkipSummarization = core.BoolPtr(true)
	return b
}

// Escalate sets the Escalate action flag (chainable).
func (b *EventBuilder) Escalate() *EventBuilder { b.actions.Escalate = core.BoolPtr(true); return b }

// Transfer sets the target agent for a transfer action (chainable).
func (b *EventBuilder) Transfer(to string) *EventBuilder { b.actions.TransferToAgent = core.StringPtr(to); return b }

// LongRunning registers long-running call IDs on the event (chainable).
func (b *EventBuilder) LongRunning(ids ...string) *EventBuilder {
	b.longRunning = append(b.longRunning, ids...)
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.invocationID, b.author)
	if b.id != "" {
		ev.ID = b.id
	}

	ev.Branch = b.branch
	ev.Partial = b.partial
	ev.TurnComplete = b.turnComplete
	ev.Actions = b.actions

	if len(b.longRunning) > 0 {
		ev.LongRunningToolIDs = append([]string(nil), b.longRunning...)
	}

	if len(b.parts) > 0 {
		ev.Content = &core.Content{Role: b.role, Parts: append([]core.Part(nil), b.parts...)}
	}

	return ev
}
