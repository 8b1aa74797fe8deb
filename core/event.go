package core

import (
	"time"

	"github.com/google/uuid"
)

// EventActions encodes side‑effects or orchestration signals attached to an Event.
// Pointer fields distinguish absence from zero values.
type EventActions struct {
	SkipSummarization *bool          `json:"skip_summarization,omitempty"`
	StateDelta        map[string]any `json:"state_delta,omitempty"`
	TransferToAgent   *string        `json:"transfer_to_agent,omitempty"`
	Escalate          *bool          `json:"escalate,omitempty"`
}

// IsEscalate reports whether the actions request loop escalation.
func (a EventActions) IsEscalate() bool { return a.Escalate != nil && *a.Escalate }

// IsSkipSummarization reports whether post-processing should be bypassed.
func (a EventActions) IsSkipSummarization() bool {
	return a.SkipSummarization != nil && *a.SkipSummarization
}

// TransferTarget returns the requested transfer target, if any.
func (a EventActions) TransferTarget() (string, bool) {
	if a.TransferToAgent == nil || *a.TransferToAgent == "" {
		return "", false
	}

	return *a.TransferToAgent, true
}

// Event is the primary unit of communication between agents, the engine and
// external clients. Once committed it must be treated as immutable. It
// captures:
//   - Correlation (InvocationID, ID, Author, Branch)
//   - Conversational content (optional role-based Parts)
//   - Orchestration directives (Actions)
//   - Long‑running tool hints (LongRunningToolIDs)
//   - Error metadata for recoverable failures
//
// Content may be nil for control or error-only events.
type Event struct {
	ID                 string       `json:"id"`
	InvocationID       string       `json:"invocation_id"`
	Author             string       `json:"author"`
	Branch             string       `json:"branch,omitempty"`
	Timestamp          time.Time    `json:"timestamp"`
	Content            *Content     `json:"content,omitempty"`
	Actions            EventActions `json:"actions"`
	LongRunningToolIDs []string     `json:"long_running_tool_ids,omitempty"`
	Partial            bool         `json:"partial,omitempty"`
	TurnComplete       bool         `json:"turn_complete,omitempty"`
	ErrorCode          string       `json:"error_code,omitempty"`
	ErrorMessage       string       `json:"error_message,omitempty"`
}

// NewEvent creates a bare event authored by 'author' bound to an invocation.
// Prefer helper constructors for common semantic categories (message, function call/response).
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewMessageEvent creates a model-role message event with a single text part.
func NewMessageEvent(author, message string) Event {
	e := NewEvent("", author)
	e.Content = NewTextContent(RoleModel, message)

	return e
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(invocationID, message string) Event {
	e := NewEvent(invocationID, RoleUser)
	e.Content = NewTextContent(RoleUser, message)

	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
func NewUserContentEvent(invocationID string, content *Content) Event {
	e := NewEvent(invocationID, RoleUser)
	e.Content = content

	return e
}

// NewFunctionResponseEvent records the completion result (or error) of a
// tool invocation. If err is non-nil its message is copied into the
// response Error field.
func NewFunctionResponseEvent(author, id, functionName string, result any, err error) Event {
	e := NewEvent("", author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}

	if err != nil {
		fr.Error = err.Error()
	}

	e.Content = &Content{Role: RoleUser, Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}

	return e
}

// NewErrorEvent creates an event signalling a recoverable failure.
func NewErrorEvent(author, code, message string) Event {
	e := NewEvent("", author)
	e.ErrorCode = code
	e.ErrorMessage = message

	return e
}

// NewID generates a new unique identifier for events, invocations and calls.
func NewID() string { return uuid.NewString() }

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// FunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) FunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}

	var calls []FunctionCall

	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}

	return calls
}

// FunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) FunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}

	var responses []FunctionResponse

	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}

	return responses
}

// IsError reports whether the event carries a recoverable error.
func (e Event) IsError() bool { return e.ErrorCode != "" || e.ErrorMessage != "" }

// IsFinalResponse reports whether the event ends an agent turn: no pending
// tool calls or responses and not a partial fragment. Skipped summaries and
// long-running calls always count as final.
func (e Event) IsFinalResponse() bool {
	if e.Actions.IsSkipSummarization() || len(e.LongRunningToolIDs) > 0 {
		return true
	}

	return len(e.FunctionCalls()) == 0 &&
		len(e.FunctionResponses()) == 0 &&
		!e.Partial
}

// Clone returns a copy that shares no maps or slices with e.
func (e Event) Clone() Event {
	c := e
	c.Content = e.Content.Clone()

	if e.Actions.StateDelta != nil {
		c.Actions.StateDelta = make(map[string]any, len(e.Actions.StateDelta))
		for k, v := range e.Actions.StateDelta {
			c.Actions.StateDelta[k] = v
		}
	}

	if e.LongRunningToolIDs != nil {
		c.LongRunningToolIDs = append([]string(nil), e.LongRunningToolIDs...)
	}

	return c
}
