package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned by stores for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned when creating a session that already exists.
	ErrSessionExists = errors.New("session already exists")
	// ErrUnknownFunctionCall is returned when a function response does not
	// match any long-running call issued in the session.
	ErrUnknownFunctionCall = errors.New("unknown function call id")
	// ErrDuplicateAgentName reports two distinct agents sharing a name.
	ErrDuplicateAgentName = errors.New("duplicate agent name")
	// ErrNoChildren reports a composite agent built without children.
	ErrNoChildren = errors.New("composite agent has no children")
	// ErrMaxToolCallDepth is returned when a leaf exceeds its tool call budget.
	ErrMaxToolCallDepth = errors.New("max tool call depth exceeded")
	// ErrMaxModelCalls is returned when a run exceeds its model call budget.
	ErrMaxModelCalls = errors.New("max model calls exceeded")
	// ErrAgentNotFound is returned when a named agent is not in the tree.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrNotResumable is returned when a paused call belongs to an agent that
	// cannot be resumed.
	ErrNotResumable = errors.New("agent is not resumable")
)

// CallbackError wraps a failing or panicking callback. It is always fatal to
// the current invocation.
type CallbackError struct {
	Point string // before_agent, after_model, ...
	Agent string
	Err   error
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback failed for agent %s: %v", e.Point, e.Agent, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallbackError) Unwrap() error { return e.Err }
