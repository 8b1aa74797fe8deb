package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
)

// CallbackType identifies an invocation level hook point of the engine.
//
// Agent, model and tool interception lives on the agents themselves; the
// engine hooks observe the commit pipeline and the invocation lifecycle.
type CallbackType string

const (
	// CallbackBeforeInvocation runs after the user event is stored and before
	// the root agent starts. An error aborts the invocation.
	CallbackBeforeInvocation CallbackType = "before_invocation"

	// CallbackAfterInvocation runs when the root agent returned without error.
	CallbackAfterInvocation CallbackType = "after_invocation"

	// CallbackOnStateChange runs inside the commit lock for every event that
	// carries a state delta, before the event is stored. An error rejects the
	// event and is fatal to the invocation.
	CallbackOnStateChange CallbackType = "on_state_change"

	// CallbackOnEvent runs inside the commit lock after an event was stored
	// and before it is forwarded to the caller.
	CallbackOnEvent CallbackType = "on_event"

	// CallbackOnError runs once with the terminal error of a failed invocation.
	// Its own errors are logged and otherwise ignored.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext is passed to every engine callback.
type CallbackContext struct {
	// InvocationID identifies the invocation being processed.
	InvocationID string

	// Session is the live session of the invocation.
	Session *core.Session

	// Event is the event being committed. Nil for lifecycle hooks.
	Event *core.Event

	// Err is the terminal error for CallbackOnError.
	Err error

	// CallbackType indicates which hook point triggered this execution.
	CallbackType CallbackType

	// Metadata provides extensible storage shared by the callbacks of one run
	// of the chain.
	Metadata map[string]any
}

// Callback is an engine hook. Callbacks run synchronously; a returned error
// terminates the associated operation.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackOnEvent,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("event %s by %s", cc.Event.ID, cc.Event.Author)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager is a registry of engine callbacks grouped by type.
//
// Callbacks run in registration order and the first error stops the chain.
// Panics are recovered and reported as *core.CallbackError. Registration and
// execution are safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager(callbacks ...Callback) *CallbackManager {
	cm := &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}

	for _, cb := range callbacks {
		cm.RegisterCallback(cb)
	}

	return cm
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Has reports whether any callback is registered for callbackType.
func (cm *CallbackManager) Has(callbackType CallbackType) bool {
	if cm == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.callbacks[callbackType]) > 0
}

// ExecuteCallbacks runs all callbacks registered for callbackType. A nil
// manager has no callbacks.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}

	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	if callbackCtx.Metadata == nil {
		callbackCtx.Metadata = map[string]any{}
	}

	for _, callback := range callbacks {
		if err := safeExecute(ctx, callback, callbackCtx); err != nil {
			agent := ""
			if callbackCtx.Event != nil {
				agent = callbackCtx.Event.Author
			}

			return &core.CallbackError{Point: string(callbackType), Agent: agent, Err: err}
		}
	}

	return nil
}

func safeExecute(ctx context.Context, cb Callback, callbackCtx *CallbackContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return cb.Execute(ctx, callbackCtx)
}

// LoggingCallback writes one structured log line per hook execution.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a logging callback for callbackType.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute logs the hook with its invocation and event details.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	args := []any{"invocation_id", callbackCtx.InvocationID}

	if ev := callbackCtx.Event; ev != nil {
		args = append(args, "event_id", ev.ID, "author", ev.Author, "branch", ev.Branch, "delta_keys", len(ev.Actions.StateDelta))
	}

	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
		c.logger.Error("engine.callback."+string(c.callbackType), args...)

		return nil
	}

	c.logger.Debug("engine.callback."+string(c.callbackType), args...)

	return nil
}

// StateValidationCallback rejects events whose state delta fails validator.
//
// Example:
//
//	validator := func(delta map[string]any) error {
//	    if v, ok := delta["user:tier"]; ok && v != "gold" && v != "silver" {
//	        return fmt.Errorf("invalid tier %v", v)
//	    }
//	    return nil
//	}
//	callback := NewStateValidationCallback(validator)
type StateValidationCallback struct {
	validator func(stateDelta map[string]any) error
}

// NewStateValidationCallback creates a new state validation callback.
func NewStateValidationCallback(validator func(stateDelta map[string]any) error) *StateValidationCallback {
	return &StateValidationCallback{
		validator: validator,
	}
}

// Type returns CallbackOnStateChange.
func (c *StateValidationCallback) Type() CallbackType { return CallbackOnStateChange }

// Execute validates the delta of the event being committed.
func (c *StateValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator == nil || callbackCtx.Event == nil || len(callbackCtx.Event.Actions.StateDelta) == 0 {
		return nil
	}

	return c.validator(callbackCtx.Event.Actions.StateDelta)
}
