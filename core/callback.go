package core

import "fmt"

// Interception point names reported in CallbackError.Point.
const (
	PointBeforeAgent = "before_agent"
	PointAfterAgent  = "after_agent"
	PointBeforeModel = "before_model"
	PointAfterModel  = "after_model"
	PointBeforeTool  = "before_tool"
	PointAfterTool   = "after_tool"
)

// Result is the outcome of a callback: either Proceed (keep the default
// behavior) or Override carrying a replacement value.
type Result[T any] struct {
	value    T
	override bool
}

// Proceed lets the intercepted step run unchanged.
func Proceed[T any]() Result[T] { return Result[T]{} }

// Override short-circuits the intercepted step with v.
func Override[T any](v T) Result[T] { return Result[T]{value: v, override: true} }

// Overridden returns the replacement value and whether one was supplied.
func (r Result[T]) Overridden() (T, bool) { return r.value, r.override }

// IsOverride reports whether the callback supplied a replacement.
func (r Result[T]) IsOverride() bool { return r.override }

// Intercept runs callbacks in order until one returns Override. A returned
// error or a panic stops the chain and is wrapped in a *CallbackError.
func Intercept[C any, T any](point, agent string, callbacks []C, call func(cb C) (Result[T], error)) (Result[T], error) {
	for _, cb := range callbacks {
		res, err := safeCallback(cb, call)
		if err != nil {
			return Proceed[T](), &CallbackError{Point: point, Agent: agent, Err: err}
		}

		if res.IsOverride() {
			return res, nil
		}
	}

	return Proceed[T](), nil
}

func safeCallback[C any, T any](cb C, call func(cb C) (Result[T], error)) (res Result[T], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	return call(cb)
}
