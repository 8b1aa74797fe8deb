package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
)

func TestCallbackManager_RunsInOrderUntilError(t *testing.T) {
	var calls []string

	stop := errors.New("stop")

	cm := NewCallbackManager()
	cm.RegisterCallback(NewFunctionCallback(CallbackOnEvent, func(context.Context, *CallbackContext) error {
		calls = append(calls, "first")
		return nil
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnEvent, func(context.Context, *CallbackContext) error {
		calls = append(calls, "second")
		return stop
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackOnEvent, func(context.Context, *CallbackContext) error {
		calls = append(calls, "third")
		return nil
	}))

	ev := core.NewMessageEvent("writer", "x")
	err := cm.ExecuteCallbacks(context.Background(), CallbackOnEvent, &CallbackContext{Event: &ev})

	var cbErr *core.CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, "writer", cbErr.Agent)
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.True(t, cm.Has(CallbackOnEvent))
	assert.False(t, cm.Has(CallbackOnError))
}

func TestCallbackManager_RecoversPanics(t *testing.T) {
	cm := NewCallbackManager(NewFunctionCallback(CallbackBeforeInvocation, func(context.Context, *CallbackContext) error {
		panic("kaboom")
	}))

	err := cm.ExecuteCallbacks(context.Background(), CallbackBeforeInvocation, &CallbackContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCallbackManager_NilIsEmpty(t *testing.T) {
	var cm *CallbackManager

	assert.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackOnEvent, &CallbackContext{}))
	assert.False(t, cm.Has(CallbackOnEvent))
}

func TestCallbackManager_SharesMetadata(t *testing.T) {
	cm := NewCallbackManager(
		NewFunctionCallback(CallbackOnEvent, func(_ context.Context, cc *CallbackContext) error {
			cc.Metadata["seen"] = true
			return nil
		}),
		NewFunctionCallback(CallbackOnEvent, func(_ context.Context, cc *CallbackContext) error {
			assert.Equal(t, CallbackOnEvent, cc.CallbackType)
			assert.Equal(t, true, cc.Metadata["seen"])
			return nil
		}),
	)

	require.NoError(t, cm.ExecuteCallbacks(context.Background(), CallbackOnEvent, &CallbackContext{}))
}

func TestStateValidationCallback(t *testing.T) {
	cb := NewStateValidationCallback(func(delta map[string]any) error {
		if _, ok := delta["forbidden"]; ok {
			return errors.New("forbidden key")
		}

		return nil
	})

	assert.Equal(t, CallbackOnStateChange, cb.Type())

	ok := core.NewMessageEvent("a", "x")
	ok.Actions.StateDelta = map[string]any{"fine": 1}
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{Event: &ok}))

	bad := core.NewMessageEvent("a", "x")
	bad.Actions.StateDelta = map[string]any{"forbidden": 1}
	assert.Error(t, cb.Execute(context.Background(), &CallbackContext{Event: &bad}))

	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{}))
}
