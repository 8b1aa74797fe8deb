// Package agentflow provides a high-level façade over the runner, engine and
// session stores for building agent workflows. Most applications:
//  1. Compose an agent tree from agent.ModelAgent leaves and the Sequential,
//     Loop, Parallel and Custom composites
//  2. Create an AgentFlow via New (or NewInMemoryRunner / NewFromConfig)
//  3. Invoke it per user and session, streaming (Invoke) or synchronously
//     (InvokeSync)
//
// Every event reaches the caller only after its state delta was committed to
// the session store.
package agentflow

import (
	"context"
	"errors"

	"github.com/hupe1980/agentflow/config"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/runner"
)

// AgentFlow bundles a Runner with the resources it owns.
type AgentFlow struct {
	runner *runner.Runner
	close  func() error
}

// New validates root and creates an AgentFlow for appName. Unset options use
// in-memory defaults.
func New(appName string, root core.Agent, optFns ...func(o *runner.Options)) (*AgentFlow, error) {
	r, err := runner.New(appName, root, optFns...)
	if err != nil {
		return nil, err
	}

	return &AgentFlow{runner: r, close: func() error { return nil }}, nil
}

// NewInMemoryRunner returns a Runner backed by an in-memory session store.
func NewInMemoryRunner(appName string, root core.Agent, optFns ...func(o *runner.Options)) (*runner.Runner, error) {
	return runner.New(appName, root, optFns...)
}

// NewFromConfig creates an AgentFlow with the logger, limits and session
// store described by cfg. Close releases the store.
func NewFromConfig(ctx context.Context, cfg config.Config, root core.Agent, optFns ...func(o *runner.Options)) (*AgentFlow, error) {
	logger := cfg.Logger(nil)

	store, closeStore, err := cfg.OpenSessionStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	r, err := runner.New(cfg.AppName, root, append([]func(o *runner.Options){cfg.RunnerOptions(store, logger)}, optFns...)...)
	if err != nil {
		return nil, errors.Join(err, closeStore())
	}

	return &AgentFlow{runner: r, close: closeStore}, nil
}

// Runner returns the underlying runner.
func (f *AgentFlow) Runner() *runner.Runner { return f.runner }

// Invoke starts an asynchronous invocation returning event & error channels.
func (f *AgentFlow) Invoke(
	ctx context.Context,
	userID, sessionID string,
	input *core.Content,
	optFns ...func(o *runner.RunOptions),
) (string, <-chan core.Event, <-chan error, error) {
	return f.runner.Run(ctx, userID, sessionID, input, optFns...)
}

// InvokeSync drains the invocation and returns its id and events. When ctx
// is cancelled the events collected so far are returned with ctx.Err().
func (f *AgentFlow) InvokeSync(
	ctx context.Context,
	userID, sessionID string,
	input *core.Content,
	optFns ...func(o *runner.RunOptions),
) (string, []core.Event, error) {
	invocationID, eventsCh, errorsCh, err := f.runner.Run(ctx, userID, sessionID, input, optFns...)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event

	for {
		select {
		case <-ctx.Done():
			return invocationID, events, ctx.Err()
		case event, ok := <-eventsCh:
			if !ok {
				return invocationID, events, <-errorsCh
			}

			events = append(events, event)
		}
	}
}

// State returns the materialized state of a session.
func (f *AgentFlow) State(ctx context.Context, userID, sessionID string) (core.State, error) {
	sess, err := f.runner.Session(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	return sess.StateSnapshot(), nil
}

// Close releases resources opened by NewFromConfig.
func (f *AgentFlow) Close() error { return f.close() }
