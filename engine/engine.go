package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/session"
	"github.com/hupe1980/agentflow/telemetry"
)

// Config defines tuning parameters for the Engine's operational behavior.
type Config struct {
	// MaxConcurrentInvocations bounds invocations running at the same time.
	// Invoke blocks until a slot is free. 0 means unlimited.
	MaxConcurrentInvocations int

	// EventBufferSize sets the buffer of the returned event channel. A slow
	// consumer eventually blocks the commit pipeline.
	EventBufferSize int

	// MaxModelCalls bounds model calls per invocation. 0 means unlimited.
	// A bounded run fails with core.ErrMaxModelCalls once the budget is
	// spent, including mid-way through a LoopAgent.
	MaxModelCalls int
}

// DefaultConfig provides the default configuration values.
var DefaultConfig = Config{
	MaxConcurrentInvocations: 10,
	EventBufferSize:          100,
	MaxModelCalls:            0,
}

// Options configures an Engine.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// SessionStore persists every committed event. Defaults to an in-memory store.
	SessionStore core.SessionStore

	// Callbacks receives commit and lifecycle hooks. May be nil.
	Callbacks *CallbackManager

	// Telemetry records spans and counters. Defaults to telemetry.Default().
	Telemetry *telemetry.Telemetry

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Engine drives invocations of one root agent against sessions.
//
// For each invocation it stores the user event, runs the root agent (or
// resumes the leaf that issued an answered long-running call) and commits
// every emitted event through a pipeline serialized by a per-invocation
// mutex: state validation, durable append (which applies the delta to the
// live session), OnEvent hooks, then forwarding to the caller. An event is
// visible to the caller only after its delta is committed.
//
// Engine is safe for concurrent use. Concurrent invocations on the same
// session are not serialized by the engine.
type Engine struct {
	root         core.Agent
	sessionStore core.SessionStore
	callbacks    *CallbackManager
	telemetry    *telemetry.Telemetry
	logger       logging.Logger
	config       Config
	sem          *semaphore.Weighted

	activeInvocations map[string]context.CancelFunc
	invocationsMu     sync.RWMutex
}

// New creates an Engine for root.
func New(root core.Agent, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:       DefaultConfig,
		SessionStore: session.NewInMemoryStore(),
		Telemetry:    telemetry.Default(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		root:              root,
		sessionStore:      opts.SessionStore,
		callbacks:         opts.Callbacks,
		telemetry:         opts.Telemetry,
		logger:            opts.Logger,
		config:            opts.Config,
		activeInvocations: make(map[string]context.CancelFunc),
	}

	if opts.Config.MaxConcurrentInvocations > 0 {
		e.sem = semaphore.NewWeighted(int64(opts.Config.MaxConcurrentInvocations))
	}

	return e
}

// Root returns the root agent.
func (e *Engine) Root() core.Agent { return e.root }

// SessionStore returns the store events are committed to.
func (e *Engine) SessionStore() core.SessionStore { return e.sessionStore }

// resumeTarget is a leaf that issued answered long-running calls.
type resumeTarget struct {
	agent  core.Resumable
	branch string
}

// Invoke starts an invocation on sess with userContent and returns its id,
// the lazily filled event stream and a terminal error channel.
//
// When userContent carries function responses, every response id must name
// a long-running call issued in the session, otherwise Invoke fails with
// core.ErrUnknownFunctionCall before anything is stored. The issuing leaves
// are then resumed instead of running the root agent.
//
// The event channel is closed when the invocation ends; the error channel
// then yields at most one error and is closed.
func (e *Engine) Invoke(
	ctx context.Context,
	sess *core.Session,
	userContent *core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	if e.root == nil {
		return "", nil, nil, errors.New("engine has no root agent")
	}

	if sess == nil {
		return "", nil, nil, errors.New("engine: nil session")
	}

	targets, err := e.resumeTargets(sess, userContent)
	if err != nil {
		return "", nil, nil, err
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return "", nil, nil, fmt.Errorf("wait for invocation slot: %w", err)
		}
	}

	invocationID := uuid.NewString()

	userEvent := core.NewUserContentEvent(invocationID, userContent)
	if err := e.sessionStore.AppendEvent(ctx, sess, userEvent); err != nil {
		e.release()
		return "", nil, nil, fmt.Errorf("append user event: %w", err)
	}

	invocationCtx, cancel := context.WithCancel(ctx)
	invocationCtx = telemetry.WithContext(invocationCtx, e.telemetry)
	invocationCtx, span := e.telemetry.StartInvocation(invocationCtx, sess.AppName, sess.ID, invocationID, e.root.Name())

	e.invocationsMu.Lock()
	e.activeInvocations[invocationID] = cancel
	e.invocationsMu.Unlock()

	eventsCh := make(chan core.Event, e.config.EventBufferSize)
	errorsCh := make(chan error, 1)

	inv := &invocation{
		engine:  e,
		id:      invocationID,
		ctx:     invocationCtx,
		session: sess,
		out:     eventsCh,
	}

	ic := core.NewInvocationContext(invocationCtx, invocationID, e.root, sess, userContent, inv.commit,
		func(o *core.InvocationOptions) {
			o.MaxModelCalls = e.config.MaxModelCalls
			o.Logger = e.logger
		},
	)

	e.logger.Info("engine.invocation.start",
		"invocation_id", invocationID, "session", sess.ID, "root", e.root.Name(), "resume", len(targets) > 0)

	go func() {
		defer func() {
			e.invocationsMu.Lock()
			delete(e.activeInvocations, invocationID)
			e.invocationsMu.Unlock()

			cancel()
			e.release()
			close(errorsCh)
		}()

		err := e.run(ic, inv, targets)

		// Temp keys live for one invocation only.
		sess.ClearTemp()
		close(eventsCh)
		telemetry.End(span, err)

		if err != nil {
			e.logger.Error("engine.invocation.error", "invocation_id", invocationID, "error", err.Error())

			if herr := e.callbacks.ExecuteCallbacks(invocationCtx, CallbackOnError, &CallbackContext{
				InvocationID: invocationID, Session: sess, Err: err,
			}); herr != nil {
				e.logger.Warn("engine.callback.on_error_failed", "invocation_id", invocationID, "error", herr.Error())
			}

			errorsCh <- err

			return
		}

		e.logger.Info("engine.invocation.done", "invocation_id", invocationID, "paused", ic.Paused())
	}()

	return invocationID, eventsCh, errorsCh, nil
}

// InvokeSync runs an invocation to completion and returns all events.
func (e *Engine) InvokeSync(ctx context.Context, sess *core.Session, userContent *core.Content) (string, []core.Event, error) {
	invocationID, eventsCh, errorsCh, err := e.Invoke(ctx, sess, userContent)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}

	if err := <-errorsCh; err != nil {
		return invocationID, events, err
	}

	return invocationID, events, nil
}

// StopInvocation cancels a running invocation. It reports whether the id was
// active.
func (e *Engine) StopInvocation(invocationID string) bool {
	e.invocationsMu.RLock()
	cancel, ok := e.activeInvocations[invocationID]
	e.invocationsMu.RUnlock()

	if ok {
		cancel()
	}

	return ok
}

// ActiveInvocations returns the ids of running invocations.
func (e *Engine) ActiveInvocations() []string {
	e.invocationsMu.RLock()
	defer e.invocationsMu.RUnlock()

	ids := make([]string, 0, len(e.activeInvocations))
	for id := range e.activeInvocations {
		ids = append(ids, id)
	}

	return ids
}

func (e *Engine) release() {
	if e.sem != nil {
		e.sem.Release(1)
	}
}

func (e *Engine) run(ic *core.InvocationContext, inv *invocation, targets []resumeTarget) error {
	cc := &CallbackContext{InvocationID: inv.id, Session: inv.session}
	if err := e.callbacks.ExecuteCallbacks(inv.ctx, CallbackBeforeInvocation, cc); err != nil {
		return err
	}

	if len(targets) == 0 {
		if err := e.root.Run(ic); err != nil {
			return err
		}
	} else {
		for _, t := range targets {
			ric := ic.ForAgent(t.agent)
			ric.Branch = t.branch

			if err := t.agent.Resume(ric); err != nil {
				return err
			}
		}
	}

	cc = &CallbackContext{InvocationID: inv.id, Session: inv.session}

	return e.callbacks.ExecuteCallbacks(inv.ctx, CallbackAfterInvocation, cc)
}

// resumeTargets maps the function responses in content to the leaves that
// issued them, in first-answered order.
func (e *Engine) resumeTargets(sess *core.Session, content *core.Content) ([]resumeTarget, error) {
	if content == nil {
		return nil, nil
	}

	var (
		targets []resumeTarget
		seen    = map[string]bool{}
	)

	for _, p := range content.Parts {
		part, ok := p.(core.FunctionResponsePart)
		if !ok {
			continue
		}

		id := part.FunctionResponse.ID

		call, ok := sess.LongRunningCall(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrUnknownFunctionCall, id)
		}

		key := call.Author + "\x00" + call.Branch
		if seen[key] {
			continue
		}

		seen[key] = true

		a := core.FindAgent(e.root, call.Author)
		if a == nil {
			return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, call.Author)
		}

		r, ok := a.(core.Resumable)
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrNotResumable, call.Author)
		}

		targets = append(targets, resumeTarget{agent: r, branch: call.Branch})
	}

	return targets, nil
}

// invocation is the commit pipeline of one Invoke call.
type invocation struct {
	engine  *Engine
	id      string
	ctx     context.Context
	session *core.Session
	out     chan<- core.Event

	mu sync.Mutex
}

// commit validates, stores and forwards ev. The whole step runs under the
// invocation mutex so parallel branches never interleave partial commits.
func (inv *invocation) commit(ev core.Event) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err := inv.ctx.Err(); err != nil {
		return err
	}

	e := inv.engine

	if len(ev.Actions.StateDelta) > 0 {
		if err := e.callbacks.ExecuteCallbacks(inv.ctx, CallbackOnStateChange, &CallbackContext{
			InvocationID: inv.id, Session: inv.session, Event: &ev,
		}); err != nil {
			return err
		}
	}

	if err := e.sessionStore.AppendEvent(inv.ctx, inv.session, ev); err != nil {
		return fmt.Errorf("commit event %s: %w", ev.ID, err)
	}

	if err := e.callbacks.ExecuteCallbacks(inv.ctx, CallbackOnEvent, &CallbackContext{
		InvocationID: inv.id, Session: inv.session, Event: &ev,
	}); err != nil {
		return err
	}

	e.telemetry.EventCommitted(inv.ctx, ev.Author, ev.Partial)
	e.logger.Debug("engine.event.committed",
		"invocation_id", inv.id, "event_id", ev.ID, "author", ev.Author, "branch", ev.Branch, "partial", ev.Partial)

	// The caller gets its own copy so it cannot reach into stored history.
	select {
	case inv.out <- ev.Clone():
		return nil
	case <-inv.ctx.Done():
		return inv.ctx.Err()
	}
}
