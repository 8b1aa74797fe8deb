package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentflow/logging"
)

// CommitFunc durably commits ev (delta applied, event appended) and forwards
// it to the caller. It is supplied by the engine and must be safe for
// concurrent use by parallel branches.
type CommitFunc func(ev Event) error

// invocation holds the state shared by every context of one root run.
type invocation struct {
	root    Agent
	limiter *ModelLimiter
}

// pauseScope records a pause for one branch of the agent tree. Marking a
// scope also marks its ancestors, so a parent sees its child paused while
// siblings keep running.
type pauseScope struct {
	paused atomic.Bool
	parent *pauseScope
}

func (p *pauseScope) mark() {
	for s := p; s != nil; s = s.parent {
		s.paused.Store(true)
	}
}

// InvocationContext carries execution state & helpers for an agent run.
// It encapsulates the per-invocation execution scope passed to an Agent's
// Run method. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (InvocationID, Agent info)
//   - Input user Content
//   - The live Session whose state is the fold of all committed deltas
//   - A pending StateDelta buffer merged into the next emitted event
//   - Branch label for parallel fan-out
//
// State mutations performed via SetState stay invisible to other branches
// until Emit commits them. Derived contexts get their own pending buffer.
type InvocationContext struct {
	Context      context.Context
	InvocationID string
	Agent        AgentInfo
	UserContent  *Content
	Session      *Session
	Branch       string

	commit   CommitFunc
	shared   *invocation
	pause    *pauseScope
	observer func(Event)

	mu         sync.Mutex
	stateDelta map[string]any

	*loggerAdapter
}

// InvocationOptions configures NewInvocationContext.
type InvocationOptions struct {
	// MaxModelCalls bounds model calls across the whole invocation. 0 = unlimited.
	MaxModelCalls int
	// Logger receives structured agent logs.
	Logger logging.Logger
}

// NewInvocationContext constructs the root context of one invocation.
func NewInvocationContext(
	ctx context.Context,
	invocationID string,
	root Agent,
	sess *Session,
	userContent *Content,
	commit CommitFunc,
	optFns ...func(o *InvocationOptions),
) *InvocationContext {
	opts := InvocationOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	var info AgentInfo
	if root != nil {
		info = AgentInfo{Name: root.Name(), Kind: root.Kind()}
	}

	return &InvocationContext{
		Context:       ctx,
		InvocationID:  invocationID,
		Agent:         info,
		UserContent:   userContent,
		Session:       sess,
		commit:        commit,
		shared:        &invocation{root: root, limiter: NewModelLimiter(opts.MaxModelCalls)},
		pause:         &pauseScope{},
		stateDelta:    map[string]any{},
		loggerAdapter: newLoggerAdapter(opts.Logger, invocationID),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// RootAgent returns the root of the agent tree driving this invocation.
func (ic *InvocationContext) RootAgent() Agent { return ic.shared.root }

// Limiter returns the invocation-wide model call limiter.
func (ic *InvocationContext) Limiter() *ModelLimiter { return ic.shared.limiter }

// Pause marks this agent, and every agent above it, as waiting on an
// external long-running result. Composite agents stop scheduling further
// children once paused. Agents in sibling branches are not affected.
func (ic *InvocationContext) Pause() { ic.pause.mark() }

// Paused reports whether Pause was called by this agent or one of its
// descendants.
func (ic *InvocationContext) Paused() bool { return ic.pause.paused.Load() }

// GetState returns a staged (pending) value if present, else the committed
// session value.
func (ic *InvocationContext) GetState(k string) (any, bool) {
	ic.mu.Lock()
	v, ok := ic.stateDelta[k]
	ic.mu.Unlock()

	if ok {
		return v, true
	}

	if ic.Session != nil {
		return ic.Session.GetState(k)
	}

	return nil, false
}

// StateView returns the committed state overlaid with pending mutations.
func (ic *InvocationContext) StateView() State {
	var s State
	if ic.Session != nil {
		s = ic.Session.StateSnapshot()
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()

	return s.ApplyDelta(ic.stateDelta)
}

// SetState stages a state mutation. It is committed with the next emitted event.
func (ic *InvocationContext) SetState(k string, v any) {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	ic.stateDelta[k] = v
}

// PendingDelta returns a copy of the staged mutations.
func (ic *InvocationContext) PendingDelta() map[string]any {
	ic.mu.Lock()
	defer ic.mu.Unlock()

	out := make(map[string]any, len(ic.stateDelta))
	for k, v := range ic.stateDelta {
		out[k] = v
	}

	return out
}

// Emit fills in correlation fields, merges pending state mutations into
// ev.Actions.StateDelta and commits the event. Explicit delta keys on ev win
// over staged ones. The pending buffer is cleared only after a successful
// commit. Emitting after cancellation returns the context error.
func (ic *InvocationContext) Emit(ev Event) error {
	if err := ic.Context.Err(); err != nil {
		return err
	}

	if ic.commit == nil {
		return errors.New("invocation has no commit function")
	}

	if ev.ID == "" {
		ev.ID = NewID()
	}

	if ev.InvocationID == "" {
		ev.InvocationID = ic.InvocationID
	}

	if ev.Author == "" {
		ev.Author = ic.Agent.Name
	}

	if ev.Branch == "" {
		ev.Branch = ic.Branch
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	ic.mu.Lock()
	if len(ic.stateDelta) > 0 {
		merged := make(map[string]any, len(ic.stateDelta)+len(ev.Actions.StateDelta))
		for k, v := range ic.stateDelta {
			merged[k] = v
		}
		for k, v := range ev.Actions.StateDelta {
			merged[k] = v
		}
		ev.Actions.StateDelta = merged
	}
	ic.mu.Unlock()

	if err := ic.commit(ev); err != nil {
		return err
	}

	ic.mu.Lock()
	for k := range ev.Actions.StateDelta {
		delete(ic.stateDelta, k)
	}
	ic.mu.Unlock()

	if ic.observer != nil {
		ic.observer(ev)
	}

	return nil
}

// derive returns a copy sharing the invocation and commit path with a fresh
// pending buffer.
func (ic *InvocationContext) derive() *InvocationContext {
	return &InvocationContext{
		Context:       ic.Context,
		InvocationID:  ic.InvocationID,
		Agent:         ic.Agent,
		UserContent:   ic.UserContent,
		Session:       ic.Session,
		Branch:        ic.Branch,
		commit:        ic.commit,
		shared:        ic.shared,
		pause:         ic.pause,
		observer:      ic.observer,
		stateDelta:    map[string]any{},
		loggerAdapter: ic.loggerAdapter,
	}
}

// ForAgent derives a context for running a. The child gets its own pause
// scope nested in the caller's.
func (ic *InvocationContext) ForAgent(a Agent) *InvocationContext {
	c := ic.derive()
	c.Agent = AgentInfo{Name: a.Name(), Kind: a.Kind()}
	c.pause = &pauseScope{parent: ic.pause}

	return c
}

// NewBranchContext derives an isolated context for a parallel child. The
// branch label is "<parent branch>.<child>" so sibling branches never read
// each other's conversation or pending state.
func (ic *InvocationContext) NewBranchContext(child Agent) *InvocationContext {
	c := ic.ForAgent(child)

	if ic.Branch == "" {
		c.Branch = ic.Agent.Name + "." + child.Name()
	} else {
		c.Branch = ic.Branch + "." + child.Name()
	}

	return c
}

// WithContext derives a context bound to ctx.
func (ic *InvocationContext) WithContext(ctx context.Context) *InvocationContext {
	c := ic.derive()
	c.Context = ctx

	return c
}

// WithObserver derives a context that reports every successfully committed
// event to fn, in addition to any observer already installed.
func (ic *InvocationContext) WithObserver(fn func(Event)) *InvocationContext {
	c := ic.derive()
	prev := ic.observer
	c.observer = func(ev Event) {
		if prev != nil {
			prev(ev)
		}
		fn(ev)
	}

	return c
}

// WithCommit derives a context that commits through commit instead of the
// engine. Used to run agents against an isolated session.
func (ic *InvocationContext) WithCommit(sess *Session, commit CommitFunc) *InvocationContext {
	c := ic.derive()
	c.Session = sess
	c.commit = commit
	c.shared = &invocation{root: ic.shared.root, limiter: ic.shared.limiter}
	c.pause = &pauseScope{}
	c.observer = nil

	return c
}
