package agent

import (
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/telemetry"
)

// AgentCallback intercepts an agent run. Before-agent callbacks that Override
// replace the whole run with one event carrying the returned content.
// After-agent callbacks that Override replace the content of the terminal
// event (or add one when the agent produced none).
type AgentCallback func(ic *core.InvocationContext) (core.Result[*core.Content], error)

// turn is what an agent body reports back to BaseAgent.
type turn struct {
	// final is the terminal event, not yet committed.
	final *core.Event
	// paused is set when a long-running call suspended the run.
	paused bool
}

// BaseAgent bundles identity, child management and the agent level callback
// protocol shared by every variant. Embed it in concrete agent
// implementations and supply a Run method to satisfy core.Agent.
type BaseAgent struct {
	name        string
	description string
	kind        core.AgentKind

	mu          sync.RWMutex
	subAgents   []core.Agent
	beforeAgent []AgentCallback
	afterAgent  []AgentCallback
}

// NewBaseAgent constructs a BaseAgent with generated description (customizable via SetDescription).
func NewBaseAgent(name string, kind core.AgentKind) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
		kind:        kind,
	}
}

// Name returns the agent's unique name within its tree.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.description
}

// SetDescription updates the agent's description.
// Descriptions are shown to models deciding on a transfer.
func (b *BaseAgent) SetDescription(desc string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.description = desc
}

// Kind returns the variant tag.
func (b *BaseAgent) Kind() core.AgentKind { return b.kind }

// SubAgents returns a shallow copy of current child agents for safe iteration.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]core.Agent, len(b.subAgents))
	copy(result, b.subAgents)

	return result
}

// SetSubAgents replaces the child set. Children are not modified, so the
// same agent may be registered with several parents.
func (b *BaseAgent) SetSubAgents(children ...core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subAgents = append([]core.Agent(nil), children...)
}

// FindAgent performs a depth-first search over this agent's children.
// Returns nil if no match is found.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	for _, child := range b.SubAgents() {
		if found := core.FindAgent(child, name); found != nil {
			return found
		}
	}

	return nil
}

// AddBeforeAgentCallback appends callbacks run before the agent body.
func (b *BaseAgent) AddBeforeAgentCallback(cbs ...AgentCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.beforeAgent = append(b.beforeAgent, cbs...)
}

// AddAfterAgentCallback appends callbacks run after the agent body.
func (b *BaseAgent) AddAfterAgentCallback(cbs ...AgentCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.afterAgent = append(b.afterAgent, cbs...)
}

func (b *BaseAgent) callbacks() (before, after []AgentCallback) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]AgentCallback(nil), b.beforeAgent...), append([]AgentCallback(nil), b.afterAgent...)
}

// execute runs body wrapped in the agent callback protocol.
func (b *BaseAgent) execute(ic *core.InvocationContext, body func(ic *core.InvocationContext) (turn, error)) (err error) {
	ic, span := b.startSpan(ic)
	defer func() { telemetry.End(span, err) }()

	ic.LogDebug("agent.run.start", "agent", b.name, "kind", string(b.kind), "branch", ic.Branch)

	handled, err := b.before(ic)
	if err != nil || handled {
		return err
	}

	return b.complete(ic, body)
}

// startSpan opens the agent span and binds it to a derived context.
func (b *BaseAgent) startSpan(ic *core.InvocationContext) (*core.InvocationContext, trace.Span) {
	ctx, span := telemetry.FromContext(ic.Context).StartAgent(ic.Context, b.name, string(b.kind), ic.Branch)
	return ic.WithContext(ctx), span
}

// before runs the before-agent callbacks. handled reports that an override
// event was emitted and the body must not run.
func (b *BaseAgent) before(ic *core.InvocationContext) (bool, error) {
	before, _ := b.callbacks()

	res, err := core.Intercept(core.PointBeforeAgent, b.name, before,
		func(cb AgentCallback) (core.Result[*core.Content], error) { return cb(ic) })
	if err != nil {
		return false, err
	}

	if content, ok := res.Overridden(); ok {
		ev := core.NewEvent(ic.InvocationID, b.name)
		ev.Content = withRole(content)
		ev.Actions.SkipSummarization = core.BoolPtr(true)
		ev.TurnComplete = true

		ic.LogInfo("agent.run.overridden", "agent", b.name, "point", core.PointBeforeAgent)

		return true, ic.Emit(ev)
	}

	return false, flushPending(ic)
}

// complete runs body, then the after-agent callbacks, then commits the
// terminal event. A paused body skips the after-agent callbacks.
func (b *BaseAgent) complete(ic *core.InvocationContext, body func(ic *core.InvocationContext) (turn, error)) error {
	t, err := body(ic)
	if err != nil {
		ic.LogDebug("agent.run.error", "agent", b.name, "error", err.Error())
		return err
	}

	if t.paused {
		ic.LogDebug("agent.run.paused", "agent", b.name)
		return nil
	}

	_, after := b.callbacks()

	res, err := core.Intercept(core.PointAfterAgent, b.name, after,
		func(cb AgentCallback) (core.Result[*core.Content], error) { return cb(ic) })
	if err != nil {
		return err
	}

	if content, ok := res.Overridden(); ok {
		if t.final == nil {
			ev := core.NewEvent(ic.InvocationID, b.name)
			t.final = &ev
		}

		t.final.Content = withRole(content)

		ic.LogInfo("agent.run.overridden", "agent", b.name, "point", core.PointAfterAgent)
	}

	if t.final != nil {
		if err := ic.Emit(*t.final); err != nil {
			return err
		}
	} else if err := flushPending(ic); err != nil {
		return err
	}

	ic.LogDebug("agent.run.complete", "agent", b.name)

	return nil
}

// flushPending commits state staged by callbacks when no event would carry it.
func flushPending(ic *core.InvocationContext) error {
	if len(ic.PendingDelta()) == 0 {
		return nil
	}

	return ic.Emit(core.NewEvent(ic.InvocationID, ic.Agent.Name))
}

func withRole(c *core.Content) *core.Content {
	if c == nil {
		return nil
	}

	out := c.Clone()
	if out.Role == "" {
		out.Role = core.RoleModel
	}

	return out
}

// runChild runs child on a context derived for it.
func runChild(ic *core.InvocationContext, child core.Agent) error {
	return child.Run(ic.ForAgent(child))
}
