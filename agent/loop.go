package agent

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentflow/core"
)

// LoopAgent coordinates the repeated execution of its children.
//
// Each iteration runs every child in order. After a full pass the loop stops
// when any event committed during that pass carried Escalate, or when the
// optional until predicate accepts the state. Reaching the iteration bound
// is a normal termination. Every iteration observes the state written by the
// previous one, enabling critique / revise convergence patterns.
type LoopAgent struct {
	BaseAgent
	maxIterations int
	interval      time.Duration
	until         func(state core.State) bool
}

// LoopOption defines a configuration function for customizing LoopAgent behavior.
type LoopOption func(*LoopAgent)

// NewLoopAgent constructs a loop over children.
//
// Default configuration:
//   - No iteration bound (the loop ends on escalation or predicate)
//   - No interval between iterations
//
// A loop without children is a configuration error reported by Validate
// and by the first Run.
func NewLoopAgent(name string, children []core.Agent, opts ...LoopOption) *LoopAgent {
	la := &LoopAgent{BaseAgent: NewBaseAgent(name, core.KindLoop)}
	la.SetSubAgents(children...)

	for _, o := range opts {
		o(la)
	}

	return la
}

// WithMaxIterations bounds the number of full passes. n <= 0 means unbounded.
func WithMaxIterations(n int) LoopOption {
	return func(l *LoopAgent) { l.maxIterations = n }
}

// WithInterval sets the time delay between loop iterations.
//
// This is useful for polling scenarios or giving external systems time to
// process between iterations. The wait is aborted on cancellation.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// WithUntil ends the loop after the first pass whose resulting state
// satisfies pred.
//
// Example:
//
//	WithUntil(func(s core.State) bool {
//	    v, _ := s.Get("verdict")
//	    return v == "approved"
//	})
func WithUntil(pred func(state core.State) bool) LoopOption {
	return func(l *LoopAgent) { l.until = pred }
}

func (l *LoopAgent) validate() error {
	if len(l.SubAgents()) == 0 {
		return fmt.Errorf("loop agent %s: %w", l.Name(), core.ErrNoChildren)
	}

	return nil
}

// Run implements core.Agent performing iterative execution with escalation
// detection.
func (l *LoopAgent) Run(ic *core.InvocationContext) error {
	return l.execute(ic, func(ic *core.InvocationContext) (turn, error) {
		if err := l.validate(); err != nil {
			return turn{}, err
		}

		children := l.SubAgents()

		for i := 0; l.maxIterations <= 0 || i < l.maxIterations; i++ {
			var escalated atomic.Bool

			pass := ic.WithObserver(func(ev core.Event) {
				if ev.Actions.IsEscalate() {
					escalated.Store(true)
				}
			})

			for _, child := range children {
				if err := runChild(pass, child); err != nil {
					return turn{}, fmt.Errorf("loop iteration %d failed for agent %s: %w", i+1, child.Name(), err)
				}

				if ic.Paused() {
					return turn{paused: true}, nil
				}
			}

			ic.LogDebug("agent.loop.iteration", "agent", l.Name(), "iteration", i+1, "escalated", escalated.Load())

			if escalated.Load() {
				ic.LogInfo("agent.loop.escalated", "agent", l.Name(), "iteration", i+1)
				return turn{}, nil
			}

			if l.until != nil && l.until(ic.StateView()) {
				ic.LogInfo("agent.loop.until", "agent", l.Name(), "iteration", i+1)
				return turn{}, nil
			}

			if l.interval > 0 && (l.maxIterations <= 0 || i < l.maxIterations-1) {
				select {
				case <-ic.Done():
					return turn{}, ic.Err()
				case <-time.After(l.interval):
				}
			}
		}

		return turn{}, nil
	})
}

// NewEscalationEvent creates an event that ends the enclosing loop after the
// current pass.
func NewEscalationEvent(invocationID, author string, content *core.Content) core.Event {
	ev := core.NewEvent(invocationID, author)
	ev.Actions.Escalate = core.BoolPtr(true)
	ev.Content = content

	return ev
}
