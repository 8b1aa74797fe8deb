package agent

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// SequentialAgent coordinates the execution of multiple child agents in sequence.
//
// Each child runs to completion, every one of its events committed, before
// the next child starts, so state written by child n is visible to child
// n+1. A child that produces no events is an empty contribution. The first
// fatal error aborts the remaining children.
//
// SequentialAgent is ideal for:
//   - Multi-step data processing pipelines
//   - Workflows requiring specific execution order
//   - Scenarios where agent outputs build upon each other
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates a new sequential execution coordinator.
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	s := &SequentialAgent{BaseAgent: NewBaseAgent(name, core.KindSequential)}
	s.SetSubAgents(children...)

	return s
}

// Run implements core.Agent. It executes each child agent in order; errors
// stop further processing immediately. A paused child ends the run.
func (s *SequentialAgent) Run(ic *core.InvocationContext) error {
	return s.execute(ic, func(ic *core.InvocationContext) (turn, error) {
		for _, child := range s.SubAgents() {
			if err := runChild(ic, child); err != nil {
				return turn{}, fmt.Errorf("sequential execution failed at agent %s: %w", child.Name(), err)
			}

			if ic.Paused() {
				return turn{paused: true}, nil
			}
		}

		return turn{}, nil
	})
}
