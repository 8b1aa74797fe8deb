package agent

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentflow/core"
)

// ParallelAgent coordinates the concurrent execution of multiple child agents.
//
// Every child starts on its own goroutine with a branch context labelled
// "<parent>.<child>": siblings share the session but neither see each
// other's conversation nor their uncommitted state. Each event is committed
// atomically by the engine, so deltas of different children never
// interleave. The composite emits no event of its own and returns only after
// every child finished; the first child error is then reported.
type ParallelAgent struct {
	BaseAgent
}

// NewParallelAgent creates a new parallel execution coordinator.
func NewParallelAgent(name string, children ...core.Agent) *ParallelAgent {
	p := &ParallelAgent{BaseAgent: NewBaseAgent(name, core.KindParallel)}
	p.SetSubAgents(children...)

	return p
}

// Run implements core.Agent launching all children concurrently. Siblings of
// a failing child are not cancelled.
func (p *ParallelAgent) Run(ic *core.InvocationContext) error {
	return p.execute(ic, func(ic *core.InvocationContext) (turn, error) {
		var g errgroup.Group

		for _, child := range p.SubAgents() {
			branchCtx := ic.NewBranchContext(child)

			g.Go(func() error {
				if err := child.Run(branchCtx); err != nil {
					return fmt.Errorf("parallel execution failed for agent %s: %w", child.Name(), err)
				}

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return turn{}, err
		}

		return turn{paused: ic.Paused()}, nil
	})
}
