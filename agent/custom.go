package agent

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/hupe1980/agentflow/core"
)

// Stage is one step of a CustomAgent. Stages are evaluated lazily, in
// program order, so a stage may branch on state written by earlier ones.
type Stage interface {
	Run(ic *core.InvocationContext) error
}

// StageFunc adapts a function to Stage. Events it emits are authored by the
// custom agent.
type StageFunc func(ic *core.InvocationContext) error

// Run implements Stage.
func (f StageFunc) Run(ic *core.InvocationContext) error { return f(ic) }

// agentStage runs one agent.
type agentStage struct{ agent core.Agent }

// RunAgent returns a stage running a.
func RunAgent(a core.Agent) Stage { return agentStage{agent: a} }

func (s agentStage) Run(ic *core.InvocationContext) error { return runChild(ic, s.agent) }

func (s agentStage) agents() []core.Agent { return []core.Agent{s.agent} }

// condStage runs stage when pred accepts the current state.
type condStage struct {
	pred  func(ic *core.InvocationContext) (bool, error)
	stage Stage
}

// When returns a stage running stage only if pred accepts the state view at
// the moment the stage is reached.
func When(pred func(state core.State) bool, stage Stage) Stage {
	return condStage{
		pred:  func(ic *core.InvocationContext) (bool, error) { return pred(ic.StateView()), nil },
		stage: stage,
	}
}

func (s condStage) Run(ic *core.InvocationContext) error {
	ok, err := s.pred(ic)
	if err != nil {
		return err
	}

	if !ok {
		ic.LogDebug("agent.stage.skipped", "agent", ic.Agent.Name)
		return nil
	}

	return s.stage.Run(ic)
}

func (s condStage) agents() []core.Agent { return stageAgents(s.stage) }

// WhenExpr is When with a CEL predicate over the variable "state", a map of
// the current state view. Keys with a scope prefix are read with index
// syntax.
//
// Example:
//
//	WhenExpr(`has(state.tone) && state.tone == "negative"`, RunAgent(regenerate))
//	WhenExpr(`state["user:tier"] == "gold"`, RunAgent(upsell))
//
// The expression is compiled immediately; evaluation errors (e.g. a missing
// key without has()) are fatal to the invocation.
func WhenExpr(expr string, stage Stage) (Stage, error) {
	env, err := cel.NewEnv(cel.Variable("state", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, iss.Err())
	}

	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile %q: expression yields %s, want bool", expr, out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}

	pred := func(ic *core.InvocationContext) (bool, error) {
		out, _, err := prg.Eval(map[string]any{"state": map[string]any(ic.StateView())})
		if err != nil {
			return false, fmt.Errorf("evaluate %q: %w", expr, err)
		}

		b, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("evaluate %q: got %T, want bool", expr, out.Value())
		}

		return b, nil
	}

	return condStage{pred: pred, stage: stage}, nil
}

// MustWhenExpr is WhenExpr that panics on a malformed expression.
func MustWhenExpr(expr string, stage Stage) Stage {
	s, err := WhenExpr(expr, stage)
	if err != nil {
		panic(err)
	}

	return s
}

// deferStage builds its stage when reached.
type deferStage struct {
	build func(ic *core.InvocationContext) Stage
}

// Defer returns a stage whose actual stage is chosen at run time. A nil
// result contributes nothing.
func Defer(build func(ic *core.InvocationContext) Stage) Stage { return deferStage{build: build} }

func (s deferStage) Run(ic *core.InvocationContext) error {
	stage := s.build(ic)
	if stage == nil {
		return nil
	}

	return stage.Run(ic)
}

// CustomAgent runs an explicit, ordered list of stages. Its event stream is
// the concatenation of the stages' streams. Use it for control flow that
// pure Sequential / Loop / Parallel nesting cannot express, such as
// regenerating only when an earlier stage wrote a sentinel value.
type CustomAgent struct {
	BaseAgent
	stages []Stage
}

// NewCustomAgent creates a custom agent. Agents referenced by RunAgent stages
// (also inside When) become its sub-agents; agents only reachable through
// Defer should be registered with SetSubAgents so transfer and validation
// can find them.
func NewCustomAgent(name string, stages ...Stage) *CustomAgent {
	c := &CustomAgent{
		BaseAgent: NewBaseAgent(name, core.KindCustom),
		stages:    stages,
	}

	var subs []core.Agent

	seen := map[core.Agent]bool{}

	for _, s := range stages {
		for _, a := range stageAgents(s) {
			if !seen[a] {
				seen[a] = true
				subs = append(subs, a)
			}
		}
	}

	c.SetSubAgents(subs...)

	return c
}

// Run implements core.Agent.
func (c *CustomAgent) Run(ic *core.InvocationContext) error {
	return c.execute(ic, func(ic *core.InvocationContext) (turn, error) {
		for i, stage := range c.stages {
			if err := stage.Run(ic); err != nil {
				return turn{}, fmt.Errorf("custom agent %s stage %d: %w", c.Name(), i+1, err)
			}

			if ic.Paused() {
				return turn{paused: true}, nil
			}
		}

		return turn{}, nil
	})
}

func stageAgents(s Stage) []core.Agent {
	if as, ok := s.(interface{ agents() []core.Agent }); ok {
		return as.agents()
	}

	return nil
}
