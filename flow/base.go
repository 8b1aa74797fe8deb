package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// DefaultMaxToolCallDepth bounds consecutive tool rounds of one leaf run.
const DefaultMaxToolCallDepth = 10

// Options configures a Flow.
type Options struct {
	// MaxToolCallDepth is the number of tool rounds allowed before the run
	// fails with core.ErrMaxToolCallDepth. <= 0 selects the default.
	MaxToolCallDepth int
	// Callbacks are the model and tool interception points.
	Callbacks Callbacks
}

// Flow is the request -> model -> (tool loop) cycle of a leaf agent with
// pluggable request processors.
type Flow struct {
	agent             FlowAgent
	requestProcessors []RequestProcessor
	maxToolCallDepth  int
	callbacks         Callbacks
}

// New creates a flow with the default processors: instructions, contents,
// tools and output schema.
func New(agent FlowAgent, optFns ...func(o *Options)) *Flow {
	opts := Options{MaxToolCallDepth: DefaultMaxToolCallDepth}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxToolCallDepth <= 0 {
		opts.MaxToolCallDepth = DefaultMaxToolCallDepth
	}

	return &Flow{
		agent: agent,
		requestProcessors: []RequestProcessor{
			NewInstructionsProcessor(),
			NewContentsProcessor(),
			NewToolsProcessor(),
			NewOutputSchemaProcessor(),
		},
		maxToolCallDepth: opts.MaxToolCallDepth,
		callbacks:        opts.Callbacks,
	}
}

// AddRequestProcessor appends a request processor; order of registration defines execution order.
func (f *Flow) AddRequestProcessor(processor RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processor)
}

// Run executes reasoning steps until the model answers without function
// calls, a tool pauses or transfers, or a fatal error occurs. Resuming after
// a long-running call is a plain Run: the answered call is part of the
// session history the next request is built from.
func (f *Flow) Run(ic *core.InvocationContext) (*Outcome, error) {
	for round := 0; ; round++ {
		if err := ic.Err(); err != nil {
			return nil, err
		}

		tools, err := f.agent.Tools(ic)
		if err != nil {
			return nil, fmt.Errorf("agent %s: resolve tools: %w", f.agent.Name(), err)
		}

		resp, err := f.step(ic, &turnAgent{FlowAgent: f.agent, tools: tools})
		if err != nil {
			return nil, err
		}

		ev := f.responseEvent(resp)

		calls := ev.FunctionCalls()
		if len(calls) == 0 {
			return &Outcome{Final: &ev}, nil
		}

		if round >= f.maxToolCallDepth {
			return nil, fmt.Errorf("agent %s: %w (%d)", f.agent.Name(), core.ErrMaxToolCallDepth, f.maxToolCallDepth)
		}

		result, err := f.executeFunctionCalls(ic, toolIndex(tools), calls)
		if err != nil {
			return nil, err
		}

		// Only calls that actually started stay open. A failed or
		// overridden long-running call already has its response.
		ev.LongRunningToolIDs = result.pending

		if err := ic.Emit(ev); err != nil {
			return nil, err
		}

		for _, respEv := range result.responses {
			if err := ic.Emit(respEv); err != nil {
				return nil, err
			}
		}

		switch {
		case len(result.pending) > 0:
			ic.Pause()
			ic.LogInfo("agent.flow.paused", "agent", f.agent.Name(), "pending", result.pending)

			return &Outcome{Paused: true, PendingCalls: result.pending, TransferTo: result.transferTo}, nil
		case result.transferTo != "":
			return &Outcome{TransferTo: result.transferTo}, nil
		case result.skipSummarization:
			return &Outcome{}, nil
		}
	}
}

// step runs steps 2 to 5 of one reasoning turn: build the request, run the
// before-model callbacks, invoke the model and run the after-model callbacks.
func (f *Flow) step(ic *core.InvocationContext, agent FlowAgent) (*model.Response, error) {
	req := new(model.Request)

	for _, processor := range f.requestProcessors {
		if err := processor.ProcessRequest(ic, req, agent); err != nil {
			return nil, fmt.Errorf("request processor %s failed: %w", processor.Name(), err)
		}
	}

	name := f.agent.Name()

	before, err := core.Intercept(core.PointBeforeModel, name, f.callbacks.BeforeModel,
		func(cb BeforeModelCallback) (core.Result[*model.Response], error) { return cb(ic, req) })
	if err != nil {
		return nil, err
	}

	resp, overridden := before.Overridden()
	if !overridden {
		if resp, err = f.generate(ic, req); err != nil {
			return nil, err
		}
	} else {
		ic.LogDebug("agent.model.skipped", "agent", name)
	}

	after, err := core.Intercept(core.PointAfterModel, name, f.callbacks.AfterModel,
		func(cb AfterModelCallback) (core.Result[*model.Response], error) { return cb(ic, resp) })
	if err != nil {
		return nil, err
	}

	if replaced, ok := after.Overridden(); ok {
		resp = replaced
	}

	if resp == nil {
		return nil, fmt.Errorf("agent %s: model returned no response", name)
	}

	return resp, nil
}

func (f *Flow) generate(ic *core.InvocationContext, req *model.Request) (*model.Response, error) {
	llm := f.agent.Model()
	if llm == nil {
		return nil, errors.New("agent " + f.agent.Name() + " has no model")
	}

	if err := ic.Limiter().Increment(); err != nil {
		return nil, err
	}

	info := llm.Info()
	ctx, span := telemetry.FromContext(ic.Context).StartModel(ic.Context, f.agent.Name(), info.Provider, info.Name)
	start := time.Now()

	resp, err := llm.Generate(ctx, req)
	telemetry.End(span, err)

	if err != nil {
		ic.LogError("agent.model.error", "agent", f.agent.Name(), "model", info.Name, "error", err.Error())
		return nil, fmt.Errorf("model %s: %w", info.Name, err)
	}

	ic.LogDebug("agent.model.generated",
		"agent", f.agent.Name(),
		"model", info.Name,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return resp, nil
}

// responseEvent converts a model response into an event authored by the
// agent. Function calls without an id receive a fresh one; the response
// itself is never modified.
func (f *Flow) responseEvent(resp *model.Response) core.Event {
	ev := core.NewEvent("", f.agent.Name())
	ev.ErrorCode = resp.ErrorCode
	ev.ErrorMessage = resp.ErrorMessage

	if resp.Content == nil {
		return ev
	}

	content := resp.Content.Clone()
	if content.Role == "" {
		content.Role = core.RoleModel
	}

	for i, p := range content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok && fc.FunctionCall.ID == "" {
			fc.FunctionCall.ID = core.NewID()
			content.Parts[i] = fc
		}
	}

	ev.Content = content

	return ev
}

// turnAgent pins the tools resolved for one turn, so the request and the
// executed calls see the same list.
type turnAgent struct {
	FlowAgent
	tools []tool.Tool
}

func (a *turnAgent) Tools(*core.InvocationContext) ([]tool.Tool, error) { return a.tools, nil }
