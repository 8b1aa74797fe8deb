package flow

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// callsResult summarizes one batch of executed function calls.
type callsResult struct {
	responses         []core.Event
	pending           []string
	transferTo        string
	skipSummarization bool
}

// executeFunctionCalls runs the calls of one model response in order and
// collects exactly one function response event per call, except for
// long-running calls that were started successfully. The caller commits the
// call event first and the responses after it. Tool errors and unknown
// tools are reported to the model; callback failures and tool panics are
// fatal.
func (f *Flow) executeFunctionCalls(ic *core.InvocationContext, tools map[string]tool.Tool, calls []core.FunctionCall) (*callsResult, error) {
	res := &callsResult{}
	name := f.agent.Name()
	batchStart := time.Now()

	for _, fc := range calls {
		if err := ic.Err(); err != nil {
			return nil, err
		}

		toolCtx := core.NewToolContext(ic, fc.ID)

		respEv, pending, err := f.executeFunctionCall(toolCtx, tools, fc)
		if err != nil {
			return nil, err
		}

		if pending {
			res.pending = append(res.pending, fc.ID)
			continue
		}

		toolCtx.ApplyActions(&respEv)

		if target, ok := respEv.Actions.TransferTarget(); ok {
			res.transferTo = target
		}

		if respEv.Actions.IsSkipSummarization() {
			res.skipSummarization = true
		}

		res.responses = append(res.responses, respEv)
	}

	ic.LogDebug(
		"agent.functions.batch.complete",
		"agent", name,
		"count", len(calls),
		"pending", len(res.pending),
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return res, nil
}

// executeFunctionCall serves a single call. pending reports a started
// long-running call whose result arrives later.
func (f *Flow) executeFunctionCall(toolCtx *core.ToolContext, tools map[string]tool.Tool, fc core.FunctionCall) (core.Event, bool, error) {
	name := f.agent.Name()

	impl, ok := tools[fc.Name]
	if !ok {
		toolCtx.LogWarn("agent.function.unknown", "agent", name, "function", fc.Name)

		return core.NewFunctionResponseEvent(name, fc.ID, fc.Name, nil, fmt.Errorf("tool %s not found", fc.Name)), false, nil
	}

	args := make(map[string]any, len(fc.Args))
	for k, v := range fc.Args {
		args[k] = v
	}

	before, err := core.Intercept(core.PointBeforeTool, name, f.callbacks.BeforeTool,
		func(cb BeforeToolCallback) (core.Result[any], error) { return cb(toolCtx, impl, args) })
	if err != nil {
		return core.Event{}, false, err
	}

	result, overridden := before.Overridden()

	var toolErr error

	if !overridden {
		toolCtx.LogInfo("agent.function.start", "agent", name, "function", fc.Name, "function_call_id", fc.ID)

		start := time.Now()

		result, toolErr, err = callTool(toolCtx, impl, args)
		if err != nil {
			toolCtx.LogError("agent.function.panic", "agent", name, "function", fc.Name, "error", err.Error())
			return core.Event{}, false, err
		}

		toolCtx.LogInfo(
			"agent.function.executed",
			"agent", name,
			"function", fc.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", toolErr != nil,
		)

		if isLongRunning(impl) && toolErr == nil {
			return core.Event{}, true, nil
		}
	}

	if toolErr == nil {
		after, err := core.Intercept(core.PointAfterTool, name, f.callbacks.AfterTool,
			func(cb AfterToolCallback) (core.Result[any], error) { return cb(toolCtx, impl, args, result) })
		if err != nil {
			return core.Event{}, false, err
		}

		if replaced, ok := after.Overridden(); ok {
			result = replaced
		}
	}

	return core.NewFunctionResponseEvent(name, fc.ID, fc.Name, result, toolErr), false, nil
}

// callTool invokes the tool, converting a panic into a fatal error.
func callTool(toolCtx *core.ToolContext, impl tool.Tool, args map[string]any) (result any, toolErr error, fatal error) {
	_, span := telemetry.FromContext(toolCtx.Context()).StartTool(toolCtx.Context(), toolCtx.AgentName(), impl.Name(), toolCtx.FunctionCallID())

	defer func() {
		if r := recover(); r != nil {
			fatal = &PanicError{Tool: impl.Name(), Value: r, Stack: debug.Stack()}
		}

		telemetry.End(span, fatal)
	}()

	result, toolErr = impl.Call(toolCtx, args)

	return result, toolErr, nil
}

// PanicError reports a tool that panicked. It is fatal to the invocation.
type PanicError struct {
	Tool  string
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("tool %s panicked: %v", p.Tool, p.Value) }

func toolIndex(tools []tool.Tool) map[string]tool.Tool {
	idx := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		idx[t.Name()] = t
	}

	return idx
}

func isLongRunning(t tool.Tool) bool { return tool.IsLongRunning(t) }
