package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

type testAgent struct {
	name        string
	llm         model.Model
	instruction string
	tools       []tool.Tool
	schema      map[string]any
	noHistory   bool
}

func (a *testAgent) Name() string       { return a.name }
func (a *testAgent) Model() model.Model { return a.llm }
func (a *testAgent) ResolveInstruction(*core.InvocationContext) (string, error) {
	return a.instruction, nil
}
func (a *testAgent) Tools(*core.InvocationContext) ([]tool.Tool, error) { return a.tools, nil }
func (a *testAgent) OutputSchema() map[string]any                       { return a.schema }
func (a *testAgent) IncludeHistory() bool                               { return !a.noHistory }

func newFlowInvocation(t *testing.T, optFns ...func(o *core.InvocationOptions)) (*core.InvocationContext, *testutil.Recorder) {
	t.Helper()
	return testutil.NewInvocation(t, &testutil.StubAgent{AgentName: "assistant"}, "hi", optFns...)
}

func addTool() tool.Tool {
	return tool.NewFunctionTool("add", "Add two numbers", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["a"].(float64) + args["b"].(float64), nil
	})
}

func lastFunctionResponse(t *testing.T, req *model.Request) core.FunctionResponse {
	t.Helper()
	require.NotEmpty(t, req.Contents)

	last := req.Contents[len(req.Contents)-1]
	for _, p := range last.Parts {
		if fr, ok := p.(core.FunctionResponsePart); ok {
			return fr.FunctionResponse
		}
	}

	t.Fatalf("last content carries no function response: %+v", last)

	return core.FunctionResponse{}
}

func TestFlow_TextAnswerIsReturnedUncommitted(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("hello")
	agent := &testAgent{name: "assistant", llm: llm, instruction: "Be brief."}
	ic, rec := newFlowInvocation(t)

	out, err := New(agent).Run(ic)
	require.NoError(t, err)
	require.NotNil(t, out.Final)
	assert.Equal(t, "hello", out.Final.Content.Text())
	assert.Equal(t, "assistant", out.Final.Author)
	assert.Empty(t, rec.Events())

	req := llm.Requests()[0]
	assert.Equal(t, "Be brief.", req.SystemInstruction)
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "hi", req.Contents[0].Text())
}

func TestFlow_ToolRoundTrip(t *testing.T) {
	llm := model.NewScriptedModel("m").
		ThenCall("c1", "add", map[string]any{"a": 2.0, "b": 3.0}).
		ThenText("the sum is 5")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{addTool()}}
	ic, rec := newFlowInvocation(t)

	out, err := New(agent).Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "the sum is 5", out.Final.Content.Text())

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Len(t, events[0].FunctionCalls(), 1)
	require.Len(t, events[1].FunctionResponses(), 1)
	assert.Equal(t, 5.0, events[1].FunctionResponses()[0].Response)

	require.Equal(t, 2, llm.Calls())
	fr := lastFunctionResponse(t, llm.Requests()[1])
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, 5.0, fr.Response)
	assert.Equal(t, "add", llm.Requests()[0].Tools[0].Name)
}

func TestFlow_AssignsMissingCallIDs(t *testing.T) {
	llm := model.NewScriptedModel("m").
		ThenCall("", "add", map[string]any{"a": 1.0, "b": 1.0}).
		ThenText("2")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{addTool()}}
	ic, rec := newFlowInvocation(t)

	_, err := New(agent).Run(ic)
	require.NoError(t, err)

	events := rec.Events()
	id := events[0].FunctionCalls()[0].ID
	assert.NotEmpty(t, id)
	assert.Equal(t, id, events[1].FunctionResponses()[0].ID)
}

func TestFlow_BeforeModelOverrideSkipsModel(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("from model")
	agent := &testAgent{name: "assistant", llm: llm}
	ic, _ := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.BeforeModel = []BeforeModelCallback{
			func(*core.InvocationContext, *model.Request) (core.Result[*model.Response], error) {
				return core.Override(model.NewTextResponse("cached")), nil
			},
		}
	})

	out, err := f.Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "cached", out.Final.Content.Text())
	assert.Equal(t, 0, llm.Calls())
}

func TestFlow_BeforeModelMayEditRequest(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("ok")
	agent := &testAgent{name: "assistant", llm: llm, instruction: "base"}
	ic, _ := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.BeforeModel = []BeforeModelCallback{
			func(_ *core.InvocationContext, req *model.Request) (core.Result[*model.Response], error) {
				req.SystemInstruction += " edited"
				return core.Proceed[*model.Response](), nil
			},
		}
	})

	_, err := f.Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "base edited", llm.Requests()[0].SystemInstruction)
}

func TestFlow_AfterModelOverrideReplacesResponse(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("raw")
	agent := &testAgent{name: "assistant", llm: llm}
	ic, _ := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.AfterModel = []AfterModelCallback{
			func(_ *core.InvocationContext, resp *model.Response) (core.Result[*model.Response], error) {
				return core.Override(model.NewTextResponse("redacted " + resp.Content.Text())), nil
			},
		}
	})

	out, err := f.Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "redacted raw", out.Final.Content.Text())
}

func TestFlow_AfterToolOverrideHidesOriginalResult(t *testing.T) {
	llm := model.NewScriptedModel("m").
		ThenCall("c1", "add", map[string]any{"a": 2.0, "b": 3.0}).
		ThenText("done")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{addTool()}}
	ic, rec := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.AfterTool = []AfterToolCallback{
			func(_ *core.ToolContext, _ tool.Tool, _ map[string]any, result any) (core.Result[any], error) {
				return core.Override[any](map[string]any{"replaced": result}), nil
			},
		}
	})

	_, err := f.Run(ic)
	require.NoError(t, err)

	fr := lastFunctionResponse(t, llm.Requests()[1])
	assert.Equal(t, map[string]any{"replaced": 5.0}, fr.Response)

	for _, req := range llm.Requests() {
		for _, c := range req.Contents {
			for _, p := range c.Parts {
				if resp, ok := p.(core.FunctionResponsePart); ok {
					assert.NotEqual(t, 5.0, resp.FunctionResponse.Response)
				}
			}
		}
	}

	assert.Equal(t, map[string]any{"replaced": 5.0}, rec.Events()[1].FunctionResponses()[0].Response)
}

func TestFlow_BeforeToolOverrideSkipsTool(t *testing.T) {
	called := false
	spy := tool.NewFunctionTool("spy", "Spy", nil, func(*core.ToolContext, map[string]any) (any, error) {
		called = true
		return "real", nil
	})

	llm := model.NewScriptedModel("m").ThenCall("c1", "spy", nil).ThenText("done")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{spy}}
	ic, _ := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.BeforeTool = []BeforeToolCallback{
			func(*core.ToolContext, tool.Tool, map[string]any) (core.Result[any], error) {
				return core.Override[any]("canned"), nil
			},
		}
	})

	_, err := f.Run(ic)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "canned", lastFunctionResponse(t, llm.Requests()[1]).Response)
}

func TestFlow_RecoverableToolErrors(t *testing.T) {
	failing := tool.NewFunctionTool("fail", "Fails", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("no result found")
	})

	llm := model.NewScriptedModel("m").
		Then(model.NewFunctionCallResponse(
			core.FunctionCall{ID: "c1", Name: "fail"},
			core.FunctionCall{ID: "c2", Name: "missing"},
		)).
		ThenText("sorry")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{failing}}
	ic, rec := newFlowInvocation(t)

	out, err := New(agent).Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "sorry", out.Final.Content.Text())

	events := rec.Events()
	require.Len(t, events, 3)
	assert.Contains(t, events[1].FunctionResponses()[0].Error, "no result found")
	assert.Contains(t, events[2].FunctionResponses()[0].Error, "tool missing not found")
}

func TestFlow_ToolPanicIsFatal(t *testing.T) {
	bad := tool.NewFunctionTool("bad", "Panics", nil, func(*core.ToolContext, map[string]any) (any, error) {
		panic("kaboom")
	})

	llm := model.NewScriptedModel("m").ThenCall("c1", "bad", nil)
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{bad}}
	ic, _ := newFlowInvocation(t)

	_, err := New(agent).Run(ic)

	var pErr *PanicError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "bad", pErr.Tool)
}

func TestFlow_MaxToolCallDepth(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenCall("", "add", map[string]any{"a": 1.0, "b": 1.0})
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{addTool()}}
	ic, rec := newFlowInvocation(t)

	_, err := New(agent, func(o *Options) { o.MaxToolCallDepth = 2 }).Run(ic)
	require.ErrorIs(t, err, core.ErrMaxToolCallDepth)
	assert.Equal(t, 3, llm.Calls())
	assert.Len(t, rec.Events(), 4)
}

func TestFlow_LongRunningToolPauses(t *testing.T) {
	started := 0
	approve := tool.NewLongRunningFunctionTool("approve", "Ask a manager", nil, func(*core.ToolContext, map[string]any) (any, error) {
		started++
		return map[string]any{"status": "pending"}, nil
	})

	llm := model.NewScriptedModel("m").ThenCall("lr-1", "approve", map[string]any{"amount": 100})
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{approve}}
	ic, rec := newFlowInvocation(t)

	out, err := New(agent).Run(ic)
	require.NoError(t, err)
	assert.True(t, out.Paused)
	assert.Nil(t, out.Final)
	assert.Equal(t, []string{"lr-1"}, out.PendingCalls)
	assert.True(t, ic.Paused())
	assert.Equal(t, 1, started)

	events := rec.Events()
	require.Len(t, events, 1, "only the call itself is emitted")
	assert.Equal(t, []string{"lr-1"}, events[0].LongRunningToolIDs)
	assert.Empty(t, events[0].FunctionResponses())
	assert.Equal(t, []string{"lr-1"}, rec.Session.PendingLongRunningCalls())
}

func TestFlow_FailedLongRunningCallIsNotPending(t *testing.T) {
	approve := tool.NewLongRunningFunctionTool("approve", "Ask a manager", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, errors.New("approval service down")
	})

	llm := model.NewScriptedModel("m").
		ThenCall("lr-1", "approve", nil).
		ThenText("could not request approval")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{approve}}
	ic, rec := newFlowInvocation(t)

	out, err := New(agent).Run(ic)
	require.NoError(t, err)
	assert.False(t, out.Paused)
	assert.False(t, ic.Paused())
	require.NotNil(t, out.Final)
	assert.True(t, out.Final.IsFinalResponse())

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Empty(t, events[0].LongRunningToolIDs)
	assert.False(t, events[0].IsFinalResponse())
	assert.Contains(t, events[1].FunctionResponses()[0].Error, "approval service down")

	_, found := rec.Session.LongRunningCall("lr-1")
	assert.False(t, found)
	assert.Empty(t, rec.Session.PendingLongRunningCalls())
}

func TestFlow_OverriddenLongRunningCallIsNotPending(t *testing.T) {
	started := false
	approve := tool.NewLongRunningFunctionTool("approve", "Ask a manager", nil, func(*core.ToolContext, map[string]any) (any, error) {
		started = true
		return map[string]any{"status": "pending"}, nil
	})

	llm := model.NewScriptedModel("m").
		ThenCall("lr-1", "approve", nil).
		ThenText("auto-approved")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{approve}}
	ic, rec := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.BeforeTool = []BeforeToolCallback{
			func(*core.ToolContext, tool.Tool, map[string]any) (core.Result[any], error) {
				return core.Override[any](map[string]any{"status": "approved"}), nil
			},
		}
	})

	out, err := f.Run(ic)
	require.NoError(t, err)
	assert.False(t, started)
	assert.False(t, out.Paused)
	require.NotNil(t, out.Final)
	assert.True(t, out.Final.IsFinalResponse())
	assert.Equal(t, "auto-approved", out.Final.Content.Text())

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Empty(t, events[0].LongRunningToolIDs)
	assert.Equal(t, map[string]any{"status": "approved"}, events[1].FunctionResponses()[0].Response)

	_, found := rec.Session.LongRunningCall("lr-1")
	assert.False(t, found)
}

func TestFlow_ResumeContinuesFromHistory(t *testing.T) {
	approve := tool.NewLongRunningFunctionTool("approve", "Ask a manager", nil, func(*core.ToolContext, map[string]any) (any, error) {
		return nil, nil
	})

	llm := model.NewScriptedModel("m").
		ThenCall("lr-1", "approve", nil).
		ThenText("approved, reimbursing")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{approve}}
	ic, rec := newFlowInvocation(t)

	f := New(agent)

	out, err := f.Run(ic)
	require.NoError(t, err)
	require.True(t, out.Paused)

	resume := core.NewUserContentEvent("inv-2", &core.Content{Role: core.RoleUser, Parts: []core.Part{
		core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "lr-1", Name: "approve", Response: map[string]any{"status": "approved"}}},
	}})
	rec.Session.ApplyEvent(resume)

	out, err = f.Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "approved, reimbursing", out.Final.Content.Text())

	fr := lastFunctionResponse(t, llm.Requests()[1])
	assert.Equal(t, map[string]any{"status": "approved"}, fr.Response)
	assert.Empty(t, rec.Session.PendingLongRunningCalls())
}

func TestFlow_TransferRequest(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenCall("t1", tool.TransferToAgentToolName, map[string]any{"agent": "billing"})
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{tool.NewTransferToAgentTool()}}
	ic, rec := newFlowInvocation(t)

	out, err := New(agent).Run(ic)
	require.NoError(t, err)
	assert.Equal(t, "billing", out.TransferTo)
	assert.Equal(t, 1, llm.Calls())

	target, ok := rec.Events()[1].Actions.TransferTarget()
	require.True(t, ok)
	assert.Equal(t, "billing", target)
}

func TestFlow_ToolStateDeltaIsCommittedWithResponse(t *testing.T) {
	remember := tool.NewFunctionTool("remember", "Remember", nil, func(tc *core.ToolContext, _ map[string]any) (any, error) {
		tc.SetState("user:name", "Ada")
		return "ok", nil
	})

	llm := model.NewScriptedModel("m").ThenCall("c1", "remember", nil).ThenText("noted")
	agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{remember}}
	ic, rec := newFlowInvocation(t)

	_, err := New(agent).Run(ic)
	require.NoError(t, err)

	v, ok := rec.Session.GetState("user:name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
	assert.Equal(t, "Ada", rec.Events()[1].Actions.StateDelta["user:name"])
}

func TestFlow_CallbackErrorIsFatal(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("never")
	agent := &testAgent{name: "assistant", llm: llm}
	ic, _ := newFlowInvocation(t)

	f := New(agent, func(o *Options) {
		o.Callbacks.BeforeModel = []BeforeModelCallback{
			func(*core.InvocationContext, *model.Request) (core.Result[*model.Response], error) {
				panic("broken callback")
			},
		}
	})

	_, err := f.Run(ic)

	var cbErr *core.CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, core.PointBeforeModel, cbErr.Point)
	assert.Equal(t, 0, llm.Calls())
}

func TestFlow_ModelErrors(t *testing.T) {
	t.Run("transport error is fatal", func(t *testing.T) {
		unreachable := errors.New("connection refused")
		agent := &testAgent{name: "assistant", llm: model.NewScriptedModel("m").ThenError(unreachable)}
		ic, _ := newFlowInvocation(t)

		_, err := New(agent).Run(ic)
		assert.ErrorIs(t, err, unreachable)
	})

	t.Run("response error is recoverable", func(t *testing.T) {
		agent := &testAgent{name: "assistant", llm: model.NewScriptedModel("m").Then(&model.Response{
			ErrorCode:    "CONTENT_FILTER",
			ErrorMessage: "filtered",
		})}
		ic, _ := newFlowInvocation(t)

		out, err := New(agent).Run(ic)
		require.NoError(t, err)
		assert.True(t, out.Final.IsError())
		assert.Equal(t, "CONTENT_FILTER", out.Final.ErrorCode)
	})

	t.Run("model call budget", func(t *testing.T) {
		llm := model.NewScriptedModel("m").
			ThenCall("c1", "add", map[string]any{"a": 1.0, "b": 1.0}).
			ThenText("2")
		agent := &testAgent{name: "assistant", llm: llm, tools: []tool.Tool{addTool()}}
		ic, _ := newFlowInvocation(t, func(o *core.InvocationOptions) { o.MaxModelCalls = 1 })

		_, err := New(agent).Run(ic)
		assert.ErrorIs(t, err, core.ErrMaxModelCalls)
		assert.Equal(t, 1, llm.Calls())
	})
}
