package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
)

// say returns a stub agent emitting one text event per run.
func say(name, text string) *testutil.StubAgent {
	return &testutil.StubAgent{AgentName: name, RunFunc: func(ic *core.InvocationContext) error {
		return ic.Emit(core.NewMessageEvent(ic.Agent.Name, text))
	}}
}

// counter returns a stub agent that increments the int state key on every run.
func counter(name, key string) *testutil.StubAgent {
	return &testutil.StubAgent{AgentName: name, RunFunc: func(ic *core.InvocationContext) error {
		n, _ := ic.GetState(key)
		i, _ := n.(int)
		ic.SetState(key, i+1)

		return ic.Emit(core.NewEvent(ic.InvocationID, ic.Agent.Name))
	}}
}

func TestBeforeAgent_OverrideSkipsRun(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("from model")

	a := NewModelAgent("assistant", llm, func(o *ModelAgentOptions) {
		o.BeforeAgent = []AgentCallback{func(*core.InvocationContext) (core.Result[*core.Content], error) {
			return core.Override(core.NewTextContent("", "cached")), nil
		}}
	})

	ic, rec := testutil.NewInvocation(t, a, "hi")
	require.NoError(t, a.Run(ic))

	assert.Equal(t, 0, llm.Calls())
	require.Len(t, rec.Events(), 1)

	ev := rec.Events()[0]
	assert.Equal(t, "assistant", ev.Author)
	assert.Equal(t, "cached", ev.Content.Text())
	assert.Equal(t, core.RoleModel, ev.Content.Role)
	assert.True(t, ev.Actions.IsSkipSummarization())
	assert.True(t, ev.TurnComplete)
}

func TestBeforeAgent_OverrideSkipsChildren(t *testing.T) {
	child := say("child", "never")
	seq := NewSequentialAgent("seq", child)
	seq.AddBeforeAgentCallback(func(*core.InvocationContext) (core.Result[*core.Content], error) {
		return core.Override(core.NewTextContent(core.RoleModel, "short-circuit")), nil
	})

	ic, rec := testutil.NewInvocation(t, seq, "hi")
	require.NoError(t, seq.Run(ic))

	assert.Equal(t, []string{"seq"}, rec.Authors())
	assert.Equal(t, []string{"short-circuit"}, rec.Texts())
}

func TestBeforeAgent_ProceedFlushesState(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("answer")

	a := NewModelAgent("assistant", llm, func(o *ModelAgentOptions) {
		o.BeforeAgent = []AgentCallback{func(ic *core.InvocationContext) (core.Result[*core.Content], error) {
			ic.SetState("temp:seen", true)
			return core.Proceed[*core.Content](), nil
		}}
	})

	ic, rec := testutil.NewInvocation(t, a, "hi")
	require.NoError(t, a.Run(ic))

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Nil(t, events[0].Content)
	assert.Equal(t, map[string]any{"temp:seen": true}, events[0].Actions.StateDelta)
	assert.Equal(t, "answer", events[1].Content.Text())
}

func TestAfterAgent_OverrideKeepsDelta(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("draft")

	a := NewModelAgent("writer", llm, func(o *ModelAgentOptions) {
		o.OutputKey = "story"
		o.AfterAgent = []AgentCallback{func(*core.InvocationContext) (core.Result[*core.Content], error) {
			return core.Override(core.NewTextContent(core.RoleModel, "polished")), nil
		}}
	})

	ic, rec := testutil.NewInvocation(t, a, "write")
	require.NoError(t, a.Run(ic))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "polished", events[0].Content.Text())
	assert.Equal(t, "draft", events[0].Actions.StateDelta["story"])

	v, ok := rec.Session.GetState("story")
	require.True(t, ok)
	assert.Equal(t, "draft", v)
}

func TestAfterAgent_OverrideOnCompositeAddsEvent(t *testing.T) {
	seq := NewSequentialAgent("seq", say("a", "one"))
	seq.AddAfterAgentCallback(func(*core.InvocationContext) (core.Result[*core.Content], error) {
		return core.Override(core.NewTextContent("", "summary")), nil
	})

	ic, rec := testutil.NewInvocation(t, seq, "hi")
	require.NoError(t, seq.Run(ic))

	assert.Equal(t, []string{"a", "seq"}, rec.Authors())
	assert.Equal(t, []string{"one", "summary"}, rec.Texts())
}

func TestAgentCallback_ErrorIsFatal(t *testing.T) {
	boom := errors.New("boom")

	seq := NewSequentialAgent("seq", say("a", "one"))
	seq.AddBeforeAgentCallback(func(*core.InvocationContext) (core.Result[*core.Content], error) {
		return core.Proceed[*core.Content](), boom
	})

	ic, rec := testutil.NewInvocation(t, seq, "hi")
	err := seq.Run(ic)
	require.Error(t, err)

	var cbErr *core.CallbackError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, core.PointBeforeAgent, cbErr.Point)
	assert.Equal(t, "seq", cbErr.Agent)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rec.Events())
}

func TestAgentCallback_FirstOverrideWins(t *testing.T) {
	var calls []string

	seq := NewSequentialAgent("seq", say("a", "one"))
	seq.AddBeforeAgentCallback(
		func(*core.InvocationContext) (core.Result[*core.Content], error) {
			calls = append(calls, "first")
			return core.Proceed[*core.Content](), nil
		},
		func(*core.InvocationContext) (core.Result[*core.Content], error) {
			calls = append(calls, "second")
			return core.Override(core.NewTextContent(core.RoleModel, "second")), nil
		},
		func(*core.InvocationContext) (core.Result[*core.Content], error) {
			calls = append(calls, "third")
			return core.Override(core.NewTextContent(core.RoleModel, "third")), nil
		},
	)

	ic, rec := testutil.NewInvocation(t, seq, "hi")
	require.NoError(t, seq.Run(ic))

	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"second"}, rec.Texts())
}

func TestBaseAgent_SubAgentsAreCopies(t *testing.T) {
	a, b := say("a", "x"), say("b", "y")
	seq := NewSequentialAgent("seq", a, b)

	subs := seq.SubAgents()
	subs[0] = nil

	assert.Equal(t, []core.Agent{a, b}, seq.SubAgents())
	assert.Equal(t, b, seq.FindAgent("b"))
	assert.Nil(t, seq.FindAgent("missing"))
	assert.Equal(t, core.KindSequential, seq.Kind())
	assert.Equal(t, "Agent seq", seq.Description())

	seq.SetDescription("runs a then b")
	assert.Equal(t, "runs a then b", seq.Description())
}

func TestValidate(t *testing.T) {
	t.Run("shared instance is allowed", func(t *testing.T) {
		shared := say("shared", "x")
		root := NewSequentialAgent("root", NewSequentialAgent("left", shared), NewSequentialAgent("right", shared))

		assert.NoError(t, Validate(root))
	})

	t.Run("duplicate names", func(t *testing.T) {
		root := NewSequentialAgent("root", say("dup", "x"), say("dup", "y"))

		err := Validate(root)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrDuplicateAgentName)
	})

	t.Run("loop without children", func(t *testing.T) {
		root := NewSequentialAgent("root", NewLoopAgent("loop", nil))

		err := Validate(root)
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrNoChildren)
	})

	t.Run("invalid output schema", func(t *testing.T) {
		a := NewModelAgent("a", model.NewScriptedModel("m"), func(o *ModelAgentOptions) {
			o.OutputSchema = map[string]any{"type": 42}
		})

		assert.Error(t, Validate(a))
	})

	t.Run("nil root", func(t *testing.T) {
		assert.Error(t, Validate(nil))
	})
}
