package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
)

func TestCustomAgent_StagesInOrder(t *testing.T) {
	a, b := say("a", "one"), say("b", "two")

	custom := NewCustomAgent("custom",
		RunAgent(a),
		StageFunc(func(ic *core.InvocationContext) error {
			ic.SetState("between", true)
			return nil
		}),
		RunAgent(b),
	)

	assert.Equal(t, []core.Agent{a, b}, custom.SubAgents())
	assert.Equal(t, core.KindCustom, custom.Kind())

	ic, rec := testutil.NewInvocation(t, custom, "go")
	require.NoError(t, custom.Run(ic))

	assert.Equal(t, []string{"a", "b"}, rec.Authors()[:2])
	assert.Equal(t, []string{"one", "two"}, rec.Texts())

	v, ok := rec.Session.GetState("between")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestCustomAgent_When(t *testing.T) {
	regenerate := say("regenerate", "again")

	custom := NewCustomAgent("custom",
		RunAgent(writer("check", "tone", "negative")),
		When(func(s core.State) bool {
			v, _ := s.Get("tone")
			return v == "negative"
		}, RunAgent(regenerate)),
		When(func(s core.State) bool { return false }, RunAgent(say("skipped", "never"))),
	)

	ic, rec := testutil.NewInvocation(t, custom, "go")
	require.NoError(t, custom.Run(ic))

	assert.Equal(t, []string{"check", "regenerate"}, rec.Authors())
	assert.Len(t, custom.SubAgents(), 3)
}

func TestWhenExpr(t *testing.T) {
	t.Run("evaluates against state", func(t *testing.T) {
		custom := NewCustomAgent("custom",
			RunAgent(writer("check", "tone", "negative")),
			MustWhenExpr(`has(state.tone) && state.tone == "negative"`, RunAgent(say("regenerate", "again"))),
			MustWhenExpr(`state["tone"] == "positive"`, RunAgent(say("celebrate", "never"))),
		)

		ic, rec := testutil.NewInvocation(t, custom, "go")
		require.NoError(t, custom.Run(ic))

		assert.Equal(t, []string{"check", "regenerate"}, rec.Authors())
	})

	t.Run("scoped keys use index syntax", func(t *testing.T) {
		custom := NewCustomAgent("custom",
			RunAgent(writer("tier", "user:tier", "gold")),
			MustWhenExpr(`state["user:tier"] == "gold"`, RunAgent(say("upsell", "offer"))),
		)

		ic, rec := testutil.NewInvocation(t, custom, "go")
		require.NoError(t, custom.Run(ic))

		assert.Equal(t, []string{"tier", "upsell"}, rec.Authors())
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := WhenExpr(`state.tone ==`, RunAgent(say("x", "x")))
		assert.Error(t, err)
	})

	t.Run("non boolean expression", func(t *testing.T) {
		_, err := WhenExpr(`"text"`, RunAgent(say("x", "x")))
		assert.Error(t, err)
	})

	t.Run("missing key is fatal", func(t *testing.T) {
		custom := NewCustomAgent("custom", MustWhenExpr(`state.tone == "negative"`, RunAgent(say("x", "x"))))

		ic, _ := testutil.NewInvocation(t, custom, "go")
		assert.Error(t, custom.Run(ic))
	})

	t.Run("must panics", func(t *testing.T) {
		assert.Panics(t, func() { MustWhenExpr(`(`, nil) })
	})
}

func TestCustomAgent_Defer(t *testing.T) {
	short, long := say("short", "brief"), say("long", "detailed")

	custom := NewCustomAgent("custom", Defer(func(ic *core.InvocationContext) Stage {
		if ic.UserContent.Text() == "tl;dr" {
			return RunAgent(short)
		}

		return RunAgent(long)
	}), Defer(func(*core.InvocationContext) Stage { return nil }))
	custom.SetSubAgents(short, long)

	ic, rec := testutil.NewInvocation(t, custom, "tl;dr")
	require.NoError(t, custom.Run(ic))

	assert.Equal(t, []string{"brief"}, rec.Texts())
}

func TestCustomAgent_StageError(t *testing.T) {
	boom := errors.New("boom")

	custom := NewCustomAgent("custom",
		RunAgent(say("a", "one")),
		StageFunc(func(*core.InvocationContext) error { return boom }),
		RunAgent(say("c", "never")),
	)

	ic, rec := testutil.NewInvocation(t, custom, "go")
	err := custom.Run(ic)
	require.Error(t, err)

	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stage 2")
	assert.Equal(t, []string{"a"}, rec.Authors())
}
