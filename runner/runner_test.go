package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/session"
	"github.com/hupe1980/agentflow/telemetry"
)

func quiet(o *Options) { o.Telemetry = telemetry.Noop() }

func TestRunner_AutoCreatesSession(t *testing.T) {
	llm := model.NewScriptedModel("m").ThenText("Hello Ada")
	root := agent.NewModelAgent("greeter", llm, func(o *agent.ModelAgentOptions) {
		o.Instruction = agent.NewInstructionFromText("Greet {user:name}.")
		o.OutputKey = "greeting"
	})

	r, err := New("app", root, quiet)
	require.NoError(t, err)

	events, err := r.RunSync(context.Background(), "u1", "s1", core.NewTextContent(core.RoleUser, "hi"),
		func(o *RunOptions) { o.InitialState = map[string]any{"user:name": "Ada"} })
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Hello Ada", events[0].Content.Text())
	assert.Contains(t, llm.Requests()[0].SystemInstruction, "Greet Ada.")

	sess, err := r.Session(context.Background(), "u1", "s1")
	require.NoError(t, err)

	greeting, _ := sess.GetState("greeting")
	assert.Equal(t, "Hello Ada", greeting)
	assert.Len(t, sess.GetEvents(), 2)
}

func TestRunner_WithoutAutoCreate(t *testing.T) {
	r, err := New("app", &testutil.StubAgent{AgentName: "a"}, quiet, func(o *Options) { o.AutoCreateSession = false })
	require.NoError(t, err)

	_, _, _, err = r.RunText(context.Background(), "u1", "missing", "hi")
	require.ErrorIs(t, err, core.ErrSessionNotFound)

	_, err = r.SessionStore().Create(context.Background(), "app", "u1", "existing", nil)
	require.NoError(t, err)

	_, err = r.RunSync(context.Background(), "u1", "existing", core.NewTextContent(core.RoleUser, "hi"))
	require.NoError(t, err)
}

func TestRunner_RejectsInvalidTree(t *testing.T) {
	a := &testutil.StubAgent{AgentName: "same"}
	b := &testutil.StubAgent{AgentName: "same"}

	_, err := New("app", agent.NewSequentialAgent("root", a, b))
	require.ErrorIs(t, err, core.ErrDuplicateAgentName)

	_, err = New("app", nil)
	require.Error(t, err)
}

func TestRunner_StreamIsLazy(t *testing.T) {
	proceed := make(chan struct{})

	root := &testutil.StubAgent{AgentName: "stepper", RunFunc: func(ic *core.InvocationContext) error {
		if err := ic.Emit(core.NewMessageEvent("", "step 1")); err != nil {
			return err
		}

		<-proceed

		return ic.Emit(core.NewMessageEvent("", "step 2"))
	}}

	r, err := New("app", root, quiet)
	require.NoError(t, err)

	_, events, errs, err := r.RunText(context.Background(), "u1", "s1", "go")
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "step 1", first.Content.Text(), "first event arrives while the agent is still running")

	close(proceed)

	second := <-events
	assert.Equal(t, "step 2", second.Content.Text())

	_, open := <-events
	assert.False(t, open)
	assert.NoError(t, <-errs)
}

func TestRunner_SharedScopesAcrossSessions(t *testing.T) {
	root := &testutil.StubAgent{AgentName: "counter", RunFunc: func(ic *core.InvocationContext) error {
		n, _ := ic.GetState("user:visits")
		count, _ := n.(int)

		ic.SetState("user:visits", count+1)
		ic.SetState("app:last_user", ic.Session.UserID)
		ic.SetState("seen", true)

		return ic.Emit(core.NewMessageEvent("", "counted"))
	}}

	store := session.NewInMemoryStore()

	r, err := New("app", root, quiet, func(o *Options) { o.SessionStore = store })
	require.NoError(t, err)

	ctx := context.Background()

	for _, sid := range []string{"s1", "s2"} {
		_, err := r.RunSync(ctx, "u1", sid, core.NewTextContent(core.RoleUser, "hi"))
		require.NoError(t, err)
	}

	_, err = r.RunSync(ctx, "u2", "s3", core.NewTextContent(core.RoleUser, "hi"))
	require.NoError(t, err)

	s2, err := r.Session(ctx, "u1", "s2")
	require.NoError(t, err)

	visits, _ := s2.GetState("user:visits")
	assert.Equal(t, 2, visits)

	s3, err := r.Session(ctx, "u2", "s3")
	require.NoError(t, err)

	visits, _ = s3.GetState("user:visits")
	assert.Equal(t, 1, visits)

	last, _ := s2.GetState("app:last_user")
	assert.Equal(t, "u2", last)
}

func TestRunner_Cancel(t *testing.T) {
	started := make(chan struct{})

	root := &testutil.StubAgent{AgentName: "blocking", RunFunc: func(ic *core.InvocationContext) error {
		close(started)
		<-ic.Done()

		return ic.Err()
	}}

	r, err := New("app", root, quiet)
	require.NoError(t, err)

	id, events, errs, err := r.RunText(context.Background(), "u1", "s1", "wait")
	require.NoError(t, err)

	<-started
	require.NoError(t, r.Cancel(id))

	for range events {
	}

	assert.ErrorIs(t, <-errs, context.Canceled)
	assert.Error(t, r.Cancel(id))
}

func TestRunner_FatalErrorEndsStream(t *testing.T) {
	boom := errors.New("model unreachable")

	root := agent.NewModelAgent("assistant", model.NewScriptedModel("m").ThenError(boom))

	r, err := New("app", root, quiet)
	require.NoError(t, err)

	events, err := r.RunSync(context.Background(), "u1", "s1", core.NewTextContent(core.RoleUser, "hi"))
	require.ErrorIs(t, err, boom)
	assert.Empty(t, events)
}
