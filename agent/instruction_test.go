package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
)

type mockProvider struct {
	text string
	err  error
}

func (m mockProvider) Instruction(*core.InvocationContext) (string, error) { return m.text, m.err }

func newTestInvocationContext(t *testing.T) *core.InvocationContext {
	ic, _ := testutil.NewInvocation(t, nil, "hello")
	return ic
}

func TestInstruction_Static(t *testing.T) {
	inst := NewInstructionFromText("static instruction")
	require.True(t, inst.IsStatic())

	got, err := inst.Resolve(newTestInvocationContext(t))
	require.NoError(t, err)
	assert.Equal(t, "static instruction", got)
}

func TestInstruction_NewInstructionFromFunc(t *testing.T) {
	inst := NewInstructionFromFunc(func(ic *core.InvocationContext) (string, error) {
		return "dynamic for " + ic.UserContent.Text(), nil
	})
	require.False(t, inst.IsStatic())

	got, err := inst.Resolve(newTestInvocationContext(t))
	require.NoError(t, err)
	assert.Equal(t, "dynamic for hello", got)
}

func TestInstruction_NewInstructionFromProvider(t *testing.T) {
	inst := NewInstructionFromProvider(mockProvider{text: "provider text"})
	require.False(t, inst.IsStatic())

	got, err := inst.Resolve(newTestInvocationContext(t))
	require.NoError(t, err)
	assert.Equal(t, "provider text", got)
}

func TestInstruction_ErrorPropagation(t *testing.T) {
	expectedErr := errors.New("boom")
	inst := NewInstructionFromProvider(mockProvider{err: expectedErr})

	_, err := inst.Resolve(newTestInvocationContext(t))
	assert.ErrorIs(t, err, expectedErr)
}

func TestInstruction_RendersState(t *testing.T) {
	ic, rec := testutil.NewInvocation(t, nil, "hello")
	rec.Session.ApplyEvent(core.Event{Actions: core.EventActions{StateDelta: map[string]any{"topic": "robots", "user:name": "Ada"}}})
	ic.SetState("temp:mood", "cheerful")

	inst := NewInstructionFromText("Write about {topic} for {user:name} in a {temp:mood} tone{extra?}.")

	got, err := inst.Resolve(ic)
	require.NoError(t, err)
	assert.Equal(t, "Write about robots for Ada in a cheerful tone.", got)
}

func TestInstruction_MissingKey(t *testing.T) {
	_, err := NewInstructionFromText("Revise {story}.").Resolve(newTestInvocationContext(t))
	assert.ErrorContains(t, err, "story")
}

func TestInstruction_ProviderOutputIsVerbatim(t *testing.T) {
	inst := NewInstructionFromFunc(func(*core.InvocationContext) (string, error) {
		return "Answer as {\"topic\": ...}", nil
	})

	got, err := inst.Resolve(newTestInvocationContext(t))
	require.NoError(t, err)
	assert.Equal(t, "Answer as {\"topic\": ...}", got)
	assert.False(t, inst.IsZero())
	assert.True(t, Instruction{}.IsZero())
}
