package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

func TestAgentTool_RunsNestedAgent(t *testing.T) {
	helperLLM := model.NewScriptedModel("helper").ThenText("42")
	helper := NewModelAgent("calculator", helperLLM, func(o *ModelAgentOptions) {
		o.Description = "Does arithmetic"
		o.OutputKey = "calc_result"
	})

	at := NewAgentTool(helper)
	assert.Equal(t, "calculator", at.Name())
	assert.Equal(t, "Does arithmetic", at.Description())

	parentLLM := model.NewScriptedModel("parent").
		ThenCall("c1", "calculator", map[string]any{"request": "6 * 7"}).
		ThenText("the answer is 42")
	parent := NewModelAgent("assistant", parentLLM, func(o *ModelAgentOptions) {
		o.Tools = []tool.Tool{at}
	})

	ic, rec := testutil.NewInvocation(t, parent, "what is 6 * 7?")
	require.NoError(t, parent.Run(ic))

	assert.Equal(t, []string{"assistant", "assistant", "assistant"}, rec.Authors())

	responses := rec.Events()[1].FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, "42", responses[0].Response)

	v, ok := rec.Session.GetState("calc_result")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	nested := helperLLM.Requests()[0].Contents
	require.Len(t, nested, 1)
	assert.Equal(t, "6 * 7", nested[0].Text())
}

func TestAgentTool_SeesParentState(t *testing.T) {
	helperLLM := model.NewScriptedModel("helper").ThenText("ok")
	helper := NewModelAgent("helper", helperLLM, func(o *ModelAgentOptions) {
		o.Instruction = NewInstructionFromText("Tone: {tone}")
	})

	ic, rec := testutil.NewInvocation(t, nil, "go")

	seed := core.NewEvent("seed", "user")
	seed.Actions.StateDelta = map[string]any{"tone": "formal"}
	rec.Session.ApplyEvent(seed)

	tc := core.NewToolContext(ic, "c1")
	out, err := NewAgentTool(helper).Call(tc, map[string]any{"request": "hello"})
	require.NoError(t, err)

	assert.Equal(t, "ok", out)
	assert.Equal(t, "Tone: formal", helperLLM.Requests()[0].SystemInstruction)
	assert.Empty(t, rec.Events())
}

func TestAgentTool_ValidatesInput(t *testing.T) {
	at := NewAgentTool(say("helper", "x"))

	ic, _ := testutil.NewInvocation(t, nil, "go")

	_, err := at.Call(core.NewToolContext(ic, "c1"), map[string]any{})
	require.Error(t, err)

	var toolErr *tool.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestAgentTool_CustomInputSchema(t *testing.T) {
	helperLLM := model.NewScriptedModel("helper").ThenText("done")
	helper := NewModelAgent("helper", helperLLM)

	at := NewAgentTool(helper, func(o *AgentToolOptions) {
		o.InputSchema = map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
			"required":   []string{"city"},
		}
		o.SkipSummarization = true
	})

	ic, _ := testutil.NewInvocation(t, nil, "go")
	tc := core.NewToolContext(ic, "c1")

	out, err := at.Call(tc, map[string]any{"city": "Berlin"})
	require.NoError(t, err)

	assert.Equal(t, "done", out)
	assert.JSONEq(t, `{"city":"Berlin"}`, helperLLM.Requests()[0].Contents[0].Text())
	assert.True(t, tc.Actions().IsSkipSummarization())
}
