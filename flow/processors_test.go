package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

func TestInstructionsProcessor_UsesResolvedInstruction(t *testing.T) {
	ic, _ := newFlowInvocation(t)

	agent := &testAgent{name: "assistant", instruction: "Reply with {\"ok\": true}."}
	req := new(model.Request)

	require.NoError(t, NewInstructionsProcessor().ProcessRequest(ic, req, agent))
	assert.Equal(t, `Reply with {"ok": true}.`, req.SystemInstruction)
	assert.Equal(t, "instructions", NewInstructionsProcessor().Name())
}

func TestContentsProcessor_ForeignAgentsBecomeContext(t *testing.T) {
	ic, rec := newFlowInvocation(t)
	rec.Session.ApplyEvent(core.NewMessageEvent("writer", "once upon a time"))
	rec.Session.ApplyEvent(core.NewMessageEvent("assistant", "my own words"))

	req := new(model.Request)
	require.NoError(t, NewContentsProcessor().ProcessRequest(ic, req, &testAgent{name: "assistant"}))
	require.Len(t, req.Contents, 3)

	assert.Equal(t, core.RoleUser, req.Contents[0].Role)
	assert.Equal(t, "hi", req.Contents[0].Text())

	assert.Equal(t, core.RoleUser, req.Contents[1].Role)
	assert.Contains(t, req.Contents[1].Text(), "[writer] said: once upon a time")

	assert.Equal(t, core.RoleModel, req.Contents[2].Role)
	assert.Equal(t, "my own words", req.Contents[2].Text())
}

func TestContentsProcessor_SiblingBranchesAreHidden(t *testing.T) {
	ic, rec := newFlowInvocation(t)

	left := core.NewMessageEvent("left", "left says")
	left.Branch = "fanout.left"
	right := core.NewMessageEvent("right", "right says")
	right.Branch = "fanout.right"
	rec.Session.ApplyEvent(left)
	rec.Session.ApplyEvent(right)

	ic.Branch = "fanout.left"

	req := new(model.Request)
	require.NoError(t, NewContentsProcessor().ProcessRequest(ic, req, &testAgent{name: "left"}))
	require.Len(t, req.Contents, 2)
	assert.Equal(t, "left says", req.Contents[1].Text())
}

func TestContentsProcessor_WithoutHistory(t *testing.T) {
	ic, rec := newFlowInvocation(t)
	rec.Session.ApplyEvent(core.NewMessageEvent("writer", "noise"))

	req := new(model.Request)
	require.NoError(t, NewContentsProcessor().ProcessRequest(ic, req, &testAgent{name: "assistant", noHistory: true}))
	require.Len(t, req.Contents, 1)
	assert.Equal(t, "hi", req.Contents[0].Text())
}

func TestToolsAndOutputSchemaProcessors(t *testing.T) {
	ic, _ := newFlowInvocation(t)
	schema := map[string]any{"type": "object"}
	agent := &testAgent{
		name:   "assistant",
		tools:  []tool.Tool{addTool(), tool.NewLongRunningFunctionTool("approve", "Approve", nil, nil)},
		schema: schema,
	}

	req := new(model.Request)
	require.NoError(t, NewToolsProcessor().ProcessRequest(ic, req, agent))
	require.NoError(t, NewOutputSchemaProcessor().ProcessRequest(ic, req, agent))

	require.Len(t, req.Tools, 2)
	assert.Equal(t, "add", req.Tools[0].Name)
	assert.Contains(t, req.Tools[1].Description, "long-running")
	assert.Equal(t, schema, req.OutputSchema)
}
