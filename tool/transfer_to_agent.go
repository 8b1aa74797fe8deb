package tool

import "github.com/hupe1980/agentflow/core"

// TransferToAgentToolName is the name under which the transfer tool is exposed.
const TransferToAgentToolName = "transfer_to_agent"

// TransferToAgentTool hands control to another agent of the tree once the
// current agent's turn ends. The target name is resolved by the calling agent;
// an unknown name is fatal to the invocation.
type TransferToAgentTool struct {
	targets []string
}

// NewTransferToAgentTool creates the transfer tool. Non-empty targets are
// advertised to the model as the allowed values of "agent".
func NewTransferToAgentTool(targets ...string) *TransferToAgentTool {
	return &TransferToAgentTool{targets: append([]string(nil), targets...)}
}

// Name implements Tool.
func (t *TransferToAgentTool) Name() string { return TransferToAgentToolName }

// Description implements Tool.
func (t *TransferToAgentTool) Description() string {
	return "Hand the conversation to another agent by name when it is better suited to answer."
}

// Parameters implements Tool.
func (t *TransferToAgentTool) Parameters() map[string]any {
	agent := map[string]any{"type": "string", "description": "Name of the agent to transfer to"}
	if len(t.targets) > 0 {
		agent["enum"] = t.targets
	}

	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"agent": agent},
		"required":   []string{"agent"},
	}
}

// Call records the transfer on the tool context and skips the follow-up
// model call of the current agent.
func (t *TransferToAgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	name, _ := args["agent"].(string)
	if name == "" {
		return nil, NewToolError(TransferToAgentToolName, "field 'agent' must be a non-empty string", "VALIDATION_ERROR")
	}

	tc.TransferToAgent(name)
	tc.SkipSummarization()

	return map[string]any{"transferred": true, "agent": name}, nil
}
