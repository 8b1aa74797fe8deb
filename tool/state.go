package tool

import (
	"fmt"
	"slices"

	"github.com/hupe1980/agentflow/core"
)

// StateToolName is the default name of the state tool.
const StateToolName = "state_manager"

// State tool operations.
const (
	OpGetState          = "get_state"
	OpSetState          = "set_state"
	OpTransferAgent     = "transfer_agent"
	OpEscalate          = "escalate"
	OpSkipSummarization = "skip_summarization"
)

var allStateOps = []string{OpGetState, OpSetState, OpTransferAgent, OpEscalate, OpSkipSummarization}

// StateToolOptions configures NewStateTool.
type StateToolOptions struct {
	// Name overrides StateToolName.
	Name string
	// Description overrides the default description.
	Description string
	// Operations restricts the advertised operations. Empty means all.
	Operations []string
}

// StateTool lets the model read and write session state and signal flow
// control (escalate, transfer, skip summarization) through the ToolContext.
// Keys carry their scope prefix ("app:", "user:", "temp:") as usual.
type StateTool struct {
	name        string
	description string
	ops         []string
}

// NewStateTool creates the state tool.
func NewStateTool(optFns ...func(o *StateToolOptions)) *StateTool {
	opts := StateToolOptions{
		Name: StateToolName,
		Description: "Manages session state and agent flow control. " +
			"Read or write a state key, escalate to end the enclosing loop, " +
			"transfer to another agent or skip the follow-up summary.",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	ops := allStateOps
	if len(opts.Operations) > 0 {
		ops = append([]string(nil), opts.Operations...)
	}

	return &StateTool{name: opts.Name, description: opts.Description, ops: ops}
}

// Name implements Tool.
func (t *StateTool) Name() string { return t.name }

// Description implements Tool.
func (t *StateTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *StateTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        t.ops,
				"description": "The state management operation to perform",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "State key for get_state/set_state",
			},
			"value": map[string]any{
				"description": "Value for set_state (any type)",
			},
			"agent_name": map[string]any{
				"type":        "string",
				"description": "Agent name for transfer_agent",
			},
		},
		"required": []string{"operation"},
	}
}

// Call dispatches on args["operation"]. Malformed arguments are reported to
// the model as validation errors.
func (t *StateTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	op, _ := args["operation"].(string)
	if !slices.Contains(t.ops, op) {
		return nil, NewToolError(t.name, fmt.Sprintf("unknown operation: %q", op), "VALIDATION_ERROR")
	}

	switch op {
	case OpGetState:
		key, err := t.key(args, op)
		if err != nil {
			return nil, err
		}

		value, exists := tc.GetState(key)

		return map[string]any{"key": key, "exists": exists, "value": value}, nil
	case OpSetState:
		key, err := t.key(args, op)
		if err != nil {
			return nil, err
		}

		tc.SetState(key, args["value"])

		return map[string]any{"key": key, "value": args["value"], "success": true}, nil
	case OpTransferAgent:
		name, _ := args["agent_name"].(string)
		if name == "" {
			return nil, NewToolError(t.name, "agent_name is required for transfer_agent", "VALIDATION_ERROR")
		}

		tc.TransferToAgent(name)
		tc.SkipSummarization()

		return map[string]any{"agent_name": name, "success": true}, nil
	case OpEscalate:
		tc.Escalate()

		return map[string]any{"success": true, "message": "Escalation initiated"}, nil
	default:
		tc.SkipSummarization()

		return map[string]any{"success": true}, nil
	}
}

func (t *StateTool) key(args map[string]any, op string) (string, error) {
	key, _ := args["key"].(string)
	if key == "" {
		return "", NewToolError(t.name, "key is required for "+op, "VALIDATION_ERROR")
	}

	return key, nil
}
