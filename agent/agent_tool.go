package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/tool"
)

// AgentToolOptions configures an AgentTool.
type AgentToolOptions struct {
	// InputSchema replaces the default {"request": string} parameters. The
	// validated arguments are passed to the agent as JSON text.
	InputSchema map[string]any
	// SkipSummarization ends the calling agent's turn with the tool result.
	SkipSummarization bool
}

// AgentTool exposes an agent as a tool. Each call runs the agent against an
// isolated in-memory session seeded with the caller's state view; the
// agent's final text is the tool result and the state it wrote is copied
// back to the caller through the tool context.
type AgentTool struct {
	agent             core.Agent
	parameters        map[string]any
	customInput       bool
	skipSummarization bool

	once      sync.Once
	schema    *util.Schema
	schemaErr error
}

// NewAgentTool wraps a.
func NewAgentTool(a core.Agent, optFns ...func(o *AgentToolOptions)) *AgentTool {
	opts := AgentToolOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &AgentTool{
		agent:             a,
		parameters:        opts.InputSchema,
		customInput:       len(opts.InputSchema) > 0,
		skipSummarization: opts.SkipSummarization,
	}

	if !t.customInput {
		t.parameters = map[string]any{
			"type": "object",
			"properties": map[string]any{
				"request": map[string]any{"type": "string", "description": "The request for " + a.Name()},
			},
			"required": []string{"request"},
		}
	}

	return t
}

// Name implements tool.Tool.
func (t *AgentTool) Name() string { return t.agent.Name() }

// Description implements tool.Tool.
func (t *AgentTool) Description() string { return t.agent.Description() }

// Parameters implements tool.Tool.
func (t *AgentTool) Parameters() map[string]any { return t.parameters }

// Call implements tool.Tool.
func (t *AgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	t.once.Do(func() { t.schema, t.schemaErr = util.CompileSchema(t.parameters) })

	if t.schemaErr != nil {
		return nil, t.schemaErr
	}

	if err := t.schema.Validate(args); err != nil {
		return nil, &tool.ToolError{Tool: t.Name(), Message: err.Error(), Code: "VALIDATION_ERROR", Details: err}
	}

	input, err := t.input(args)
	if err != nil {
		return nil, err
	}

	parent := tc.InvocationContext()

	sess := core.NewSession(parent.Session.AppName, parent.Session.UserID, core.NewID())
	sess.State = parent.StateView()

	userContent := core.NewTextContent(core.RoleUser, input)
	sess.ApplyEvent(core.NewUserContentEvent(parent.InvocationID, userContent))

	child := parent.WithCommit(sess, func(ev core.Event) error {
		sess.ApplyEvent(ev)
		return nil
	}).ForAgent(t.agent)
	child.UserContent = userContent
	child.Branch = ""

	tc.LogDebug("agent.tool.start", "agent", t.agent.Name(), "caller", tc.AgentName())

	if err := t.agent.Run(child); err != nil {
		return nil, err
	}

	if child.Paused() {
		return nil, fmt.Errorf("agent tool %s: long-running calls cannot be answered inside an agent tool", t.Name())
	}

	var result string

	for _, ev := range sess.GetEvents() {
		if ev.Author == core.RoleUser {
			continue
		}

		for k, v := range ev.Actions.StateDelta {
			tc.SetState(k, v)
		}

		if ev.Content != nil && len(ev.FunctionCalls()) == 0 && len(ev.FunctionResponses()) == 0 && ev.Content.Text() != "" {
			result = ev.Content.Text()
		}
	}

	if t.skipSummarization {
		tc.SkipSummarization()
	}

	return result, nil
}

func (t *AgentTool) input(args map[string]any) (string, error) {
	if !t.customInput {
		s, _ := args["request"].(string)
		return s, nil
	}

	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("agent tool %s: encode input: %w", t.Name(), err)
	}

	return string(b), nil
}
