package flow

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

// InstructionsProcessor handles system prompt and instruction processing.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest stores the agent's resolved instruction as the system
// instruction.
func (p *InstructionsProcessor) ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	instructions, err := agent.ResolveInstruction(ic)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	req.SystemInstruction = instructions

	ic.LogDebug("agent.instruction.resolved", "agent", agent.Name(), "length", len(req.SystemInstruction))

	return nil
}

// ContentsProcessor assembles the conversation sent to the model.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest adds the conversation visible on the context's branch.
// Messages of other agents are rephrased as user context so the model does
// not mistake them for its own turns.
func (p *ContentsProcessor) ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	if !agent.IncludeHistory() || ic.Session == nil {
		if ic.UserContent != nil && len(ic.UserContent.Parts) > 0 {
			req.Contents = append(req.Contents, *ic.UserContent.Clone())
		}

		return nil
	}

	for _, ev := range ic.Session.History(ic.Branch) {
		if len(ev.Content.Parts) == 0 {
			continue
		}

		if ev.Author == agent.Name() || ev.Author == core.RoleUser {
			req.Contents = append(req.Contents, *ev.Content.Clone())
			continue
		}

		if c := foreignContent(ev); c != nil {
			req.Contents = append(req.Contents, *c)
		}
	}

	return nil
}

// foreignContent converts another agent's event into user-role context.
func foreignContent(ev core.Event) *core.Content {
	parts := make([]core.Part, 0, len(ev.Content.Parts)+1)
	parts = append(parts, core.TextPart{Text: "For context:"})

	for _, p := range ev.Content.Parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				parts = append(parts, core.TextPart{Text: fmt.Sprintf("[%s] said: %s", ev.Author, part.Text)})
			}
		case core.FunctionCallPart:
			parts = append(parts, core.TextPart{Text: fmt.Sprintf("[%s] called tool `%s` with parameters: %s",
				ev.Author, part.FunctionCall.Name, compactJSON(part.FunctionCall.Args))})
		case core.FunctionResponsePart:
			parts = append(parts, core.TextPart{Text: fmt.Sprintf("[%s] `%s` tool returned result: %s",
				ev.Author, part.FunctionResponse.Name, compactJSON(part.FunctionResponse.Response))})
		}
	}

	if len(parts) == 1 {
		return nil
	}

	return &core.Content{Role: core.RoleUser, Parts: parts}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}

// ToolsProcessor declares the agent's tools.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest adds one definition per tool.
func (p *ToolsProcessor) ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	tools, err := agent.Tools(ic)
	if err != nil {
		return err
	}

	for _, t := range tools {
		req.Tools = append(req.Tools, tool.Declaration(t))
	}

	return nil
}

// OutputSchemaProcessor requests structured output.
type OutputSchemaProcessor struct{}

// NewOutputSchemaProcessor creates a new output schema processor.
func NewOutputSchemaProcessor() *OutputSchemaProcessor { return &OutputSchemaProcessor{} }

// Name returns the processor's identifier.
func (p *OutputSchemaProcessor) Name() string { return "output_schema" }

// ProcessRequest copies the agent's output schema into the request.
func (p *OutputSchemaProcessor) ProcessRequest(_ *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	req.OutputSchema = agent.OutputSchema()
	return nil
}
