package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/flow"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// ErrCodeOutputSchemaViolation marks a final answer that does not match the
// agent's output schema.
const ErrCodeOutputSchemaViolation = "OUTPUT_SCHEMA_VIOLATION"

// ModelAgentOptions configures a ModelAgent instance.
//
// Use functional options with NewModelAgent to override defaults.
type ModelAgentOptions struct {
	Description string
	Instruction Instruction
	Tools       []tool.Tool
	// Toolsets are resolved before every model turn and offered next to Tools.
	Toolsets []tool.Toolset
	// SubAgents are offered to the model as transfer targets.
	SubAgents []core.Agent
	// OutputKey receives the final answer in session state.
	OutputKey string
	// OutputSchema is the JSON schema the final answer must satisfy. The
	// decoded value is stored under OutputKey.
	OutputSchema     map[string]any
	MaxToolCallDepth int
	// DisallowTransfer hides the transfer_to_agent tool even with sub-agents.
	DisallowTransfer bool
	// ExcludeHistory sends only the current user message to the model.
	ExcludeHistory bool

	BeforeAgent []AgentCallback
	AfterAgent  []AgentCallback
	BeforeModel []flow.BeforeModelCallback
	AfterModel  []flow.AfterModelCallback
	BeforeTool  []flow.BeforeToolCallback
	AfterTool   []flow.AfterToolCallback
}

// ModelAgent is the leaf agent: it runs one reasoning step loop against a
// language model, executing tool calls until the model produces a final
// answer, a tool pauses on a long-running call or control is transferred.
//
// The final answer is committed as one terminal event after the after-agent
// callbacks ran; with an OutputKey it carries {OutputKey: answer} as its
// state delta.
type ModelAgent struct {
	BaseAgent
	llm              model.Model
	instruction      Instruction
	tools            []tool.Tool
	toolsets         []tool.Toolset
	outputKey        string
	outputSchema     map[string]any
	schema           *util.Schema
	schemaErr        error
	disallowTransfer bool
	excludeHistory   bool
	flow             *flow.Flow
}

// NewModelAgent creates a new model-based agent.
//
// Defaults:
//   - Instruction "You are <name>, a helpful AI assistant."
//   - MaxToolCallDepth flow.DefaultMaxToolCallDepth
//   - Conversation history included
//   - transfer_to_agent offered when sub-agents are configured
func NewModelAgent(name string, llm model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{
		Instruction:      NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", name)),
		MaxToolCallDepth: flow.DefaultMaxToolCallDepth,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ModelAgent{
		BaseAgent:        NewBaseAgent(name, core.KindLeaf),
		llm:              llm,
		instruction:      opts.Instruction,
		tools:            append([]tool.Tool(nil), opts.Tools...),
		toolsets:         append([]tool.Toolset(nil), opts.Toolsets...),
		outputKey:        opts.OutputKey,
		outputSchema:     opts.OutputSchema,
		disallowTransfer: opts.DisallowTransfer,
		excludeHistory:   opts.ExcludeHistory,
	}

	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}

	a.SetSubAgents(opts.SubAgents...)
	a.AddBeforeAgentCallback(opts.BeforeAgent...)
	a.AddAfterAgentCallback(opts.AfterAgent...)

	a.schema, a.schemaErr = util.CompileSchema(opts.OutputSchema)

	a.flow = flow.New(a, func(o *flow.Options) {
		o.MaxToolCallDepth = opts.MaxToolCallDepth
		o.Callbacks = flow.Callbacks{
			BeforeModel: opts.BeforeModel,
			AfterModel:  opts.AfterModel,
			BeforeTool:  opts.BeforeTool,
			AfterTool:   opts.AfterTool,
		}
	})
	a.flow.AddRequestProcessor(newTransferProcessor(a))

	return a
}

// Model returns the language model instance.
func (a *ModelAgent) Model() model.Model { return a.llm }

// ResolveInstruction returns the instruction rendered for ic.
func (a *ModelAgent) ResolveInstruction(ic *core.InvocationContext) (string, error) {
	return a.instruction.Resolve(ic)
}

// Tools returns the registered tools, the tools of every toolset resolved
// against ic, plus transfer_to_agent when transfer is enabled.
func (a *ModelAgent) Tools(ic *core.InvocationContext) ([]tool.Tool, error) {
	tools := a.tools
	if a.transferEnabled() {
		subs := a.SubAgents()

		names := make([]string, len(subs))
		for i, sub := range subs {
			names[i] = sub.Name()
		}

		tools = append(append([]tool.Tool(nil), a.tools...), tool.NewTransferToAgentTool(names...))
	}

	return tool.ResolveTools(ic, tools, a.toolsets)
}

// OutputSchema returns the JSON schema of the final answer, if any.
func (a *ModelAgent) OutputSchema() map[string]any { return a.outputSchema }

// OutputKey returns the session state key receiving the final answer.
func (a *ModelAgent) OutputKey() string { return a.outputKey }

// IncludeHistory reports whether prior conversation is sent to the model.
func (a *ModelAgent) IncludeHistory() bool { return !a.excludeHistory }

func (a *ModelAgent) transferEnabled() bool {
	return !a.disallowTransfer && len(a.SubAgents()) > 0
}

func (a *ModelAgent) validate() error {
	if a.schemaErr != nil {
		return fmt.Errorf("agent %s: invalid output schema: %w", a.Name(), a.schemaErr)
	}

	return nil
}

// Run implements core.Agent.
func (a *ModelAgent) Run(ic *core.InvocationContext) error {
	var transferTo string

	err := a.execute(ic, func(ic *core.InvocationContext) (turn, error) {
		t, target, err := a.reason(ic)
		transferTo = target

		return t, err
	})
	if err != nil {
		return err
	}

	return a.transfer(ic, transferTo)
}

// Resume continues the step loop after a long-running call of this agent
// was answered. Before-agent callbacks do not run again.
func (a *ModelAgent) Resume(ic *core.InvocationContext) (err error) {
	ic, span := a.startSpan(ic)
	defer func() { telemetry.End(span, err) }()

	ic.LogDebug("agent.resume.start", "agent", a.Name(), "branch", ic.Branch)

	var transferTo string

	err = a.complete(ic, func(ic *core.InvocationContext) (turn, error) {
		t, target, err := a.reason(ic)
		transferTo = target

		return t, err
	})
	if err != nil {
		return err
	}

	return a.transfer(ic, transferTo)
}

// reason runs the flow and prepares the terminal event.
func (a *ModelAgent) reason(ic *core.InvocationContext) (turn, string, error) {
	if err := a.validate(); err != nil {
		return turn{}, "", err
	}

	out, err := a.flow.Run(ic)
	if err != nil {
		return turn{}, "", fmt.Errorf("agent %s: %w", a.Name(), err)
	}

	if out.Paused {
		return turn{paused: true}, "", nil
	}

	if out.Final != nil {
		a.applyOutput(ic, out.Final)
		out.Final.TurnComplete = true
	}

	return turn{final: out.Final}, out.TransferTo, nil
}

// applyOutput validates the final answer and writes the output key.
func (a *ModelAgent) applyOutput(ic *core.InvocationContext, final *core.Event) {
	if final.IsError() || final.Content == nil {
		return
	}

	text := final.Content.Text()

	var value any = text

	if a.schema != nil {
		decoded, err := a.schema.ValidateJSON(stripCodeFence(text))
		if err != nil {
			ic.LogWarn("agent.output.schema_violation", "agent", a.Name(), "error", err.Error())

			final.ErrorCode = ErrCodeOutputSchemaViolation
			final.ErrorMessage = err.Error()

			return
		}

		value = decoded
	}

	if a.outputKey == "" {
		return
	}

	if final.Actions.StateDelta == nil {
		final.Actions.StateDelta = map[string]any{}
	}

	final.Actions.StateDelta[a.outputKey] = value
}

// transfer hands the invocation to the named agent of the tree.
func (a *ModelAgent) transfer(ic *core.InvocationContext, name string) error {
	if name == "" || ic.Paused() {
		return nil
	}

	if name == a.Name() {
		ic.LogWarn("agent.transfer.self", "agent", a.Name())
		return nil
	}

	target := core.FindAgent(ic.RootAgent(), name)
	if target == nil {
		return fmt.Errorf("agent %s: transfer to %s: %w", a.Name(), name, core.ErrAgentNotFound)
	}

	ic.LogInfo("agent.transfer", "from", a.Name(), "to", name)

	return runChild(ic, target)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}

	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// transferProcessor lists the transfer targets in the system instruction.
type transferProcessor struct {
	agent *ModelAgent
}

func newTransferProcessor(a *ModelAgent) *transferProcessor { return &transferProcessor{agent: a} }

func (p *transferProcessor) Name() string { return "transfer" }

func (p *transferProcessor) ProcessRequest(_ *core.InvocationContext, req *model.Request, _ flow.FlowAgent) error {
	if !p.agent.transferEnabled() {
		return nil
	}

	var b strings.Builder

	b.WriteString("You can hand the conversation to one of these agents by calling ")
	b.WriteString(tool.TransferToAgentToolName)
	b.WriteString(" when it is better suited:\n")

	for _, sub := range p.agent.SubAgents() {
		fmt.Fprintf(&b, "- %s: %s\n", sub.Name(), sub.Description())
	}

	if req.SystemInstruction != "" {
		req.SystemInstruction += "\n\n"
	}

	req.SystemInstruction += strings.TrimSuffix(b.String(), "\n")

	return nil
}
