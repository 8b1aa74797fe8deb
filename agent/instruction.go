package agent

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
	internalutil "github.com/hupe1980/agentflow/internal/util"
)

// Provider supplies instruction text at runtime.
type Provider interface {
	Instruction(ic *core.InvocationContext) (string, error)
}

// Func adapts a function to Provider.
type Func func(ic *core.InvocationContext) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ic *core.InvocationContext) (string, error) { return f(ic) }

// Instruction is the system prompt of a ModelAgent.
//
// Static text is a template over the session state seen by the agent:
// {key} fails when key is absent, {key?} renders empty and text containing
// "{{" is executed as text/template. Provider output is used verbatim, so a
// provider may emit braces freely and read state itself.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates a templated instruction.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an instruction computed by p on every model call.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an instruction computed by f on every model call.
func NewInstructionFromFunc(f func(ic *core.InvocationContext) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic reports whether the instruction is templated text.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// IsZero reports whether no instruction was configured.
func (i Instruction) IsZero() bool { return i.provider == nil && i.text == "" }

// Resolve returns the final instruction text for ic.
func (i Instruction) Resolve(ic *core.InvocationContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ic)
	}

	out, err := internalutil.RenderTemplate(i.text, ic.StateView())
	if err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}

	return out, nil
}
