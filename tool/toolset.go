package tool

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// Toolset provides a dynamic list of tools. It is resolved again before
// every model turn, so the offered tools may depend on session state.
type Toolset interface {
	// Name identifies the toolset in errors and logs.
	Name() string

	// Tools returns the tools available for the current turn.
	Tools(ic *core.InvocationContext) ([]Tool, error)
}

// ToolsetOptions configures NewToolset.
type ToolsetOptions struct {
	// Prefix is prepended as "<prefix>_" to every tool name.
	Prefix string
}

// ToolsetFunc resolves the tools of one turn.
type ToolsetFunc func(ic *core.InvocationContext) ([]Tool, error)

type funcToolset struct {
	name   string
	prefix string
	fn     ToolsetFunc
}

// NewToolset creates a Toolset backed by fn.
func NewToolset(name string, fn ToolsetFunc, optFns ...func(o *ToolsetOptions)) Toolset {
	opts := ToolsetOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &funcToolset{name: name, prefix: opts.Prefix, fn: fn}
}

func (s *funcToolset) Name() string { return s.name }

func (s *funcToolset) Tools(ic *core.InvocationContext) ([]Tool, error) {
	tools, err := s.fn(ic)
	if err != nil {
		return nil, fmt.Errorf("toolset %s: %w", s.name, err)
	}

	if s.prefix == "" {
		return tools, nil
	}

	out := make([]Tool, len(tools))
	for i, t := range tools {
		out[i] = &prefixedTool{Tool: t, name: s.prefix + "_" + t.Name()}
	}

	return out, nil
}

// prefixedTool exposes t under another name.
type prefixedTool struct {
	Tool
	name string
}

func (t *prefixedTool) Name() string { return t.name }

func (t *prefixedTool) IsLongRunning() bool { return IsLongRunning(t.Tool) }

// ResolveTools flattens static tools and toolsets for one turn. Tool names
// must be unique across all sources.
func ResolveTools(ic *core.InvocationContext, static []Tool, toolsets []Toolset) ([]Tool, error) {
	tools := append([]Tool(nil), static...)

	for _, ts := range toolsets {
		resolved, err := ts.Tools(ic)
		if err != nil {
			return nil, err
		}

		tools = append(tools, resolved...)
	}

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if seen[t.Name()] {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}

		seen[t.Name()] = true
	}

	return tools, nil
}
