package core

// AgentKind tags the agent variant so orchestration code can dispatch on it.
type AgentKind string

const (
	KindLeaf       AgentKind = "leaf"
	KindSequential AgentKind = "sequential"
	KindLoop       AgentKind = "loop"
	KindParallel   AgentKind = "parallel"
	KindCustom     AgentKind = "custom"
)

// Agent defines the interface every agent variant implements.
//
// Agents receive an InvocationContext, emit events through it and return
// when their contribution is complete. Returning a non-nil error is fatal to
// the current invocation. Composite agents run their SubAgents; the same
// child instance may appear under several composites, so agents keep no
// back-reference to a parent.
type Agent interface {
	Name() string
	Description() string
	Kind() AgentKind
	SubAgents() []Agent
	Run(ic *InvocationContext) error
}

// Resumable is implemented by agents that can continue after a long-running
// tool call was answered by a later user event.
type Resumable interface {
	Agent
	Resume(ic *InvocationContext) error
}

// AgentInfo carries identifying details about an agent used in contexts & events.
type AgentInfo struct {
	Name string
	Kind AgentKind
}

// FindAgent performs a depth-first search for name starting at root.
func FindAgent(root Agent, name string) Agent {
	if root == nil {
		return nil
	}

	if root.Name() == name {
		return root
	}

	for _, child := range root.SubAgents() {
		if a := FindAgent(child, name); a != nil {
			return a
		}
	}

	return nil
}

// WalkAgents visits every agent reachable from root in depth-first order.
// Aliased children are visited once per occurrence.
func WalkAgents(root Agent, fn func(a Agent) error) error {
	if root == nil {
		return nil
	}

	if err := fn(root); err != nil {
		return err
	}

	for _, child := range root.SubAgents() {
		if err := WalkAgents(child, fn); err != nil {
			return err
		}
	}

	return nil
}
