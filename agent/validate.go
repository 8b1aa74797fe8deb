package agent

import (
	"errors"
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// Validate reports configuration errors in the tree rooted at root: two
// distinct agents sharing a name, loops without children and invalid output
// schemas. The same agent instance may appear under several parents.
func Validate(root core.Agent) error {
	if root == nil {
		return errors.New("nil root agent")
	}

	var errs []error

	seen := map[string]core.Agent{}
	visited := map[core.Agent]bool{}

	_ = core.WalkAgents(root, func(a core.Agent) error {
		if prev, ok := seen[a.Name()]; ok && prev != a {
			errs = append(errs, fmt.Errorf("%w: %s", core.ErrDuplicateAgentName, a.Name()))
		}

		seen[a.Name()] = a

		if visited[a] {
			return nil
		}

		visited[a] = true

		if v, ok := a.(interface{ validate() error }); ok {
			if err := v.validate(); err != nil {
				errs = append(errs, err)
			}
		}

		return nil
	})

	return errors.Join(errs...)
}
