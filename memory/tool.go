package memory

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/tool"
)

// SearchArgs are the arguments of the search_memory tool.
type SearchArgs struct {
	Query string `json:"query" description:"Keywords to look for in earlier conversations"`
	Limit int    `json:"limit,omitempty" description:"Maximum number of results (default 5)"`
}

// NewSearchTool exposes store to a model as search_memory. Results are
// limited to the app and user of the calling session.
func NewSearchTool(store Store) *tool.FunctionTool {
	return tool.NewFunctionToolFromStruct(
		"search_memory",
		"Search what the user said or was told in earlier conversations.",
		SearchArgs{},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			query, _ := args["query"].(string)

			limit := 5
			if l, ok := args["limit"].(float64); ok && l > 0 {
				limit = int(l)
			}

			sess := tc.InvocationContext().Session

			entries, err := store.Search(tc.Context(), sess.AppName, sess.UserID, query, limit)
			if err != nil {
				return nil, err
			}

			tc.Logger().Debug("memory.search", "query", query, "results", len(entries))

			return map[string]any{"memories": entries}, nil
		},
	)
}
