// Package engine drives invocations of an agent tree against sessions.
//
// An Engine owns the commit pipeline every emitted event passes through.
// For one invocation the pipeline is serialized by a mutex, so parallel
// branches never interleave partial commits:
//
//	Emit -> OnStateChange hooks -> SessionStore.AppendEvent -> OnEvent hooks -> caller
//
// AppendEvent applies the event's state delta to the live session, so by the
// time the caller receives an event its delta is visible to every agent and
// persisted in the store. Partial events are forwarded without being stored.
//
// # Invocations
//
// Invoke stores the user event and runs the root agent in a goroutine. The
// returned event channel is closed when the run ends; the error channel then
// yields at most one terminal error. Keys with the temp: prefix are removed
// from the live session when the invocation ends.
//
// # Resumption
//
// When the user content carries function responses, each response id must
// name a long-running call issued earlier in the session. The leaves that
// issued those calls are resumed on their original branches instead of
// running the root agent:
//
//	_, events, _, _ := eng.Invoke(ctx, sess, &core.Content{
//	    Role:  core.RoleUser,
//	    Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: resp}},
//	})
//
// An unknown id fails with core.ErrUnknownFunctionCall before anything is
// stored.
//
// # Callbacks
//
// CallbackManager holds invocation level hooks (before/after invocation,
// state change validation, committed events, terminal errors). Agent, model
// and tool interception is configured on the agents.
package engine
