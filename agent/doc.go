// Package agent contains the agent variants and supporting utilities for
// building composable orchestration trees in agentflow:
//
//  1. ModelAgent, the leaf that drives a model and its tools through a flow
//  2. SequentialAgent, LoopAgent and ParallelAgent, the declarative composites
//  3. CustomAgent, an explicit list of lazily evaluated stages
//
// Every variant embeds BaseAgent, which runs the before-agent and after-agent
// callbacks around the variant's own logic. Agents keep no parent pointer, so
// one definition may be reused under several composites. Validate checks a
// tree for configuration errors before it is handed to a runner.
//
// Execution Model:
//   - Run receives a *core.InvocationContext derived for the agent
//   - Events are committed one by one through InvocationContext.Emit
//   - Only ParallelAgent spawns goroutines; all other composites run their
//     children in order on the calling goroutine
package agent
