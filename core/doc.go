// Package core provides the foundational domain types and execution
// contexts of agentflow:
//
//   - Agents and the variant tag used to dispatch on them
//   - Events, content parts and the actions they carry
//   - The scoped state store (session, user:, app:, temp:) and its fold
//   - Sessions and the SessionStore persistence contract
//   - InvocationContext / ToolContext, the only way agents and tools read
//     and stage state
//
// Concrete agents, the orchestration engine and store implementations live
// in sibling packages and depend on core, never the other way round.
package core
