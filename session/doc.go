// Package session houses concrete implementations of core.SessionStore. The
// interface itself and the Session struct live in the core package so higher
// level packages (agents, engine) never depend on concrete storage.
//
// Backends:
//   - InMemoryStore     process local, for tests and single process apps
//   - session/sqlite    embedded SQL database (modernc.org/sqlite)
//   - session/redis     shared store for several runner processes
//
// Every backend persists app: and user: keys in shared scopes, session keys
// with the session and never persists temp: keys.
package session
