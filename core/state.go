package core

import "strings"

// Key prefixes partitioning the state namespace into persistence scopes.
const (
	AppPrefix  = "app:"
	UserPrefix = "user:"
	TempPrefix = "temp:"
)

// Scope identifies how long a state key lives and who shares it.
type Scope int

const (
	// ScopeSession keys (no prefix) live with a single session.
	ScopeSession Scope = iota
	// ScopeUser keys are shared by every session of the same user.
	ScopeUser
	// ScopeApp keys are shared by every session of the application.
	ScopeApp
	// ScopeInvocation keys are visible during one run and never persisted.
	ScopeInvocation
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopeSession:
		return "session"
	case ScopeUser:
		return "user"
	case ScopeApp:
		return "app"
	case ScopeInvocation:
		return "invocation"
	default:
		return "unknown"
	}
}

// ScopeOf derives the scope of key purely from its prefix.
func ScopeOf(key string) Scope {
	switch {
	case strings.HasPrefix(key, AppPrefix):
		return ScopeApp
	case strings.HasPrefix(key, UserPrefix):
		return ScopeUser
	case strings.HasPrefix(key, TempPrefix):
		return ScopeInvocation
	default:
		return ScopeSession
	}
}

// State is the flat materialized key/value view of a session.
type State map[string]any

// Get returns the value stored under key.
func (s State) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// ApplyDelta merges delta into the view (last writer wins) and returns it.
// A nil receiver yields a freshly allocated view.
func (s State) ApplyDelta(delta map[string]any) State {
	if s == nil {
		s = make(State, len(delta))
	}

	for k, v := range delta {
		s[k] = v
	}

	return s
}

// Clone returns a shallow copy of the view.
func (s State) Clone() State {
	c := make(State, len(s))
	for k, v := range s {
		c[k] = v
	}

	return c
}

// WithoutTemp returns a copy without invocation scoped keys.
func (s State) WithoutTemp() State {
	c := make(State, len(s))
	for k, v := range s {
		if ScopeOf(k) == ScopeInvocation {
			continue
		}
		c[k] = v
	}

	return c
}

// Fold replays deltas in order onto an empty view. It has no side effects
// outside the returned map, so replaying the same sequence always produces
// an identical view.
func Fold(deltas ...map[string]any) State {
	s := State{}
	for _, d := range deltas {
		s.ApplyDelta(d)
	}

	return s
}

// SplitByScope partitions delta by scope. Keys keep their prefixes.
func SplitByScope(delta map[string]any) map[Scope]map[string]any {
	out := map[Scope]map[string]any{}
	for k, v := range delta {
		sc := ScopeOf(k)
		if out[sc] == nil {
			out[sc] = map[string]any{}
		}
		out[sc][k] = v
	}

	return out
}

// PersistentDelta returns delta without invocation scoped keys, or nil when
// nothing remains.
func PersistentDelta(delta map[string]any) map[string]any {
	var out map[string]any
	for k, v := range delta {
		if ScopeOf(k) == ScopeInvocation {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(delta))
		}
		out[k] = v
	}

	return out
}
