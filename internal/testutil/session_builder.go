package testutil

import (
	"context"
	"testing"

	"github.com/hupe1980/agentflow/core"
)

// SessionBuilder seeds a session into a store with fluent chaining.
// Example:
//
//	sess := NewSessionBuilder("app", "u1", "s1").State("k", "v").Events(ev1, ev2).Seed(t, store)
type SessionBuilder struct {
	appName string
	userID  string
	id      string
	state   map[string]any
	events  []core.Event
}

// NewSessionBuilder creates a builder for the session (appName, userID, id).
func NewSessionBuilder(appName, userID, id string) *SessionBuilder {
	return &SessionBuilder{appName: appName, userID: userID, id: id, state: map[string]any{}}
}

// State sets the initial value of a key (chainable).
func (b *SessionBuilder) State(key string, val any) *SessionBuilder {
	b.state[key] = val
	return b
}

// Events appends events committed after creation (chainable).
func (b *SessionBuilder) Events(evs ...core.Event) *SessionBuilder {
	b.events = append(b.events, evs...)
	return b
}

// Seed creates the session in store, appends the events and returns the
// live session.
func (b *SessionBuilder) Seed(t testing.TB, store core.SessionStore) *core.Session {
	t.Helper()

	ctx := context.Background()

	sess, err := store.Create(ctx, b.appName, b.userID, b.id, b.state)
	if err != nil {
		t.Fatalf("seed session %s: %v", b.id, err)
	}

	for _, ev := range b.events {
		if err := store.AppendEvent(ctx, sess, ev); err != nil {
			t.Fatalf("seed event %s: %v", ev.ID, err)
		}
	}

	return sess
}
