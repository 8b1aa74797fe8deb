package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Session represents a conversational container identified by
// (AppName, UserID, ID). It owns an append-only event log and the
// materialized state folded from the deltas of those events, merged with
// the app and user scoped keys shared across sessions. It is safe for
// concurrent access.
//
// Contract:
//   - The log and the state only change through ApplyEvent
//   - GetEvents returns a defensive copy to avoid external mutation
//   - Clone performs deep copies of maps/slices for safe divergence
type Session struct {
	ID      string    `json:"id"`
	AppName string    `json:"app_name"`
	UserID  string    `json:"user_id"`
	State   State     `json:"state"`
	Events  []Event   `json:"events"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
	mu      sync.RWMutex
}

// NewSession creates an empty session.
func NewSession(appName, userID, id string) *Session {
	now := time.Now().UTC()

	return &Session{
		ID:      id,
		AppName: appName,
		UserID:  userID,
		State:   State{},
		Events:  []Event{},
		Created: now,
		Updated: now,
	}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.State[key]

	return v, ok
}

// StateSnapshot returns a copy of the materialized state.
func (s *Session) StateSnapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.State.Clone()
}

// ApplyEvent appends ev to the log and folds its delta into the state as one
// indivisible step.
func (s *Session) ApplyEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.State = s.State.ApplyDelta(ev.Actions.StateDelta)
	s.Events = append(s.Events, ev)
	s.Updated = ev.Timestamp
}

// ClearTemp removes invocation scoped keys from the live state.
func (s *Session) ClearTemp() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.State {
		if ScopeOf(k) == ScopeInvocation {
			delete(s.State, k)
		}
	}
}

// GetEvents returns a defensive copy of the full event slice.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]Event, len(s.Events))
	copy(events, s.Events)

	return events
}

// History returns the non-partial content events visible from branch: events
// on the root branch, on an ancestor branch, or on branch itself. Sibling
// parallel branches do not see each other's conversation.
func (s *Session) History(branch string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]Event, 0, len(s.Events))

	for _, ev := range s.Events {
		if ev.Content == nil || ev.Partial {
			continue
		}

		if !branchVisible(ev.Branch, branch) {
			continue
		}

		res = append(res, ev)
	}

	return res
}

func branchVisible(eventBranch, current string) bool {
	if eventBranch == "" || eventBranch == current {
		return true
	}

	return strings.HasPrefix(current, eventBranch+".")
}

// LongRunningCall returns the event that issued the long-running call id.
func (s *Session) LongRunningCall(id string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.Events) - 1; i >= 0; i-- {
		ev := s.Events[i]
		for _, lr := range ev.LongRunningToolIDs {
			if lr == id {
				return ev, true
			}
		}
	}

	return Event{}, false
}

// PendingLongRunningCalls lists long-running call ids that have not yet
// received any function response, in issue order.
func (s *Session) PendingLongRunningCalls() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	answered := map[string]bool{}
	for _, ev := range s.Events {
		for _, fr := range ev.FunctionResponses() {
			answered[fr.ID] = true
		}
	}

	var pending []string

	for _, ev := range s.Events {
		for _, id := range ev.LongRunningToolIDs {
			if !answered[id] {
				pending = append(pending, id)
			}
		}
	}

	return pending
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := &Session{
		ID:      s.ID,
		AppName: s.AppName,
		UserID:  s.UserID,
		State:   s.State.Clone(),
		Events:  make([]Event, len(s.Events)),
		Created: s.Created,
		Updated: s.Updated,
	}

	for i, ev := range s.Events {
		clone.Events[i] = ev.Clone()
	}

	return clone
}

// PersistableEvent returns the form of ev written to durable storage:
// invocation scoped keys are stripped from its delta.
func PersistableEvent(ev Event) Event {
	out := ev.Clone()
	out.Actions.StateDelta = PersistentDelta(ev.Actions.StateDelta)

	return out
}

// SessionStore persists sessions together with the app and user scoped state
// they share.
//
// AppendEvent must be atomic per event: the event is appended and its
// persistent delta applied together or not at all. On success the store
// also applies ev to sess so the caller's live view stays consistent.
// Get returns a state view consistent with every previously appended event.
type SessionStore interface {
	Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error)
	Get(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	List(ctx context.Context, appName, userID string) ([]*Session, error)
	AppendEvent(ctx context.Context, sess *Session, ev Event) error
	Delete(ctx context.Context, appName, userID, sessionID string) error
}
