package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/agentflow/core"
)

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in process local maps. It is safe for concurrent access and best suited
// for tests or ephemeral demo servers. Returned sessions are independent
// copies; they are kept current by AppendEvent.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*record
	appState  map[string]core.State
	userState map[string]core.State
}

// record holds the persisted form of one session.
type record struct {
	appName string
	userID  string
	id      string
	state   core.State // session scoped keys only
	events  []core.Event
	created time.Time
	updated time.Time
}

// NewInMemoryStore constructs an empty in‑memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  make(map[string]*record),
		appState:  make(map[string]core.State),
		userState: make(map[string]core.State),
	}
}

func sessionKey(appName, userID, id string) string { return appName + "/" + userID + "/" + id }

func userKey(appName, userID string) string { return appName + "/" + userID }

// Create stores a new session. An empty sessionID is replaced by a generated
// one. Initial state keys are routed to their scope; temp: keys are dropped.
func (s *InMemoryStore) Create(_ context.Context, appName, userID, sessionID string, state map[string]any) (*core.Session, error) {
	if sessionID == "" {
		sessionID = core.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(appName, userID, sessionID)
	if _, ok := s.sessions[key]; ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionExists, sessionID)
	}

	now := time.Now().UTC()
	rec := &record{
		appName: appName,
		userID:  userID,
		id:      sessionID,
		state:   core.State{},
		created: now,
		updated: now,
	}

	s.applyLocked(rec, state)
	s.sessions[key] = rec

	return s.buildLocked(rec), nil
}

// Get returns a copy of the session with app and user scoped state merged in.
func (s *InMemoryStore) Get(_ context.Context, appName, userID, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionKey(appName, userID, sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	return s.buildLocked(rec), nil
}

// List returns the sessions of a user ordered by creation time.
func (s *InMemoryStore) List(_ context.Context, appName, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Session

	for _, rec := range s.sessions {
		if rec.appName == appName && rec.userID == userID {
			out = append(out, s.buildLocked(rec))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}

		return out[i].Created.Before(out[j].Created)
	})

	return out, nil
}

// AppendEvent persists ev and its delta in one step and applies ev to sess.
// Partial events are neither persisted nor applied.
func (s *InMemoryStore) AppendEvent(_ context.Context, sess *core.Session, ev core.Event) error {
	if ev.Partial {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[sessionKey(sess.AppName, sess.UserID, sess.ID)]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sess.ID)
	}

	persisted := core.PersistableEvent(ev)

	s.applyLocked(rec, persisted.Actions.StateDelta)
	rec.events = append(rec.events, persisted)
	rec.updated = ev.Timestamp

	sess.ApplyEvent(ev)

	return nil
}

// Delete removes the session. App and user scoped state is kept.
func (s *InMemoryStore) Delete(_ context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(appName, userID, sessionID)
	if _, ok := s.sessions[key]; !ok {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	delete(s.sessions, key)

	return nil
}

// applyLocked routes delta to the scope maps; caller holds the write lock.
func (s *InMemoryStore) applyLocked(rec *record, delta map[string]any) {
	for scope, part := range core.SplitByScope(delta) {
		switch scope {
		case core.ScopeApp:
			s.appState[rec.appName] = s.appState[rec.appName].ApplyDelta(part)
		case core.ScopeUser:
			k := userKey(rec.appName, rec.userID)
			s.userState[k] = s.userState[k].ApplyDelta(part)
		case core.ScopeSession:
			rec.state = rec.state.ApplyDelta(part)
		}
	}
}

// buildLocked materializes a session from its record; caller holds a lock.
func (s *InMemoryStore) buildLocked(rec *record) *core.Session {
	sess := core.NewSession(rec.appName, rec.userID, rec.id)
	sess.Created = rec.created
	sess.Updated = rec.updated

	sess.State = core.Fold(s.appState[rec.appName], s.userState[userKey(rec.appName, rec.userID)], rec.state)

	sess.Events = make([]core.Event, len(rec.events))
	for i, ev := range rec.events {
		sess.Events[i] = ev.Clone()
	}

	return sess
}
