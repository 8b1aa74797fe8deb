package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/engine"
)

// Entry is one remembered piece of text.
type Entry struct {
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// Store indexes sessions and answers keyword queries per app and user.
type Store interface {
	AddSession(ctx context.Context, sess *core.Session) error
	Search(ctx context.Context, appName, userID, query string, limit int) ([]Entry, error)
}

// InMemoryStore is a process-local Store.
//
// Search splits the query into lowercase words and scores an entry by the
// share of words it contains. Entries without any match are dropped. Suitable
// for tests and demos; swap for a vector index for semantic retrieval.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string][]Entry // app/user -> session id -> entries
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]map[string][]Entry)}
}

func userKey(appName, userID string) string { return appName + "/" + userID }

// AddSession replaces the indexed entries of sess with its committed text
// events. User input and model answers are both remembered; partial events
// never reach a session and are not indexed.
func (m *InMemoryStore) AddSession(_ context.Context, sess *core.Session) error {
	var entries []Entry

	for _, ev := range sess.GetEvents() {
		if ev.Content == nil {
			continue
		}

		text := strings.TrimSpace(ev.Content.Text())
		if text == "" {
			continue
		}

		entries = append(entries, Entry{
			SessionID: sess.ID,
			EventID:   ev.ID,
			Author:    ev.Author,
			Content:   text,
			Timestamp: ev.Timestamp,
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := userKey(sess.AppName, sess.UserID)
	if m.entries[key] == nil {
		m.entries[key] = make(map[string][]Entry)
	}

	m.entries[key][sess.ID] = entries

	return nil
}

// Search returns at most limit entries ordered by score, newest first on
// ties. An empty query matches everything with score 1. limit <= 0 means no
// limit.
func (m *InMemoryStore) Search(_ context.Context, appName, userID, query string, limit int) ([]Entry, error) {
	words := strings.Fields(strings.ToLower(query))

	m.mu.RLock()
	var results []Entry

	for _, entries := range m.entries[userKey(appName, userID)] {
		for _, e := range entries {
			score := match(strings.ToLower(e.Content), words)
			if score == 0 {
				continue
			}

			e.Score = score
			results = append(results, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Timestamp.After(results[j].Timestamp)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

func match(content string, words []string) float64 {
	if len(words) == 0 {
		return 1
	}

	hits := 0

	for _, w := range words {
		if strings.Contains(content, w) {
			hits++
		}
	}

	return float64(hits) / float64(len(words))
}

// IngestCallback returns an after-invocation engine hook adding the session
// to store once the invocation succeeded.
func IngestCallback(store Store) engine.Callback {
	return engine.NewFunctionCallback(engine.CallbackAfterInvocation, func(ctx context.Context, cc *engine.CallbackContext) error {
		return store.AddSession(ctx, cc.Session)
	})
}
