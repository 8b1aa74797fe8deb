// Package sqlite provides a core.SessionStore persisted in SQLite through the
// pure Go modernc.org/sqlite driver.
//
// Events are stored as JSON documents in append order. Session, user and app
// scoped state live in separate tables so app and user keys are shared by
// every session of the same app or user. Each AppendEvent runs in a single
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name   TEXT    NOT NULL,
	user_id    TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	state      TEXT    NOT NULL DEFAULT '{}',
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL,
	PRIMARY KEY (app_name, user_id, id)
);
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events (app_name, user_id, session_id, seq);
CREATE TABLE IF NOT EXISTS app_state (
	app_name TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (app_name, key)
);
CREATE TABLE IF NOT EXISTS user_state (
	app_name TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	key      TEXT NOT NULL,
	value    TEXT NOT NULL,
	PRIMARY KEY (app_name, user_id, key)
);
`

// Options configures a Store.
type Options struct {
	Logger logging.Logger
}

// Store is a SQLite backed core.SessionStore.
type Store struct {
	db     *sql.DB
	owned  bool
	logger logging.Logger
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database at dsn (a file path or ":memory:") and creates the
// schema if needed.
func New(ctx context.Context, dsn string, optFns ...func(o *Options)) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s, err := NewFromDB(ctx, db, optFns...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s.owned = true

	return s, nil
}

// NewFromDB wraps an open database. The caller keeps ownership of db.
func NewFromDB(ctx context.Context, db *sql.DB, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return &Store{db: db, logger: opts.Logger}, nil
}

// Close closes the database when it was opened by New.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}

	return s.db.Close()
}

// Create inserts a new session and routes the initial state to its scopes.
func (s *Store) Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*core.Session, error) {
	if sessionID == "" {
		sessionID = core.NewID()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := sessionExists(ctx, tx, appName, userID, sessionID)
		if err != nil {
			return err
		}

		if exists {
			return fmt.Errorf("%w: %s", core.ErrSessionExists, sessionID)
		}

		now := time.Now().UTC().UnixNano()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (app_name, user_id, id, state, created_ts, updated_ts) VALUES (?, ?, ?, '{}', ?, ?)`,
			appName, userID, sessionID, now, now,
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		return applyDelta(ctx, tx, appName, userID, sessionID, state, now)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("session.create", "backend", "sqlite", "app", appName, "user", userID, "session", sessionID)

	return s.load(ctx, s.db, appName, userID, sessionID)
}

// Get loads the session with app and user scoped state merged in.
func (s *Store) Get(ctx context.Context, appName, userID, sessionID string) (*core.Session, error) {
	return s.load(ctx, s.db, appName, userID, sessionID)
}

// List returns the sessions of a user ordered by creation time.
func (s *Store) List(ctx context.Context, appName, userID string) ([]*core.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY created_ts, id`,
		appName, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(ids))

	for _, id := range ids {
		sess, err := s.load(ctx, s.db, appName, userID, id)
		if err != nil {
			return nil, err
		}

		out = append(out, sess)
	}

	return out, nil
}

// AppendEvent stores ev and its persistent delta in one transaction, then
// applies ev to sess. Partial events are ignored.
func (s *Store) AppendEvent(ctx context.Context, sess *core.Session, ev core.Event) error {
	if ev.Partial {
		return nil
	}

	persisted := core.PersistableEvent(ev)

	payload, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := sessionExists(ctx, tx, sess.AppName, sess.UserID, sess.ID)
		if err != nil {
			return err
		}

		if !exists {
			return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sess.ID)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (app_name, user_id, session_id, id, payload) VALUES (?, ?, ?, ?, ?)`,
			sess.AppName, sess.UserID, sess.ID, persisted.ID, string(payload),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		return applyDelta(ctx, tx, sess.AppName, sess.UserID, sess.ID, persisted.Actions.StateDelta, ev.Timestamp.UTC().UnixNano())
	})
	if err != nil {
		return err
	}

	sess.ApplyEvent(ev)

	return nil
}

// Delete removes the session and its events. App and user state is kept.
func (s *Store) Delete(ctx context.Context, appName, userID, sessionID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
			appName, userID, sessionID,
		)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}

		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("delete session: %w", err)
		} else if n == 0 {
			return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
			appName, userID, sessionID,
		); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}

		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("session.tx.rollback_failed", "backend", "sqlite", "error", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (s *Store) load(ctx context.Context, q querier, appName, userID, sessionID string) (*core.Session, error) {
	var (
		rawState         string
		created, updated int64
	)

	err := q.QueryRowContext(ctx,
		`SELECT state, created_ts, updated_ts FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID,
	).Scan(&rawState, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sessionState map[string]any
	if err := json.Unmarshal([]byte(rawState), &sessionState); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}

	appState, err := loadKV(ctx, q, `SELECT key, value FROM app_state WHERE app_name = ?`, appName)
	if err != nil {
		return nil, err
	}

	userState, err := loadKV(ctx, q, `SELECT key, value FROM user_state WHERE app_name = ? AND user_id = ?`, appName, userID)
	if err != nil {
		return nil, err
	}

	events, err := loadEvents(ctx, q, appName, userID, sessionID)
	if err != nil {
		return nil, err
	}

	sess := core.NewSession(appName, userID, sessionID)
	sess.Created = time.Unix(0, created).UTC()
	sess.Updated = time.Unix(0, updated).UTC()
	sess.State = core.Fold(appState, userState, sessionState)
	sess.Events = events

	return sess, nil
}

func loadEvents(ctx context.Context, q querier, appName, userID, sessionID string) ([]core.Event, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT payload FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY seq`,
		appName, userID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	events := []core.Event{}

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		var ev core.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

func loadKV(ctx context.Context, q querier, query string, args ...any) (map[string]any, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load scoped state: %w", err)
	}
	defer rows.Close()

	out := map[string]any{}

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan scoped state: %w", err)
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode state key %s: %w", key, err)
		}

		out[key] = v
	}

	return out, rows.Err()
}

func sessionExists(ctx context.Context, q querier, appName, userID, sessionID string) (bool, error) {
	var one int

	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID,
	).Scan(&one)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup session: %w", err)
	default:
		return true, nil
	}
}

// applyDelta routes delta to the scope tables. Invocation scoped keys are
// skipped.
func applyDelta(ctx context.Context, tx *sql.Tx, appName, userID, sessionID string, delta map[string]any, ts int64) error {
	parts := core.SplitByScope(delta)

	for k, v := range parts[core.ScopeApp] {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode state key %s: %w", k, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO app_state (app_name, key, value) VALUES (?, ?, ?)
			 ON CONFLICT (app_name, key) DO UPDATE SET value = excluded.value`,
			appName, k, string(raw),
		); err != nil {
			return fmt.Errorf("upsert app state: %w", err)
		}
	}

	for k, v := range parts[core.ScopeUser] {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode state key %s: %w", k, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_state (app_name, user_id, key, value) VALUES (?, ?, ?, ?)
			 ON CONFLICT (app_name, user_id, key) DO UPDATE SET value = excluded.value`,
			appName, userID, k, string(raw),
		); err != nil {
			return fmt.Errorf("upsert user state: %w", err)
		}
	}

	var rawState string
	if err := tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID,
	).Scan(&rawState); err != nil {
		return fmt.Errorf("load session state: %w", err)
	}

	state := core.State{}
	if err := json.Unmarshal([]byte(rawState), &state); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}

	state.ApplyDelta(parts[core.ScopeSession])

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_ts = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		string(raw), ts, appName, userID, sessionID,
	); err != nil {
		return fmt.Errorf("update session state: %w", err)
	}

	return nil
}
