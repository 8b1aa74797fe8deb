// Package redis provides a core.SessionStore backed by Redis using
// github.com/redis/go-redis/v9.
//
// Key layout (all keys carry the configured prefix):
//
//	session:{app}:{user}:{id}         hash  created, updated
//	session:{app}:{user}:{id}:state   hash  session scoped keys (JSON values)
//	session:{app}:{user}:{id}:events  list  JSON encoded events in append order
//	sessions:{app}:{user}             zset  session ids scored by creation time
//	app:{app}:state                   hash  app scoped keys
//	user:{app}:{user}:state           hash  user scoped keys
//
// Writes run in MULTI/EXEC transactions guarded by WATCH on the session key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
)

const maxTxRetries = 100

// Options configures a Store.
type Options struct {
	// Prefix is prepended to every key. Defaults to "agentflow:".
	Prefix string
	Logger logging.Logger
}

// Store is a Redis backed core.SessionStore.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger logging.Logger
}

// New wraps client. The caller keeps ownership of the client.
func New(client redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{Prefix: "agentflow:", Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{client: client, prefix: opts.Prefix, logger: opts.Logger}
}

// NewFromURL connects to the server described by a redis:// URL and pings it.
func NewFromURL(ctx context.Context, url string, optFns ...func(o *Options)) (*Store, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return New(client, optFns...), nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) sessionKey(app, user, id string) string {
	return fmt.Sprintf("%ssession:%s:%s:%s", s.prefix, app, user, id)
}

func (s *Store) indexKey(app, user string) string {
	return fmt.Sprintf("%ssessions:%s:%s", s.prefix, app, user)
}

func (s *Store) appStateKey(app string) string { return fmt.Sprintf("%sapp:%s:state", s.prefix, app) }

func (s *Store) userStateKey(app, user string) string {
	return fmt.Sprintf("%suser:%s:%s:state", s.prefix, app, user)
}

// Create stores a new session and routes the initial state to its scopes.
func (s *Store) Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*core.Session, error) {
	if sessionID == "" {
		sessionID = core.NewID()
	}

	key := s.sessionKey(appName, userID, sessionID)

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		if n > 0 {
			return fmt.Errorf("%w: %s", core.ErrSessionExists, sessionID)
		}

		now := time.Now().UTC().UnixNano()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "created", now, "updated", now)
			pipe.ZAdd(ctx, s.indexKey(appName, userID), redis.Z{Score: float64(now), Member: sessionID})

			return s.queueDelta(ctx, pipe, appName, userID, sessionID, state)
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("session.create", "backend", "redis", "app", appName, "user", userID, "session", sessionID)

	return s.Get(ctx, appName, userID, sessionID)
}

// Get loads the session with app and user scoped state merged in.
func (s *Store) Get(ctx context.Context, appName, userID, sessionID string) (*core.Session, error) {
	key := s.sessionKey(appName, userID, sessionID)

	var (
		meta      *redis.MapStringStringCmd
		sessState *redis.MapStringStringCmd
		appState  *redis.MapStringStringCmd
		userState *redis.MapStringStringCmd
		events    *redis.StringSliceCmd
	)

	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, key)
		sessState = pipe.HGetAll(ctx, key+":state")
		appState = pipe.HGetAll(ctx, s.appStateKey(appName))
		userState = pipe.HGetAll(ctx, s.userStateKey(appName, userID))
		events = pipe.LRange(ctx, key+":events", 0, -1)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	m := meta.Val()
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	sess := core.NewSession(appName, userID, sessionID)
	sess.Created = parseNanos(m["created"])
	sess.Updated = parseNanos(m["updated"])

	var layers [3]map[string]any

	for i, cmd := range []*redis.MapStringStringCmd{appState, userState, sessState} {
		layers[i], err = decodeHash(cmd.Val())
		if err != nil {
			return nil, err
		}
	}

	sess.State = core.Fold(layers[:]...)

	for _, raw := range events.Val() {
		var ev core.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}

		sess.Events = append(sess.Events, ev)
	}

	return sess, nil
}

// List returns the sessions of a user ordered by creation time.
func (s *Store) List(ctx context.Context, appName, userID string) ([]*core.Session, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(appName, userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]*core.Session, 0, len(ids))

	for _, id := range ids {
		sess, err := s.Get(ctx, appName, userID, id)
		if errors.Is(err, core.ErrSessionNotFound) {
			continue
		}

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

	key := s.sessionKey(sess.AppName, sess.UserID, sess.ID)

	err = s.watch(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		if n == 0 {
			return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sess.ID)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, key+":events", payload)
			pipe.HSet(ctx, key, "updated", ev.Timestamp.UTC().UnixNano())

			return s.queueDelta(ctx, pipe, sess.AppName, sess.UserID, sess.ID, persisted.Actions.StateDelta)
		})

		return err
	})
	if err != nil {
		return err
	}

	sess.ApplyEvent(ev)

	return nil
}

// Delete removes the session, its state and its events. App and user state
// is kept.
func (s *Store) Delete(ctx context.Context, appName, userID, sessionID string) error {
	key := s.sessionKey(appName, userID, sessionID)

	var deleted *redis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, key)
		pipe.Del(ctx, key+":state", key+":events")
		pipe.ZRem(ctx, s.indexKey(appName, userID), sessionID)

		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if deleted.Val() == 0 {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, sessionID)
	}

	return nil
}

// watch runs fn under WATCH key and retries when a concurrent writer
// invalidated the transaction.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}

		s.logger.Debug("session.tx.retry", "backend", "redis", "key", key, "attempt", i+1)
	}

	return fmt.Errorf("redis transaction on %s: %w", key, redis.TxFailedErr)
}

// queueDelta routes delta to the scope hashes. Invocation scoped keys are
// skipped.
func (s *Store) queueDelta(ctx context.Context, pipe redis.Pipeliner, appName, userID, sessionID string, delta map[string]any) error {
	for scope, part := range core.SplitByScope(delta) {
		var key string

		switch scope {
		case core.ScopeApp:
			key = s.appStateKey(appName)
		case core.ScopeUser:
			key = s.userStateKey(appName, userID)
		case core.ScopeSession:
			key = s.sessionKey(appName, userID, sessionID) + ":state"
		default:
			continue
		}

		fields := make([]any, 0, 2*len(part))

		for k, v := range part {
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode state key %s: %w", k, err)
			}

			fields = append(fields, k, string(raw))
		}

		pipe.HSet(ctx, key, fields...)
	}

	return nil
}

func decodeHash(h map[string]string) (map[string]any, error) {
	out := make(map[string]any, len(h))

	for k, raw := range h {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode state key %s: %w", k, err)
		}

		out[k] = v
	}

	return out, nil
}

func parseNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}
