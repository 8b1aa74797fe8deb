// Package sessiontest provides a conformance suite every core.SessionStore
// implementation must pass.
//
// Usage:
//
//	func TestStore(t *testing.T) {
//	    sessiontest.Run(t, func(t *testing.T) core.SessionStore { return mystore.New(...) })
//	}
//
// Values stored by the suite are strings and booleans so stores that encode
// state as JSON compare equal.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) core.SessionStore

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store core.SessionStore)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateGeneratesID", testCreateGeneratesID},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetUnknown", testGetUnknown},
		{"AppendEvent", testAppendEvent},
		{"TempKeysNotPersisted", testTempKeysNotPersisted},
		{"SharedScopes", testSharedScopes},
		{"PartialNotPersisted", testPartialNotPersisted},
		{"ReplayMatchesState", testReplayMatchesState},
		{"List", testList},
		{"Delete", testDelete},
		{"ConcurrentAppends", testConcurrentAppends},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func testCreateAndGet(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	created, err := store.Create(ctx, "app", "u1", "s1", map[string]any{
		"topic":      "dragons",
		"user:name":  "Ada",
		"app:motd":   "hello",
		"temp:token": "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", created.ID)
	assert.Equal(t, "app", created.AppName)
	assert.Equal(t, "u1", created.UserID)

	got, err := store.Get(ctx, "app", "u1", "s1")
	require.NoError(t, err)

	state := got.StateSnapshot()
	assert.Equal(t, "dragons", state["topic"])
	assert.Equal(t, "Ada", state["user:name"])
	assert.Equal(t, "hello", state["app:motd"])
	assert.NotContains(t, state, "temp:token")
	assert.Empty(t, got.GetEvents())
}

func testCreateGeneratesID(t *testing.T, store core.SessionStore) {
	sess, err := store.Create(context.Background(), "app", "u1", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
}

func testCreateDuplicate(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	_, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	_, err = store.Create(ctx, "app", "u1", "s1", nil)
	assert.ErrorIs(t, err, core.ErrSessionExists)
}

func testGetUnknown(t *testing.T, store core.SessionStore) {
	_, err := store.Get(context.Background(), "app", "u1", "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func testAppendEvent(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	sess, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	call := testutil.NewEventBuilder().
		Author("assistant").Invocation("inv-1").Branch("par.a").
		FunctionCall("c1", "weather", map[string]any{"city": "Berlin"}).
		LongRunning("c1").
		Build()
	resp := testutil.NewEventBuilder().
		Author("user").Invocation("inv-2").
		FunctionResponse("c1", "weather", "sunny", nil).
		Build()
	final := testutil.NewEventBuilder().
		Author("assistant").Invocation("inv-2").
		ModelText("It is sunny.").State("forecast", "sunny").TurnComplete().
		Build()

	for _, ev := range []core.Event{call, resp, final} {
		require.NoError(t, store.AppendEvent(ctx, sess, ev))
	}

	v, _ := sess.GetState("forecast")
	assert.Equal(t, "sunny", v, "live session is updated")
	assert.Len(t, sess.GetEvents(), 3)

	got, err := store.Get(ctx, "app", "u1", "s1")
	require.NoError(t, err)

	events := got.GetEvents()
	require.Len(t, events, 3)

	assert.Equal(t, call.ID, events[0].ID)
	assert.Equal(t, "par.a", events[0].Branch)
	assert.Equal(t, []string{"c1"}, events[0].LongRunningToolIDs)
	require.Len(t, events[0].FunctionCalls(), 1)
	assert.Equal(t, "Berlin", events[0].FunctionCalls()[0].Args["city"])

	require.Len(t, events[1].FunctionResponses(), 1)
	assert.Equal(t, "sunny", events[1].FunctionResponses()[0].Response)

	assert.Equal(t, "It is sunny.", events[2].Content.Text())
	assert.True(t, events[2].TurnComplete)
	assert.True(t, final.Timestamp.Equal(events[2].Timestamp))

	v, _ = got.GetState("forecast")
	assert.Equal(t, "sunny", v)

	assert.Empty(t, got.PendingLongRunningCalls())
}

func testTempKeysNotPersisted(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	sess, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	ev := testutil.NewEventBuilder().State("temp:scratch", "x").State("kept", true).Build()
	require.NoError(t, store.AppendEvent(ctx, sess, ev))

	v, ok := sess.GetState("temp:scratch")
	require.True(t, ok, "temp keys are visible in the live session")
	assert.Equal(t, "x", v)

	got, err := store.Get(ctx, "app", "u1", "s1")
	require.NoError(t, err)

	_, ok = got.GetState("temp:scratch")
	assert.False(t, ok)
	assert.NotContains(t, got.GetEvents()[0].Actions.StateDelta, "temp:scratch")

	kept, _ := got.GetState("kept")
	assert.Equal(t, true, kept)
}

func testSharedScopes(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	a, err := store.Create(ctx, "app", "u1", "a", nil)
	require.NoError(t, err)

	_, err = store.Create(ctx, "app", "u1", "b", nil)
	require.NoError(t, err)

	_, err = store.Create(ctx, "app", "u2", "c", nil)
	require.NoError(t, err)

	ev := testutil.NewEventBuilder().
		State("app:banner", "sale").
		State("user:tier", "gold").
		State("draft", "only-a").
		Build()
	require.NoError(t, store.AppendEvent(ctx, a, ev))

	b, err := store.Get(ctx, "app", "u1", "b")
	require.NoError(t, err)

	state := b.StateSnapshot()
	assert.Equal(t, "sale", state["app:banner"])
	assert.Equal(t, "gold", state["user:tier"])
	assert.NotContains(t, state, "draft")

	c, err := store.Get(ctx, "app", "u2", "c")
	require.NoError(t, err)

	state = c.StateSnapshot()
	assert.Equal(t, "sale", state["app:banner"])
	assert.NotContains(t, state, "user:tier")
}

func testPartialNotPersisted(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	sess, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	require.NoError(t, store.AppendEvent(ctx, sess, testutil.NewEventBuilder().ModelText("chunk").Partial().Build()))

	got, err := store.Get(ctx, "app", "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, got.GetEvents())
}

func testReplayMatchesState(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	sess, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ev := testutil.NewEventBuilder().
			State("counter", fmt.Sprintf("v%d", i)).
			State(fmt.Sprintf("k%d", i), "set").
			Build()
		require.NoError(t, store.AppendEvent(ctx, sess, ev))
	}

	got, err := store.Get(ctx, "app", "u1", "s1")
	require.NoError(t, err)

	var deltas []map[string]any
	for _, ev := range got.GetEvents() {
		deltas = append(deltas, ev.Actions.StateDelta)
	}

	assert.Equal(t, map[string]any(core.Fold(deltas...)), map[string]any(got.StateSnapshot()))
}

func testList(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	for _, id := range []string{"s1", "s2"} {
		_, err := store.Create(ctx, "app", "u1", id, nil)
		require.NoError(t, err)
	}

	_, err := store.Create(ctx, "app", "u2", "other", nil)
	require.NoError(t, err)

	list, err := store.List(ctx, "app", "u1")
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}

	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)

	none, err := store.List(ctx, "app", "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDelete(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	sess, err := store.Create(ctx, "app", "u1", "s1", map[string]any{"user:name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(ctx, sess, testutil.NewEventBuilder().ModelText("hi").Build()))

	require.NoError(t, store.Delete(ctx, "app", "u1", "s1"))

	_, err = store.Get(ctx, "app", "u1", "s1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	assert.ErrorIs(t, store.Delete(ctx, "app", "u1", "s1"), core.ErrSessionNotFound)
	assert.ErrorIs(t, store.AppendEvent(ctx, sess, testutil.NewEventBuilder().Build()), core.ErrSessionNotFound)

	again, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	name, _ := again.GetState("user:name")
	assert.Equal(t, "Ada", name, "user scope outlives the session")
}

func testConcurrentAppends(t *testing.T, store core.SessionStore) {
	ctx := context.Background()

	sess, err := store.Create(ctx, "app", "u1", "s1", nil)
	require.NoError(t, err)

	const n = 8

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			ev := testutil.NewEventBuilder().Author(fmt.Sprintf("w%d", i)).State(fmt.Sprintf("k%d", i), "v").Build()
			if err := store.AppendEvent(ctx, sess, ev); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	got, err := store.Get(ctx, "app", "u1", "s1")
	require.NoError(t, err)
	assert.Len(t, got.GetEvents(), n)
	assert.Len(t, got.StateSnapshot(), n)
}
