package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ApplyEventAndClone(t *testing.T) {
	s := NewSession("app", "u1", "s1")

	ev := NewMessageEvent("agent", "hello")
	ev.Actions.StateDelta = map[string]any{"a": 1, "b": "x"}
	s.ApplyEvent(ev)

	v, ok := s.GetState("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Len(t, s.GetEvents(), 1)

	clone := s.Clone()
	assert.NotSame(t, s, clone)

	next := NewMessageEvent("agent", "again")
	next.Actions.StateDelta = map[string]any{"c": 2}
	clone.ApplyEvent(next)

	_, exists := s.GetState("c")
	assert.False(t, exists, "original should not see the clone's key")
	assert.Len(t, s.GetEvents(), 1)
}

func TestSession_GetEventsIsDefensiveCopy(t *testing.T) {
	s := NewSession("app", "u1", "s2")
	s.ApplyEvent(NewMessageEvent("assistant", "hello"))

	all := s.GetEvents()
	all[0].Author = "changed"

	assert.Equal(t, "assistant", s.GetEvents()[0].Author)
}

func TestSession_ClearTemp(t *testing.T) {
	s := NewSession("app", "u1", "s3")
	ev := NewEvent("inv", "system")
	ev.Actions.StateDelta = map[string]any{"temp:scratch": 1, "user:name": "ada"}
	s.ApplyEvent(ev)

	s.ClearTemp()

	_, ok := s.GetState("temp:scratch")
	assert.False(t, ok)
	_, ok = s.GetState("user:name")
	assert.True(t, ok)
}

func TestSession_HistoryRespectsBranches(t *testing.T) {
	s := NewSession("app", "u1", "s4")

	root := NewUserMessageEvent("inv", "hi")
	left := NewMessageEvent("left", "l")
	left.Branch = "fan.left"
	right := NewMessageEvent("right", "r")
	right.Branch = "fan.right"
	control := NewEvent("inv", "system")

	for _, ev := range []Event{root, left, right, control} {
		s.ApplyEvent(ev)
	}

	leftView := s.History("fan.left")
	require.Len(t, leftView, 2)
	assert.Equal(t, "hi", leftView[0].Content.Text())
	assert.Equal(t, "l", leftView[1].Content.Text())

	assert.Len(t, s.History(""), 1)
	assert.Len(t, s.History("fan.left.inner"), 2)
}

func TestSession_LongRunningCalls(t *testing.T) {
	s := NewSession("app", "u1", "s5")

	call := NewEvent("inv", "approver")
	call.Content = &Content{Role: RoleModel, Parts: []Part{FunctionCallPart{FunctionCall: FunctionCall{ID: "lr-1", Name: "ask"}}}}
	call.LongRunningToolIDs = []string{"lr-1"}
	s.ApplyEvent(call)

	assert.Equal(t, []string{"lr-1"}, s.PendingLongRunningCalls())

	issued, ok := s.LongRunningCall("lr-1")
	require.True(t, ok)
	assert.Equal(t, "approver", issued.Author)

	_, ok = s.LongRunningCall("nope")
	assert.False(t, ok)

	resp := NewFunctionResponseEvent(RoleUser, "lr-1", "ask", map[string]any{"status": "approved"}, nil)
	s.ApplyEvent(resp)

	assert.Empty(t, s.PendingLongRunningCalls())

	_, ok = s.LongRunningCall("lr-1")
	assert.True(t, ok, "answered calls stay correlatable")
}

func TestPersistableEventStripsTempKeys(t *testing.T) {
	ev := NewEvent("inv", "a")
	ev.Actions.StateDelta = map[string]any{"temp:x": 1, "y": 2}

	p := PersistableEvent(ev)

	assert.Equal(t, map[string]any{"y": 2}, p.Actions.StateDelta)
	assert.Len(t, ev.Actions.StateDelta, 2, "source event untouched")
}
