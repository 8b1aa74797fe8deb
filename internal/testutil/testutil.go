// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/hupe1980/agentflow/core"
)

// StubAgent is a minimal agent whose Run delegates to RunFunc.
type StubAgent struct {
	AgentName string
	Children  []core.Agent
	RunFunc   func(ic *core.InvocationContext) error
}

func (a *StubAgent) Name() string            { return a.AgentName }
func (a *StubAgent) Description() string     { return "stub " + a.AgentName }
func (a *StubAgent) Kind() core.AgentKind    { return core.KindCustom }
func (a *StubAgent) SubAgents() []core.Agent { return a.Children }

func (a *StubAgent) Run(ic *core.InvocationContext) error {
	if a.RunFunc == nil {
		return nil
	}

	return a.RunFunc(ic)
}

// Recorder is a CommitFunc target applying events to an in-memory session.
type Recorder struct {
	mu      sync.Mutex
	Session *core.Session
	events  []core.Event
	Err     error
}

// NewRecorder returns a recorder over a fresh session.
func NewRecorder() *Recorder {
	return &Recorder{Session: core.NewSession("app", "user", "session")}
}

// Commit applies ev to the session unless Err is set.
func (r *Recorder) Commit(ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}

	r.Session.ApplyEvent(ev)
	r.events = append(r.events, ev)

	return nil
}

// Events returns the committed events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.Event, len(r.events))
	copy(out, r.events)

	return out
}

// Authors returns the author of each committed event in order.
func (r *Recorder) Authors() []string {
	events := r.Events()

	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Author
	}

	return out
}

// Texts returns the text of every committed content event in order.
func (r *Recorder) Texts() []string {
	var out []string

	for _, ev := range r.Events() {
		if ev.Content != nil && ev.Content.Text() != "" {
			out = append(out, ev.Content.Text())
		}
	}

	return out
}

// NewInvocation builds a root invocation context for root with input as the
// user message. The user event is committed first, like the runner does.
func NewInvocation(t testing.TB, root core.Agent, input string, optFns ...func(o *core.InvocationOptions)) (*core.InvocationContext, *Recorder) {
	t.Helper()

	rec := NewRecorder()

	if root == nil {
		root = &StubAgent{AgentName: "root"}
	}

	userContent := core.NewTextContent(core.RoleUser, input)
	if input != "" {
		ev := core.NewUserContentEvent("inv-test", userContent)
		rec.Session.ApplyEvent(ev)
	}

	ic := core.NewInvocationContext(context.Background(), "inv-test", root, rec.Session, userContent, rec.Commit, optFns...)

	return ic, rec
}
