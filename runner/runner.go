package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/engine"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/session"
	"github.com/hupe1980/agentflow/telemetry"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// AutoCreateSession creates unknown sessions on first Run. Default true.
	AutoCreateSession bool
	// MaxConcurrentInvocations limits concurrent agent invocations.
	MaxConcurrentInvocations int
	// EventBufferSize sets the buffer of returned event channels.
	EventBufferSize int
	// MaxModelCalls limits the number of model calls per run.
	MaxModelCalls int
	// SessionStore persists sessions. Defaults to an in-memory store.
	SessionStore core.SessionStore
	// Callbacks receives engine commit and lifecycle hooks.
	Callbacks *engine.CallbackManager
	// Telemetry records spans and counters. Defaults to telemetry.Default().
	Telemetry *telemetry.Telemetry
	// Logger receives structured logs.
	Logger logging.Logger
}

// RunOptions configures a single Run.
type RunOptions struct {
	// InitialState seeds a session that is created by this run.
	InitialState map[string]any
}

// Runner binds a validated root agent to an app name and a session store.
// Public methods are safe for concurrent use.
type Runner struct {
	appName           string
	engine            *engine.Engine
	sessionStore      core.SessionStore
	autoCreateSession bool
	logger            logging.Logger
}

// New validates the agent tree rooted at root and constructs a Runner.
func New(appName string, root core.Agent, optFns ...func(o *Options)) (*Runner, error) {
	opts := Options{
		AutoCreateSession:        true,
		MaxConcurrentInvocations: engine.DefaultConfig.MaxConcurrentInvocations,
		EventBufferSize:          engine.DefaultConfig.EventBufferSize,
		MaxModelCalls:            engine.DefaultConfig.MaxModelCalls,
		SessionStore:             session.NewInMemoryStore(),
		Telemetry:                telemetry.Default(),
		Logger:                   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := agent.Validate(root); err != nil {
		return nil, fmt.Errorf("invalid agent tree: %w", err)
	}

	eng := engine.New(root, func(o *engine.Options) {
		o.Config = engine.Config{
			MaxConcurrentInvocations: opts.MaxConcurrentInvocations,
			EventBufferSize:          opts.EventBufferSize,
			MaxModelCalls:            opts.MaxModelCalls,
		}
		o.SessionStore = opts.SessionStore
		o.Callbacks = opts.Callbacks
		o.Telemetry = opts.Telemetry
		o.Logger = opts.Logger
	})

	return &Runner{
		appName:           appName,
		engine:            eng,
		sessionStore:      opts.SessionStore,
		autoCreateSession: opts.AutoCreateSession,
		logger:            logging.With(opts.Logger, "app", appName),
	}, nil
}

// AppName returns the application name sessions are scoped to.
func (r *Runner) AppName() string { return r.appName }

// Root returns the root agent.
func (r *Runner) Root() core.Agent { return r.engine.Root() }

// SessionStore returns the store backing this runner.
func (r *Runner) SessionStore() core.SessionStore { return r.sessionStore }

// Run starts an invocation of the root agent for (userID, sessionID) with
// input as the user event and returns the invocation id, a lazily filled
// event stream and a terminal error channel.
//
// Every event is committed before it appears on the stream. The stream is
// closed when the invocation completes or pauses on a long-running call;
// the error channel then yields at most one error. Input carrying function
// responses resumes the long-running calls they answer.
func (r *Runner) Run(
	ctx context.Context,
	userID, sessionID string,
	input *core.Content,
	optFns ...func(o *RunOptions),
) (string, <-chan core.Event, <-chan error, error) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	sess, err := r.resolveSession(ctx, userID, sessionID, opts.InitialState)
	if err != nil {
		return "", nil, nil, err
	}

	invocationID, events, errs, err := r.engine.Invoke(ctx, sess, input)
	if err != nil {
		return "", nil, nil, err
	}

	r.logger.Debug("runner.run.start", "user", userID, "session", sess.ID, "invocation_id", invocationID)

	return invocationID, events, errs, nil
}

// RunText is Run with a plain text user message.
func (r *Runner) RunText(
	ctx context.Context,
	userID, sessionID, text string,
	optFns ...func(o *RunOptions),
) (string, <-chan core.Event, <-chan error, error) {
	return r.Run(ctx, userID, sessionID, core.NewTextContent(core.RoleUser, text), optFns...)
}

// RunSync runs to completion and returns every event of the invocation.
// Events committed before a failure are returned together with the error.
func (r *Runner) RunSync(
	ctx context.Context,
	userID, sessionID string,
	input *core.Content,
	optFns ...func(o *RunOptions),
) ([]core.Event, error) {
	_, eventsCh, errorsCh, err := r.Run(ctx, userID, sessionID, input, optFns...)
	if err != nil {
		return nil, err
	}

	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}

	return events, <-errorsCh
}

// Cancel cancels a running invocation by ID.
func (r *Runner) Cancel(invocationID string) error {
	if !r.engine.StopInvocation(invocationID) {
		return fmt.Errorf("invocation %s not found", invocationID)
	}

	return nil
}

// Session loads the current state of a session.
func (r *Runner) Session(ctx context.Context, userID, sessionID string) (*core.Session, error) {
	return r.sessionStore.Get(ctx, r.appName, userID, sessionID)
}

func (r *Runner) resolveSession(ctx context.Context, userID, sessionID string, initial map[string]any) (*core.Session, error) {
	sess, err := r.sessionStore.Get(ctx, r.appName, userID, sessionID)
	if err == nil {
		return sess, nil
	}

	if !errors.Is(err, core.ErrSessionNotFound) || !r.autoCreateSession {
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess, err = r.sessionStore.Create(ctx, r.appName, userID, sessionID, initial)
	if errors.Is(err, core.ErrSessionExists) {
		// Lost a creation race with a concurrent run.
		return r.sessionStore.Get(ctx, r.appName, userID, sessionID)
	}

	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	r.logger.Info("runner.session.created", "user", userID, "session", sess.ID)

	return sess, nil
}
