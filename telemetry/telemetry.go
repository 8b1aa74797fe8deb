// Package telemetry wires OpenTelemetry tracing and metrics into the engine,
// agents and the leaf step loop.
//
// Spans:
//   - agentflow.invocation  one per Runner.Run
//   - agentflow.agent       one per agent run or resume
//   - agentflow.model       one per model call
//   - agentflow.tool        one per tool call
//
// Counters: agentflow.invocations, agentflow.events.committed,
// agentflow.model.calls, agentflow.tool.calls.
//
// Without explicit providers the global otel providers are used, which are
// no-ops until the application installs an SDK.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ScopeName is the instrumentation scope of every tracer and meter.
const ScopeName = "github.com/hupe1980/agentflow"

// Options configures Telemetry.
type Options struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Telemetry bundles the tracer and instruments used across a run.
type Telemetry struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	events      metric.Int64Counter
	modelCalls  metric.Int64Counter
	toolCalls   metric.Int64Counter
}

// New creates Telemetry from the given providers, defaulting to the global ones.
func New(optFns ...func(o *Options)) (*Telemetry, error) {
	opts := Options{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	meter := opts.MeterProvider.Meter(ScopeName)

	t := &Telemetry{tracer: opts.TracerProvider.Tracer(ScopeName)}

	var err error

	if t.invocations, err = meter.Int64Counter("agentflow.invocations",
		metric.WithDescription("Runs started")); err != nil {
		return nil, err
	}

	if t.events, err = meter.Int64Counter("agentflow.events.committed",
		metric.WithDescription("Events committed to a session")); err != nil {
		return nil, err
	}

	if t.modelCalls, err = meter.Int64Counter("agentflow.model.calls",
		metric.WithDescription("Model calls issued by leaf agents")); err != nil {
		return nil, err
	}

	if t.toolCalls, err = meter.Int64Counter("agentflow.tool.calls",
		metric.WithDescription("Tool calls executed by leaf agents")); err != nil {
		return nil, err
	}

	return t, nil
}

// Noop returns Telemetry that records nothing.
func Noop() *Telemetry {
	t, _ := New(func(o *Options) {
		o.TracerProvider = tracenoop.NewTracerProvider()
		o.MeterProvider = metricnoop.NewMeterProvider()
	})

	return t
}

var (
	defaultOnce sync.Once
	defaultTel  *Telemetry
)

// Default returns Telemetry bound to the global providers.
func Default() *Telemetry {
	defaultOnce.Do(func() {
		t, err := New()
		if err != nil {
			t = Noop()
		}

		defaultTel = t
	})

	return defaultTel
}

type ctxKey struct{}

// WithContext returns a context carrying t.
func WithContext(ctx context.Context, t *Telemetry) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the Telemetry stored in ctx, or Default.
func FromContext(ctx context.Context) *Telemetry {
	if ctx != nil {
		if t, ok := ctx.Value(ctxKey{}).(*Telemetry); ok && t != nil {
			return t
		}
	}

	return Default()
}

// StartInvocation starts the span covering one run.
func (t *Telemetry) StartInvocation(ctx context.Context, appName, sessionID, invocationID, root string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("agentflow.app", appName),
		attribute.String("agentflow.session_id", sessionID),
		attribute.String("agentflow.invocation_id", invocationID),
		attribute.String("agentflow.root_agent", root),
	}

	t.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("agentflow.app", appName)))

	return t.tracer.Start(ctx, "agentflow.invocation", trace.WithAttributes(attrs...))
}

// StartAgent starts the span of one agent run.
func (t *Telemetry) StartAgent(ctx context.Context, name, kind, branch string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agentflow.agent", trace.WithAttributes(
		attribute.String("agentflow.agent", name),
		attribute.String("agentflow.agent.kind", kind),
		attribute.String("agentflow.branch", branch),
	))
}

// StartModel starts a client span around one model call.
func (t *Telemetry) StartModel(ctx context.Context, agent, provider, modelName string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("agentflow.agent", agent),
		attribute.String("agentflow.model.provider", provider),
		attribute.String("agentflow.model", modelName),
	}

	t.modelCalls.Add(ctx, 1, metric.WithAttributes(attrs...))

	return t.tracer.Start(ctx, "agentflow.model", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

// StartTool starts the span of one tool call.
func (t *Telemetry) StartTool(ctx context.Context, agent, toolName, callID string) (context.Context, trace.Span) {
	t.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agentflow.agent", agent),
		attribute.String("agentflow.tool", toolName),
	))

	return t.tracer.Start(ctx, "agentflow.tool", trace.WithAttributes(
		attribute.String("agentflow.agent", agent),
		attribute.String("agentflow.tool", toolName),
		attribute.String("agentflow.function_call_id", callID),
	))
}

// EventCommitted counts a committed event.
func (t *Telemetry) EventCommitted(ctx context.Context, author string, partial bool) {
	t.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agentflow.author", author),
		attribute.Bool("agentflow.partial", partial),
	))
}

// End records err on span, if any, and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}
