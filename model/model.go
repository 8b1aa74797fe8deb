package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentflow/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Request captures the normalized model input produced by flows. Before-model
// callbacks receive it by pointer and may edit it in place.
type Request struct {
	SystemInstruction string           `json:"system_instruction,omitempty"`
	Contents          []core.Content   `json:"contents"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	OutputSchema      map[string]any   `json:"output_schema,omitempty"` // structured output, JSON Schema
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the provider-neutral model output. ErrorCode/ErrorMessage
// describe recoverable provider side failures (content filtered, refusal);
// transport failures are returned as errors by Generate instead.
type Response struct {
	ID           string        `json:"id,omitempty"`
	Content      *core.Content `json:"content,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage   `json:"usage,omitempty"`
	ErrorCode    string        `json:"error_code,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// FunctionCalls returns the function calls in the response content.
func (r *Response) FunctionCalls() []core.FunctionCall {
	if r == nil || r.Content == nil {
		return nil
	}

	var calls []core.FunctionCall

	for _, p := range r.Content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}

	return calls
}

// NewTextResponse builds a final text response.
func NewTextResponse(text string) *Response {
	return &Response{Content: core.NewTextContent(core.RoleModel, text), FinishReason: "stop"}
}

// NewFunctionCallResponse builds a response requesting the given calls.
func NewFunctionCallResponse(calls ...core.FunctionCall) *Response {
	parts := make([]core.Part, 0, len(calls))
	for _, c := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: c})
	}

	return &Response{Content: &core.Content{Role: core.RoleModel, Parts: parts}, FinishReason: "tool_calls"}
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the opaque capability a leaf agent invokes once per reasoning step.
type Model interface {
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// It answers with canned completions keyed by the text of the last content.
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(req.Contents) == 0 {
		return nil, fmt.Errorf("no contents provided")
	}

	inputText := req.Contents[len(req.Contents)-1].Text()

	m.mu.Lock()
	full := m.responses[inputText]
	m.mu.Unlock()

	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", inputText)
	}

	return NewTextResponse(full), nil
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

// Func adapts a function to the Model interface.
type Func func(ctx context.Context, req *Request) (*Response, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// Info reports a generic function model.
func (f Func) Info() Info { return Info{Name: "func", Provider: "local", SupportsTools: true} }

// ScriptedModel replays a fixed sequence of steps, one per Generate call, and
// records every request it receives. Once the script is exhausted the last
// step repeats.
type ScriptedModel struct {
	name string

	mu       sync.Mutex
	steps    []Func
	next     int
	requests []*Request
}

// NewScriptedModel creates an empty script.
func NewScriptedModel(name string) *ScriptedModel {
	return &ScriptedModel{name: name}
}

// Then appends a step returning resp.
func (m *ScriptedModel) Then(resp *Response) *ScriptedModel {
	return m.ThenFunc(func(context.Context, *Request) (*Response, error) { return resp, nil })
}

// ThenText appends a step returning a plain text answer.
func (m *ScriptedModel) ThenText(text string) *ScriptedModel {
	return m.Then(NewTextResponse(text))
}

// ThenCall appends a step requesting a single function call.
func (m *ScriptedModel) ThenCall(id, name string, args map[string]any) *ScriptedModel {
	return m.Then(NewFunctionCallResponse(core.FunctionCall{ID: id, Name: name, Args: args}))
}

// ThenError appends a step failing with err.
func (m *ScriptedModel) ThenError(err error) *ScriptedModel {
	return m.ThenFunc(func(context.Context, *Request) (*Response, error) { return nil, err })
}

// ThenFunc appends an arbitrary step.
func (m *ScriptedModel) ThenFunc(fn Func) *ScriptedModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.steps = append(m.steps, fn)

	return m
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.steps) == 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("scripted model %s has no steps", m.name)
	}

	idx := m.next
	if idx >= len(m.steps) {
		idx = len(m.steps) - 1
	} else {
		m.next++
	}

	step := m.steps[idx]
	m.requests = append(m.requests, cloneRequest(req))
	m.mu.Unlock()

	return step(ctx, req)
}

// Info implements Model.
func (m *ScriptedModel) Info() Info {
	return Info{Name: m.name, Provider: "scripted", SupportsTools: true}
}

// Calls returns how many times Generate was invoked.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// Requests returns copies of the received requests in call order.
func (m *ScriptedModel) Requests() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, len(m.requests))
	copy(out, m.requests)

	return out
}

func cloneRequest(req *Request) *Request {
	c := *req
	c.Contents = make([]core.Content, len(req.Contents))

	for i, content := range req.Contents {
		c.Contents[i] = *content.Clone()
	}

	c.Tools = append([]ToolDefinition(nil), req.Tools...)

	return &c
}
