package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentflow/core"
)

func userRequest(text string) *Request {
	return &Request{Contents: []core.Content{*core.NewTextContent(core.RoleUser, text)}}
}

func TestMockModel_CannedAndDefault(t *testing.T) {
	m := NewMockModel("mock", "test")
	m.AddResponse("ping", "pong")

	resp, err := m.Generate(context.Background(), userRequest("ping"))
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Content.Text())

	resp, err = m.Generate(context.Background(), userRequest("other"))
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: other", resp.Content.Text())

	_, err = m.Generate(context.Background(), &Request{})
	assert.Error(t, err)
	assert.True(t, m.Info().SupportsTools)
}

func TestScriptedModel_StepsAndRecording(t *testing.T) {
	boom := errors.New("unreachable")
	m := NewScriptedModel("s").
		ThenCall("c1", "lookup", map[string]any{"q": "x"}).
		ThenError(boom).
		ThenText("done")

	resp, err := m.Generate(context.Background(), userRequest("a"))
	require.NoError(t, err)
	calls := resp.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)

	_, err = m.Generate(context.Background(), userRequest("b"))
	assert.ErrorIs(t, err, boom)

	for i := 0; i < 2; i++ {
		resp, err = m.Generate(context.Background(), userRequest("c"))
		require.NoError(t, err)
		assert.Equal(t, "done", resp.Content.Text(), "last step repeats")
	}

	assert.Equal(t, 4, m.Calls())
	assert.Equal(t, "b", m.Requests()[1].Contents[0].Text())
}

func TestScriptedModel_Empty(t *testing.T) {
	_, err := NewScriptedModel("empty").Generate(context.Background(), userRequest("x"))
	assert.Error(t, err)
}

func TestRateLimitedModel_WaitsAndHonoursCancel(t *testing.T) {
	inner := NewScriptedModel("s").ThenText("ok")
	m := NewRateLimitedModel(inner, rate.NewLimiter(rate.Every(time.Hour), 1))

	_, err := m.Generate(context.Background(), userRequest("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Generate(ctx, userRequest("second"))
	require.Error(t, err)
	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, "s", m.Info().Name)
}

func TestNewRateLimitedModel_NilLimiter(t *testing.T) {
	inner := NewScriptedModel("s")
	assert.Same(t, inner, NewRateLimitedModel(inner, nil))
}
