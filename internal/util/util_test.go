package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate_Placeholders(t *testing.T) {
	state := map[string]any{"topic": "a lonely robot", "user:name": "Ada", "n": 2}

	out, err := RenderTemplate("Write about {topic} for {user:name} in {n} lines.{style?}", state)
	require.NoError(t, err)
	assert.Equal(t, "Write about a lonely robot for Ada in 2 lines.", out)

	_, err = RenderTemplate("Critique {story}", state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "story")

	out, err = RenderTemplate(`JSON like {"a": 1} stays`, state)
	require.NoError(t, err)
	assert.Equal(t, `JSON like {"a": 1} stays`, out)
}

func TestRenderTemplate_GoTemplate(t *testing.T) {
	out, err := RenderTemplate(`{{.topic | upper}} / {{state "user:name"}} / {{default "none" .missing}}`, map[string]any{"topic": "robot", "user:name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "ROBOT / Ada / none", out)

	out, err = RenderTemplate("<b>{{.x}}</b>", map[string]any{"x": "a&b"})
	require.NoError(t, err)
	assert.Equal(t, "<b>a&b</b>", out, "no HTML escaping")
}

func TestSchema_Validate(t *testing.T) {
	s, err := CompileSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
			"days": map[string]any{"type": "integer"},
		},
		"required": []string{"city"},
	})
	require.NoError(t, err)

	assert.NoError(t, s.Validate(map[string]any{"city": "Paris", "days": 3}))

	err = s.Validate(map[string]any{"days": 3})
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	err = s.Validate(map[string]any{"city": "Paris", "days": "three"})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "/days", ve.Field)
}

func TestSchema_ValidateJSON(t *testing.T) {
	s, err := CompileSchema(map[string]any{"type": "object", "required": []string{"tone"}})
	require.NoError(t, err)

	v, err := s.ValidateJSON(`{"tone":"positive"}`)
	require.NoError(t, err)
	assert.Equal(t, "positive", v.(map[string]any)["tone"])

	_, err = s.ValidateJSON(`not json`)
	assert.Error(t, err)

	_, err = s.ValidateJSON(`{}`)
	assert.Error(t, err)
}

func TestSchema_NilAcceptsAll(t *testing.T) {
	s, err := CompileSchema(nil)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.NoError(t, s.Validate("anything"))
	assert.NoError(t, ValidateParameters(nil, nil))
}

func TestCreateSchema(t *testing.T) {
	type args struct {
		City  string  `json:"city" description:"City name"`
		Days  *int    `json:"days"`
		Units string  `json:"units,omitempty"`
		Score float64 `json:"score"`
	}

	s := CreateSchema(args{})
	assert.Equal(t, "object", s["type"])
	assert.ElementsMatch(t, []string{"city", "score"}, s["required"])

	props := s["properties"].(map[string]any)
	assert.Equal(t, "integer", props["days"].(map[string]any)["type"])
	assert.Equal(t, "City name", props["city"].(map[string]any)["description"])
}
