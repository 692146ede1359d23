package llm

import (
	"context"
	"encoding/json"
	"testing"

	"finadvisor/backend/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pointSchema = `{
  "type": "object",
  "properties": {
    "x": {"type": "number", "minimum": 0},
    "label": {"type": ["string", "null"]}
  },
  "required": ["x"]
}`

func TestSchema_Validate(t *testing.T) {
	s := MustCompileSchema("point.json", pointSchema)

	v, err := s.Validate(json.RawMessage(`{"x": 3, "label": null}`))
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = s.Validate(json.RawMessage(`{"x": -1, "label": 4}`))
	require.NoError(t, err)
	require.Len(t, v, 2)
	assert.Equal(t, "/label", v[0].Path)
	assert.Equal(t, "/x", v[1].Path)

	_, err = s.Validate(json.RawMessage(`{"x": `))
	assert.Equal(t, apperr.CodeExtractionParse, apperr.CodeOf(err))
}

func TestCompleteJSON(t *testing.T) {
	s := MustCompileSchema("point.json", pointSchema)
	var gotJSON bool
	client := Func(func(ctx context.Context, req Request) (string, error) {
		gotJSON = req.JSON
		return "Here it is:\n```json\n{\"x\": 2.5, \"label\": \"a\"}\n```", nil
	})

	var out struct {
		X     float64 `json:"x"`
		Label string  `json:"label"`
	}
	require.NoError(t, CompleteJSON(context.Background(), client, Request{Prompt: "p"}, s, &out))
	assert.True(t, gotJSON)
	assert.Equal(t, 2.5, out.X)
	assert.Equal(t, "a", out.Label)

	bad := Func(func(ctx context.Context, req Request) (string, error) { return `{"label": "no x"}`, nil })
	err := CompleteJSON(context.Background(), bad, Request{}, s, &out)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}
