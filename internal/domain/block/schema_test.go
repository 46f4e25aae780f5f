package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
)

func intp(i int) *int           { return &i }
func floatp(f float64) *float64 { return &f }
func boolp(b bool) *bool        { return &b }

func TestMerge(t *testing.T) {
	base := map[string]any{
		"title": "a",
		"meta":  map[string]any{"x": 1.0, "y": 2.0},
		"tags":  []any{"one"},
	}
	out := Merge(base, map[string]any{
		"title": nil,
		"meta":  map[string]any{"y": nil, "z": 3.0},
		"tags":  []any{"two"},
		"new":   true,
	})

	assert.Equal(t, map[string]any{
		"meta": map[string]any{"x": 1.0, "z": 3.0},
		"tags": []any{"two"},
		"new":  true,
	}, out)
	assert.Equal(t, "a", base["title"], "base must not change")
	assert.Equal(t, map[string]any{"x": 1.0, "y": 2.0}, base["meta"])
}

func TestValidate(t *testing.T) {
	schema := &types.Schema{
		Type:     "object",
		Required: []string{"title"},
		Properties: map[string]*types.Schema{
			"title":  {Type: "string", MinLength: intp(2), MaxLength: intp(5)},
			"count":  {Type: "integer", Minimum: floatp(0)},
			"email":  {Type: "string", Format: "email"},
			"status": {Type: "string", Enum: []any{"open", "closed"}},
			"lines":  {Type: "array", Items: &types.Schema{Type: "number"}},
		},
		AdditionalProperties: boolp(false),
	}
	v := NewValidator()

	tests := []struct {
		name string
		data map[string]any
		want []string
	}{
		{"valid", map[string]any{"title": "ok", "count": 3.0, "lines": []any{1.0, 2}}, nil},
		{"missing required", map[string]any{}, []string{"data.title"}},
		{"too short", map[string]any{"title": "a"}, []string{"data.title"}},
		{"fraction", map[string]any{"title": "ok", "count": 1.5}, []string{"data.count"}},
		{"negative", map[string]any{"title": "ok", "count": -1.0}, []string{"data.count"}},
		{"email", map[string]any{"title": "ok", "email": "nope"}, []string{"data.email"}},
		{"enum", map[string]any{"title": "ok", "status": "gone"}, []string{"data.status"}},
		{"array item", map[string]any{"title": "ok", "lines": []any{1.0, "x"}}, []string{"data.lines[1]"}},
		{"undeclared", map[string]any{"title": "ok", "extra": 1.0}, []string{"data.extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, issue := range v.Validate(schema, tt.data) {
				got = append(got, issue.Path)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Empty(t, v.Validate(nil, map[string]any{"anything": 1}))
}

func TestSanitize(t *testing.T) {
	schema := &types.Schema{
		Type: "object",
		Properties: map[string]*types.Schema{
			"body":  {Type: "string", Format: FormatHTML},
			"plain": {Type: "string"},
			"notes": {Type: "array", Items: &types.Schema{Type: "string", Format: FormatHTML}},
		},
	}
	data := map[string]any{
		"body":  `<p>hi<script>alert(1)</script></p>`,
		"plain": `<script>kept</script>`,
		"notes": []any{`<b onclick="x()">bold</b>`},
	}

	NewValidator().Sanitize(schema, data)

	require.Equal(t, "<p>hi</p>", data["body"])
	assert.Equal(t, `<script>kept</script>`, data["plain"])
	assert.Equal(t, []any{"<b>bold</b>"}, data["notes"])
}
