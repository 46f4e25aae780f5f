package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/blocktree/backend/internal/shared/types"
	"github.com/GriffinCanCode/blocktree/backend/internal/store/memory"
)

const yamlDef = `
key: contact.card
name: Contact card
strictness: SOFT
schema:
  type: object
  properties:
    name:
      type: string
      default: New contact
nesting:
  max: 3
  allowed_types: [contact.note]
display:
  render:
    version: 1
    layout:
      items:
        - id: title
          breakpoints:
            lg: {x: 0, y: 0, w: 6, h: 1}
    components:
      title:
        id: title
        type: heading
        bindings:
          - prop: text
            source: {kind: DataPath, path: "$.data/name"}
`

const tomlDef = `
key = "contact.note"
name = "Note"

[schema]
type = "object"

[schema.properties.body]
type = "string"
format = "html"
`

const jsonDef = `{"key": "client.list", "name": "Clients", "kind": "entity_reference"}`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDecodeDefinitionFormats(t *testing.T) {
	bt, err := DecodeDefinition(".yaml", []byte(yamlDef))
	require.NoError(t, err)
	assert.Equal(t, "contact.card", bt.Key)
	assert.Equal(t, types.StrictnessSoft, bt.Strictness)
	assert.Equal(t, []string{"contact.note"}, bt.Nesting.AllowedTypes)
	require.NotNil(t, bt.Display.Render)
	require.Len(t, bt.Display.Render.Components["title"].Bindings, 1)
	assert.Equal(t, types.DataPathSource{Path: "$.data/name"}, bt.Display.Render.Components["title"].Bindings[0].Source)

	bt, err = DecodeDefinition(".toml", []byte(tomlDef))
	require.NoError(t, err)
	assert.Equal(t, "html", bt.Schema.Properties["body"].Format)

	bt, err = DecodeDefinition(".json", []byte(jsonDef))
	require.NoError(t, err)
	assert.Equal(t, types.PayloadEntityReference, bt.Kind)

	_, err = DecodeDefinition(".json", []byte(`{"name": "no key"}`))
	assert.Error(t, err)

	_, err = DecodeDefinition(".ini", []byte(`x=1`))
	assert.Error(t, err)
}

func TestSeederPublishesAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "contact/card.yaml", yamlDef)
	writeFile(t, dir, "contact/note.toml", tomlDef)
	writeFile(t, dir, "client.json", jsonDef)
	writeFile(t, dir, "README.md", "# not a definition")
	writeFile(t, dir, "broken.json", "{")

	reg := New(memory.New())
	seeder := NewSeeder(reg, dir, "")
	ctx := context.Background()

	res, err := seeder.Seed(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"contact.card", "contact.note", "client.list"}, res.Published)
	assert.Len(t, res.Failed, 1)

	card, err := reg.Latest(ctx, "", "contact.card")
	require.NoError(t, err)
	assert.True(t, card.System)

	res, err = seeder.Seed(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Published)
	assert.Empty(t, res.Updated)
	assert.Len(t, res.Unchanged, 3)

	writeFile(t, dir, "client.json", `{"key": "client.list", "name": "All clients", "kind": "entity_reference"}`)
	res, err = seeder.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"client.list"}, res.Updated)

	list, err := reg.Latest(ctx, "", "client.list")
	require.NoError(t, err)
	assert.Equal(t, 2, list.Version)
}

func TestSeederMissingDirectory(t *testing.T) {
	seeder := NewSeeder(New(memory.New()), filepath.Join(t.TempDir(), "nope"), "")
	res, err := seeder.Seed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Published)
}

func TestSeederPattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a/card.yaml", yamlDef)
	writeFile(t, dir, "client.json", jsonDef)

	seeder := NewSeeder(New(memory.New()), dir, "**/*.json")
	res, err := seeder.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"client.list"}, res.Published)
}
