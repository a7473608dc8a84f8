package methodology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const laddersYAML = `
method:
  name: ladders
  version: "1.0"
ontology:
  node_types:
    - name: attribute
      description: A product characteristic
      examples: ["creamy texture", "resealable cap", "oat flavor", "fourth example"]
      level: 0
    - name: consequence
      description: An outcome
      level: 1
    - name: value
      description: A personal value
      level: 2
      terminal: true
  edge_types:
    - name: leads_to
      description: Causal link
      connections:
        - from: attribute
          to: consequence
        - from: consequence
          to: value
    - name: revises
      description: Belief revision
      connections:
        - from: "*"
          to: "*"
  revision_edge: revises
`

func writeMethodology(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
	return dir
}

func TestRegistryGet(t *testing.T) {
	registry := NewRegistry(writeMethodology(t, "ladders", laddersYAML))

	schema, err := registry.Get("ladders")
	require.NoError(t, err)
	assert.Equal(t, "ladders", schema.Method.Name)
	assert.Len(t, schema.Ontology.NodeTypes, 3)

	// Cached load returns the same instance.
	again, err := registry.Get("ladders")
	require.NoError(t, err)
	assert.Same(t, schema, again)
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := NewRegistry(t.TempDir())
	_, err := registry.Get("nope")
	assert.ErrorIs(t, err, ErrMethodologyNotFound)
}

func TestRegistryList(t *testing.T) {
	dir := writeMethodology(t, "ladders", laddersYAML)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "concepts.yaml"), []byte("concepts: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	registry := NewRegistry(dir)
	names, err := registry.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"ladders"}, names)
}

func TestSchemaValidate(t *testing.T) {
	level := 0
	negative := -1
	base := func() *Schema {
		return &Schema{
			Ontology: OntologySpec{
				NodeTypes: []NodeTypeSpec{{Name: "a", Level: &level}, {Name: "b"}},
				EdgeTypes: []EdgeTypeSpec{{Name: "rel", Connections: []ConnectionSpec{{From: "a", To: "b"}}}},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Schema)
		wantErr string
	}{
		{"valid", func(s *Schema) {}, ""},
		{"no node types", func(s *Schema) { s.Ontology.NodeTypes = nil }, "at least one node type"},
		{"duplicate node type", func(s *Schema) {
			s.Ontology.NodeTypes = append(s.Ontology.NodeTypes, NodeTypeSpec{Name: "a"})
		}, "duplicate node type"},
		{"negative level", func(s *Schema) { s.Ontology.NodeTypes[0].Level = &negative }, "non-negative"},
		{"duplicate edge type", func(s *Schema) {
			s.Ontology.EdgeTypes = append(s.Ontology.EdgeTypes, s.Ontology.EdgeTypes[0])
		}, "duplicate edge type"},
		{"no connections", func(s *Schema) { s.Ontology.EdgeTypes[0].Connections = nil }, "permitted connection"},
		{"unknown connection type", func(s *Schema) {
			s.Ontology.EdgeTypes[0].Connections = []ConnectionSpec{{From: "a", To: "ghost"}}
		}, "unknown node type"},
		{"unknown revision edge", func(s *Schema) { s.Ontology.RevisionEdge = "ghost" }, "revision_edge"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := base()
			tt.mutate(schema)
			err := schema.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidConnection(t *testing.T) {
	registry := NewRegistry(writeMethodology(t, "ladders", laddersYAML))
	schema, err := registry.Get("ladders")
	require.NoError(t, err)

	assert.True(t, schema.ValidConnection("leads_to", "attribute", "consequence"))
	assert.True(t, schema.ValidConnection("leads_to", "consequence", "value"))
	assert.False(t, schema.ValidConnection("leads_to", "attribute", "value"))
	assert.False(t, schema.ValidConnection("leads_to", "value", "attribute"))

	// Wildcard connections admit anything defined.
	assert.True(t, schema.ValidConnection("revises", "value", "attribute"))
	assert.True(t, schema.ValidConnection("revises", "attribute", "attribute"))

	assert.False(t, schema.ValidConnection("ghost", "attribute", "consequence"))
}

func TestNodeDescriptions(t *testing.T) {
	registry := NewRegistry(writeMethodology(t, "ladders", laddersYAML))
	schema, err := registry.Get("ladders")
	require.NoError(t, err)

	descs := schema.NodeDescriptions()
	// At most three examples make it into the description.
	assert.Equal(t, "A product characteristic (e.g. 'creamy texture', 'resealable cap', 'oat flavor')", descs["attribute"])
	assert.Equal(t, "An outcome", descs["consequence"])

	edges := schema.EdgeDescriptionsWithConnections()
	assert.Equal(t, "Causal link [attribute->consequence, consequence->value]", edges["leads_to"])
}

func TestConceptCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concepts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
concepts:
  - id: oat-milk
    name: Oat Milk
    elements:
      - id: texture
        label: texture
        aliases: [creamy, smooth]
`), 0o644))

	catalog := NewConceptCatalog(path)
	concept, err := catalog.Get("oat-milk")
	require.NoError(t, err)
	assert.Equal(t, "Oat Milk", concept.Name)
	require.Len(t, concept.Elements, 1)
	assert.Equal(t, []string{"texture", "creamy", "smooth"}, concept.Elements[0].Terms())

	_, err = catalog.Get("soy-milk")
	assert.ErrorIs(t, err, ErrConceptNotFound)
	assert.Nil(t, catalog.Lookup("soy-milk"))
}

func TestConceptCatalogMissingFile(t *testing.T) {
	catalog := NewConceptCatalog(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := catalog.Get("anything")
	assert.ErrorIs(t, err, ErrConceptNotFound)
}
