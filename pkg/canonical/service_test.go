package canonical

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/llms"
)

// mockLLM returns canned responses in order.
type mockLLM struct {
	responses []string
	calls     int
	lastReq   llms.CompletionRequest
}

func (m *mockLLM) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResponse, error) {
	m.lastReq = req
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("unexpected llm call %d", m.calls)
	}
	content := m.responses[m.calls]
	m.calls++
	return &llms.CompletionResponse{Content: content, Model: "mock"}, nil
}

func (m *mockLLM) ModelName() string { return "mock" }
func (m *mockLLM) Close() error      { return nil }

// mockEmbedder maps known texts to fixed vectors; unknown texts get a
// default orthogonal vector.
type mockEmbedder struct {
	vectors map[string][]float32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (m *mockEmbedder) GetDimension() int    { return 3 }
func (m *mockEmbedder) GetModelName() string { return "mock-embed" }
func (m *mockEmbedder) Close() error         { return nil }

func newTestService(t *testing.T, llm *mockLLM, embed *mockEmbedder) (*SlotService, *Store) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite", nil)
	require.NoError(t, err)

	svc := NewSlotService(store, embed, llm, ServiceConfig{
		BatchSize:           8,
		SimilarityThreshold: 0.80,
		MinSupport:          2,
	})
	return svc, store
}

func discoveryJSON(nodeType, slotName string, ids ...string) string {
	quoted := ""
	for i, id := range ids {
		if i > 0 {
			quoted += ", "
		}
		quoted += fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`{"groupings": {%q: {"proposed_slots": [{"slot_name": %q, "description": "shared texture", "surface_node_ids": [%s]}]}}}`,
		nodeType, slotName, quoted)
}

func TestDiscoverSlotsCreatesAndPromotes(t *testing.T) {
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "creamy_texture", "n1", "n2"),
	}}
	svc, store := newTestService(t, llm, &mockEmbedder{})
	ctx := context.Background()

	nodes := []*graph.Node{
		{ID: "n1", Label: "silky", NodeType: "attribute"},
		{ID: "n2", Label: "smooth", NodeType: "attribute"},
	}
	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2, nodes))

	slot, err := store.FindSlotByNameAndType(ctx, "s1", "creamy_texture", "attribute")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, 2, slot.SupportCount)
	// Two mappings reach min_support, so the fresh candidate activates.
	assert.Equal(t, StatusActive, slot.Status)
}

func TestDiscoverSlotsLemmatizesSlotName(t *testing.T) {
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "creamy_textures", "n1"),
	}}
	svc, store := newTestService(t, llm, &mockEmbedder{})
	ctx := context.Background()

	nodes := []*graph.Node{{ID: "n1", Label: "creamy", NodeType: "attribute"}}
	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2, nodes))

	slot, err := store.FindSlotByNameAndType(ctx, "s1", "creamy_texture", "attribute")
	require.NoError(t, err)
	require.NotNil(t, slot, "plural slot name normalizes to the singular lemma")
}

func TestDiscoverSlotsMergesBySimilarity(t *testing.T) {
	embed := &mockEmbedder{vectors: map[string][]float32{
		"silky_foam :: shared texture":  {1, 0, 0},
		"creamy_foam :: shared texture": {0.97, 0.2, 0},
	}}
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "silky_foam", "n1"),
		discoveryJSON("attribute", "creamy_foam", "n2"),
	}}
	svc, store := newTestService(t, llm, embed)
	ctx := context.Background()

	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2,
		[]*graph.Node{{ID: "n1", Label: "silky foam", NodeType: "attribute"}}))
	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 3,
		[]*graph.Node{{ID: "n2", Label: "creamy foam", NodeType: "attribute"}}))

	// The second proposal merged into the first slot instead of creating
	// creamy_foam; both surface nodes map to it and it is promoted.
	slots, err := store.GetSlots(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "silky_foam", slots[0].SlotName)
	assert.Equal(t, 2, slots[0].SupportCount)
	assert.Equal(t, StatusActive, slots[0].Status)

	mapping, err := store.GetMapping(ctx, "n2")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, slots[0].ID, mapping.CanonicalSlotID)
	assert.Greater(t, mapping.SimilarityScore, 0.9)
}

func TestDiscoverSlotsExactNameReuse(t *testing.T) {
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "creamy_texture", "n1"),
		discoveryJSON("attribute", "creamy_texture", "n2"),
	}}
	svc, store := newTestService(t, llm, &mockEmbedder{})
	ctx := context.Background()

	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2,
		[]*graph.Node{{ID: "n1", Label: "silky", NodeType: "attribute"}}))
	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 3,
		[]*graph.Node{{ID: "n2", Label: "smooth", NodeType: "attribute"}}))

	slots, err := store.GetSlots(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 2, slots[0].SupportCount)
}

func TestDiscoverSlotsIgnoresHallucinatedIDs(t *testing.T) {
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "creamy_texture", "n1", "made-up"),
	}}
	svc, store := newTestService(t, llm, &mockEmbedder{})
	ctx := context.Background()

	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2,
		[]*graph.Node{{ID: "n1", Label: "silky", NodeType: "attribute"}}))

	mapping, err := store.GetMapping(ctx, "made-up")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	slot, err := store.FindSlotByNameAndType(ctx, "s1", "creamy_texture", "attribute")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, 1, slot.SupportCount)
}

func TestDiscoverSlotsRejectsWrongTypeIDs(t *testing.T) {
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "creamy_texture", "n1", "n2"),
	}}
	svc, store := newTestService(t, llm, &mockEmbedder{})
	ctx := context.Background()

	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2, []*graph.Node{
		{ID: "n1", Label: "silky", NodeType: "attribute"},
		{ID: "n2", Label: "satisfying", NodeType: "functional_consequence"},
	}))

	// The consequence node grouped under attribute is dropped like a
	// hallucinated id, never mapped.
	mapping, err := store.GetMapping(ctx, "n2")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	slot, err := store.FindSlotByNameAndType(ctx, "s1", "creamy_texture", "attribute")
	require.NoError(t, err)
	require.NotNil(t, slot)
	assert.Equal(t, 1, slot.SupportCount)
}

func TestDiscoverSlotsBatchTruncation(t *testing.T) {
	llm := &mockLLM{responses: []string{
		discoveryJSON("attribute", "creamy_texture", "n1", "n2"),
	}}
	svc, store := newTestService(t, llm, &mockEmbedder{})
	svc.cfg.BatchSize = 2
	ctx := context.Background()

	nodes := []*graph.Node{
		{ID: "n1", Label: "silky", NodeType: "attribute"},
		{ID: "n2", Label: "smooth", NodeType: "attribute"},
		{ID: "n3", Label: "thick", NodeType: "attribute"},
	}
	require.NoError(t, svc.DiscoverSlots(ctx, "s1", 2, nodes))

	// n3 fell out of the batch and stays unmapped this turn.
	mapping, err := store.GetMapping(ctx, "n3")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestParseDiscoveryResponse(t *testing.T) {
	t.Run("strips fences", func(t *testing.T) {
		raw := "```json\n" + discoveryJSON("attribute", "creamy_texture", "n1") + "\n```"
		resp, err := parseDiscoveryResponse(raw)
		require.NoError(t, err)
		assert.Len(t, resp.Groupings["attribute"].ProposedSlots, 1)
	})

	t.Run("missing groupings is a hard error", func(t *testing.T) {
		_, err := parseDiscoveryResponse(`{"slots": []}`)
		assert.Error(t, err)
	})

	t.Run("empty slot name is a hard error", func(t *testing.T) {
		_, err := parseDiscoveryResponse(`{"groupings": {"attribute": {"proposed_slots": [{"slot_name": "", "surface_node_ids": ["n1"]}]}}}`)
		assert.Error(t, err)
	})

	t.Run("proposal without ids is a hard error", func(t *testing.T) {
		_, err := parseDiscoveryResponse(`{"groupings": {"attribute": {"proposed_slots": [{"slot_name": "x", "surface_node_ids": []}]}}}`)
		assert.Error(t, err)
	})
}

func TestAggregateEdges(t *testing.T) {
	svc, store := newTestService(t, &mockLLM{}, &mockEmbedder{})
	ctx := context.Background()

	a := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	b := mustCreateSlot(t, store, "s1", "easy_drink", "functional_consequence", nil)
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n1", a.ID, 1.0, 1))
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n2", b.ID, 1.0, 1))

	edges := []*graph.Edge{
		{ID: "e1", SessionID: "s1", SourceNodeID: "n1", TargetNodeID: "n2", EdgeType: "leads_to"},
		// n3 has no mapping yet; skipped this turn.
		{ID: "e2", SessionID: "s1", SourceNodeID: "n1", TargetNodeID: "n3", EdgeType: "leads_to"},
	}
	require.NoError(t, svc.AggregateEdges(ctx, "s1", edges))

	canonical, err := store.GetEdges(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, canonical, 1)
	assert.Equal(t, a.ID, canonical[0].SourceSlotID)
	assert.Equal(t, b.ID, canonical[0].TargetSlotID)
	assert.Equal(t, []string{"e1"}, canonical[0].SurfaceEdgeIDs)
}
