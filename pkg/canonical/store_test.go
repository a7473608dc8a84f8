package canonical

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/vector"
)

func newTestCanonicalStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite", nil)
	require.NoError(t, err)
	return store
}

func mustCreateSlot(t *testing.T, store *Store, session, name, nodeType string, embedding []float32) *Slot {
	t.Helper()
	slot, err := store.CreateSlot(context.Background(), CreateSlotRequest{
		SessionID:     session,
		SlotName:      name,
		Description:   "test slot",
		NodeType:      nodeType,
		FirstSeenTurn: 1,
		Embedding:     embedding,
	})
	require.NoError(t, err)
	return slot
}

func TestCreateSlotUniqueness(t *testing.T) {
	store := newTestCanonicalStore(t)

	slot := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	assert.Equal(t, StatusCandidate, slot.Status)
	assert.Equal(t, 0, slot.SupportCount)

	_, err := store.CreateSlot(context.Background(), CreateSlotRequest{
		SessionID: "s1", SlotName: "creamy_texture", NodeType: "attribute", FirstSeenTurn: 2,
	})
	assert.ErrorIs(t, err, ErrSlotExists)

	// Same name under a different node type is a different slot.
	other := mustCreateSlot(t, store, "s1", "creamy_texture", "functional_consequence", nil)
	assert.NotEqual(t, slot.ID, other.ID)
}

func TestMapSurfaceToSlotSupportCounting(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	a := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	b := mustCreateSlot(t, store, "s1", "oat_flavor", "attribute", nil)

	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n1", a.ID, 1.0, 1))
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n2", a.ID, 0.85, 2))

	got, err := store.GetSlot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SupportCount)

	// Re-mapping the same node to the same slot must not inflate support.
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n1", a.ID, 0.9, 3))
	got, err = store.GetSlot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SupportCount)

	// Rewriting to another slot moves the support.
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n2", b.ID, 0.95, 4))
	got, err = store.GetSlot(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SupportCount)
	got, err = store.GetSlot(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SupportCount)

	mapping, err := store.GetMapping(ctx, "n2")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	assert.Equal(t, b.ID, mapping.CanonicalSlotID)
	assert.Equal(t, 4, mapping.AssignedTurn)
}

func TestPromoteSlot(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	require.NoError(t, store.PromoteSlot(ctx, slot.ID, 3))

	got, err := store.GetSlot(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	require.NotNil(t, got.PromotedTurn)
	assert.Equal(t, 3, *got.PromotedTurn)

	assert.ErrorIs(t, store.PromoteSlot(ctx, "missing", 3), ErrSlotNotFound)
}

func TestFindSimilarSlotsBruteForce(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	// Orthogonal and near-parallel vectors.
	mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", []float32{1, 0, 0})
	mustCreateSlot(t, store, "s1", "oat_flavor", "attribute", []float32{0, 1, 0})
	mustCreateSlot(t, store, "s1", "easy_pour", "functional_consequence", []float32{1, 0, 0})

	matches, err := store.FindSimilarSlots(ctx, "s1", "attribute", []float32{0.95, 0.1, 0}, 0.8,
		StatusActive, StatusCandidate)
	require.NoError(t, err)
	require.Len(t, matches, 1, "only the parallel attribute slot qualifies")
	assert.Equal(t, "creamy_texture", matches[0].Slot.SlotName)
	assert.Greater(t, matches[0].Similarity, 0.9)
}

func TestFindSimilarSlotsIndexWindowCoversAllSlots(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	index, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	store, err := NewStore(db, "sqlite", index)
	require.NoError(t, err)
	ctx := context.Background()

	// 17 candidates sit closer to the query than the lone active slot, so a
	// fixed 16-candidate window would never surface it.
	for i := 0; i < 17; i++ {
		mustCreateSlot(t, store, "s1", fmt.Sprintf("candidate_%d", i), "attribute",
			[]float32{1, float32(i) * 0.001, 0})
	}
	active := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute",
		[]float32{0.9, 0.3, 0})
	require.NoError(t, store.PromoteSlot(ctx, active.ID, 2))

	matches, err := store.FindSimilarSlots(ctx, "s1", "attribute", []float32{1, 0, 0}, 0.8,
		StatusActive)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "creamy_texture", matches[0].Slot.SlotName)
}

func TestAddOrUpdateCanonicalEdge(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	a := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	b := mustCreateSlot(t, store, "s1", "easy_drink", "functional_consequence", nil)

	first, err := store.AddOrUpdateCanonicalEdge(ctx, "s1", a.ID, b.ID, "leads_to", "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.SupportCount)
	assert.Equal(t, []string{"e1"}, first.SurfaceEdgeIDs)

	second, err := store.AddOrUpdateCanonicalEdge(ctx, "s1", a.ID, b.ID, "leads_to", "e2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.SupportCount)
	assert.Equal(t, []string{"e1", "e2"}, second.SurfaceEdgeIDs)

	// Same surface edge again: support grows, provenance stays de-duplicated.
	third, err := store.AddOrUpdateCanonicalEdge(ctx, "s1", a.ID, b.ID, "leads_to", "e2")
	require.NoError(t, err)
	assert.Equal(t, 3, third.SupportCount)
	assert.Equal(t, []string{"e1", "e2"}, third.SurfaceEdgeIDs)
}

func TestComputeState(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	a := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	b := mustCreateSlot(t, store, "s1", "easy_drink", "functional_consequence", nil)
	c := mustCreateSlot(t, store, "s1", "feel_healthy", "psychosocial_consequence", nil)
	orphan := mustCreateSlot(t, store, "s1", "price", "attribute", nil)
	candidate := mustCreateSlot(t, store, "s1", "packaging", "attribute", nil)

	for _, id := range []string{a.ID, b.ID, c.ID, orphan.ID} {
		require.NoError(t, store.PromoteSlot(ctx, id, 2))
	}
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n1", a.ID, 1.0, 1))
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n2", a.ID, 0.9, 2))
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n3", b.ID, 1.0, 2))
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n4", c.ID, 1.0, 3))
	_ = candidate

	_, err := store.AddOrUpdateCanonicalEdge(ctx, "s1", a.ID, b.ID, "leads_to", "e1")
	require.NoError(t, err)
	_, err = store.AddOrUpdateCanonicalEdge(ctx, "s1", b.ID, c.ID, "leads_to", "e2")
	require.NoError(t, err)

	state, err := store.ComputeState(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, 4, state.ConceptCount, "candidates do not count")
	assert.Equal(t, 2, state.EdgeCount)
	assert.Equal(t, 1, state.OrphanCount, "price is an active slot with no edges")
	assert.Equal(t, 2, state.MaxDepth, "a -> b -> c with root depth 0")
	assert.InDelta(t, 1.0, state.AvgSupport, 0.001, "4 mappings over 4 active slots")

	summary := state.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, 4, summary.ConceptCount)
}

func TestComputeStateCyclicGraph(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	a := mustCreateSlot(t, store, "s1", "x", "attribute", nil)
	b := mustCreateSlot(t, store, "s1", "y", "attribute", nil)
	require.NoError(t, store.PromoteSlot(ctx, a.ID, 1))
	require.NoError(t, store.PromoteSlot(ctx, b.ID, 1))

	_, err := store.AddOrUpdateCanonicalEdge(ctx, "s1", a.ID, b.ID, "leads_to", "e1")
	require.NoError(t, err)
	_, err = store.AddOrUpdateCanonicalEdge(ctx, "s1", b.ID, a.ID, "leads_to", "e2")
	require.NoError(t, err)

	// No root exists; BFS must still terminate.
	state, err := store.ComputeState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.MaxDepth)
	assert.Equal(t, 0, state.OrphanCount)
}

func TestDeleteSession(t *testing.T) {
	store := newTestCanonicalStore(t)
	ctx := context.Background()

	slot := mustCreateSlot(t, store, "s1", "creamy_texture", "attribute", nil)
	require.NoError(t, store.MapSurfaceToSlot(ctx, "s1", "n1", slot.ID, 1.0, 1))

	require.NoError(t, store.DeleteSession(ctx, "s1"))

	slots, err := store.GetSlots(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, slots)
	mapping, err := store.GetMapping(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}
