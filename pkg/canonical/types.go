// Package canonical maintains the session's canonical layer: stable slots
// that multiple surface nodes share by similarity, the surface-to-slot
// mappings, and the aggregated canonical edges with provenance.
package canonical

import "time"

// SlotStatus is the slot lifecycle state.
type SlotStatus string

const (
	StatusCandidate SlotStatus = "candidate"
	StatusActive    SlotStatus = "active"
)

// Slot is one canonical concept. Created as a candidate with zero support;
// each surface mapping increments support, and crossing min_support promotes
// it to active. Only active slots participate in canonical metrics.
type Slot struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	SlotName      string     `json:"slot_name"`
	Description   string     `json:"description"`
	NodeType      string     `json:"node_type"`
	Status        SlotStatus `json:"status"`
	SupportCount  int        `json:"support_count"`
	FirstSeenTurn int        `json:"first_seen_turn"`
	PromotedTurn  *int       `json:"promoted_turn,omitempty"`
	Embedding     []float32  `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Mapping links one surface node to its canonical slot. At most one mapping
// exists per surface node; rewriting replaces the row.
type Mapping struct {
	SurfaceNodeID   string  `json:"surface_node_id"`
	CanonicalSlotID string  `json:"canonical_slot_id"`
	SimilarityScore float64 `json:"similarity_score"`
	AssignedTurn    int     `json:"assigned_turn"`
}

// Edge is an aggregate relation between two canonical slots. SurfaceEdgeIDs
// is the de-duplicated, ordered provenance list.
type Edge struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	SourceSlotID   string    `json:"source_slot_id"`
	TargetSlotID   string    `json:"target_slot_id"`
	EdgeType       string    `json:"edge_type"`
	SupportCount   int       `json:"support_count"`
	SurfaceEdgeIDs []string  `json:"surface_edge_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SlotMatch is one similarity search hit.
type SlotMatch struct {
	Slot       *Slot   `json:"slot"`
	Similarity float64 `json:"similarity"`
}

// State is the derived canonical graph snapshot.
type State struct {
	ConceptCount int     `json:"concept_count"`
	EdgeCount    int     `json:"edge_count"`
	OrphanCount  int     `json:"orphan_count"`
	MaxDepth     int     `json:"max_depth"`
	AvgSupport   float64 `json:"avg_support"`
}
