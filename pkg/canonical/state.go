package canonical

import (
	"context"
	"time"

	"github.com/kadirpekel/inquest/pkg/graph"
)

// slowStateThreshold flags canonical state computations worth investigating.
const slowStateThreshold = 100 * time.Millisecond

// ComputeState derives the canonical graph snapshot for a session. Only
// active slots count; candidates are excluded from both the concept count
// and the orphan calculation.
func (s *Store) ComputeState(ctx context.Context, sessionID string) (*State, error) {
	start := time.Now()

	slots, err := s.GetSlots(ctx, sessionID, StatusActive)
	if err != nil {
		return nil, err
	}
	edges, err := s.GetEdges(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	state := &State{
		ConceptCount: len(slots),
		EdgeCount:    len(edges),
	}

	touched := make(map[string]bool)
	out := make(map[string][]string)
	hasIncoming := make(map[string]bool)
	for _, e := range edges {
		touched[e.SourceSlotID] = true
		touched[e.TargetSlotID] = true
		out[e.SourceSlotID] = append(out[e.SourceSlotID], e.TargetSlotID)
		hasIncoming[e.TargetSlotID] = true
	}

	var supportTotal int
	active := make(map[string]bool, len(slots))
	for _, slot := range slots {
		active[slot.ID] = true
		supportTotal += slot.SupportCount
		if !touched[slot.ID] {
			state.OrphanCount++
		}
	}
	if len(slots) > 0 {
		state.AvgSupport = float64(supportTotal) / float64(len(slots))
	}

	var roots []string
	for _, slot := range slots {
		if !hasIncoming[slot.ID] {
			roots = append(roots, slot.ID)
		}
	}
	// A wholly cyclic graph has no roots; walk from every slot instead.
	if len(roots) == 0 {
		for _, slot := range slots {
			roots = append(roots, slot.ID)
		}
	}

	for _, root := range roots {
		if depth := bfsMaxDepth(root, out, active); depth > state.MaxDepth {
			state.MaxDepth = depth
		}
	}

	if elapsed := time.Since(start); elapsed > slowStateThreshold {
		s.logger.Warn("canonical state computation slow",
			"session", sessionID, "elapsed", elapsed, "slots", len(slots), "edges", len(edges))
	}
	return state, nil
}

// bfsMaxDepth returns the deepest level reached from root, where the root
// itself is depth 0. Only active slots are traversed; the visited set keeps
// cycles finite.
func bfsMaxDepth(root string, out map[string][]string, active map[string]bool) int {
	type item struct {
		id    string
		depth int
	}
	visited := map[string]bool{root: true}
	queue := []item{{root, 0}}
	maxDepth := 0

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth > maxDepth {
			maxDepth = current.depth
		}
		for _, next := range out[current.id] {
			if visited[next] || !active[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, item{next, current.depth + 1})
		}
	}
	return maxDepth
}

// Summary converts the canonical state into the compact form carried on
// GraphState for scorers.
func (st *State) Summary() *graph.CanonicalSummary {
	if st == nil {
		return nil
	}
	return &graph.CanonicalSummary{
		ConceptCount: st.ConceptCount,
		EdgeCount:    st.EdgeCount,
		OrphanCount:  st.OrphanCount,
		MaxDepth:     st.MaxDepth,
		AvgSupport:   st.AvgSupport,
	}
}
