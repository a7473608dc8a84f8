package graph

import (
	"math"
	"strings"
	"unicode"

	"github.com/kadirpekel/inquest/pkg/methodology"
)

// ComputeStructuralState derives the structural portion of GraphState from
// the active nodes and edges: counts, type histograms, orphans, depth and
// element coverage. The conversational fields (turn count, strategy history,
// phase) are filled in by the caller.
func ComputeStructuralState(nodes []*Node, edges []*Edge, concept *methodology.Concept, depthTarget int) *GraphState {
	state := &GraphState{
		NodeCount:   len(nodes),
		EdgeCount:   len(edges),
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}

	connected := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		state.NodesByType[n.NodeType]++
	}
	for _, e := range edges {
		state.EdgesByType[e.EdgeType]++
		connected[e.SourceNodeID] = true
		connected[e.TargetNodeID] = true
	}
	for _, n := range nodes {
		if !connected[n.ID] {
			state.OrphanCount++
		}
	}

	state.Depth = ComputeDepthMetrics(nodes, edges)
	if concept != nil && len(concept.Elements) > 0 {
		state.Coverage = ComputeCoverage(nodes, edges, concept, depthTarget)
	}

	return state
}

// ComputeDepthMetrics walks chains from root nodes (no incoming active edge)
// and reports the longest chain, the average root chain length, and the node
// ids along the deepest path. Depth counts nodes, so a single orphan node
// has depth 1.
func ComputeDepthMetrics(nodes []*Node, edges []*Edge) DepthMetrics {
	if len(nodes) == 0 {
		return DepthMetrics{}
	}

	out := make(map[string][]string, len(nodes))
	hasIncoming := make(map[string]bool, len(nodes))
	for _, e := range edges {
		out[e.SourceNodeID] = append(out[e.SourceNodeID], e.TargetNodeID)
		hasIncoming[e.TargetNodeID] = true
	}

	var roots []string
	for _, n := range nodes {
		if !hasIncoming[n.ID] {
			roots = append(roots, n.ID)
		}
	}
	// Pure cycles have no root. Fall back to every node so depth is still
	// defined.
	if len(roots) == 0 {
		for _, n := range nodes {
			roots = append(roots, n.ID)
		}
	}

	metrics := DepthMetrics{}
	var total int
	for _, root := range roots {
		path := longestPathFrom(root, out, make(map[string]bool))
		depth := len(path)
		total += depth
		if depth > metrics.MaxDepth {
			metrics.MaxDepth = depth
			metrics.DeepestPath = path
		}
	}
	metrics.AvgDepth = float64(total) / float64(len(roots))
	return metrics
}

// longestPathFrom returns the node ids of the longest downstream path
// starting at id. The visited set guards against cycles.
func longestPathFrom(id string, out map[string][]string, visited map[string]bool) []string {
	visited[id] = true
	defer delete(visited, id)

	var best []string
	for _, next := range out[id] {
		if visited[next] {
			continue
		}
		if path := longestPathFrom(next, out, visited); len(path) > len(best) {
			best = path
		}
	}
	return append([]string{id}, best...)
}

// ComputeCoverage matches active node labels against concept element terms.
// An element is covered when any node label contains the element's label or
// an alias as a whole-word, case-insensitive substring. The depth score is
// the longest chain through any matching node, normalized by depthTarget;
// a covered element with depth score below 0.5 is shallow.
func ComputeCoverage(nodes []*Node, edges []*Edge, concept *methodology.Concept, depthTarget int) *CoverageState {
	if depthTarget <= 0 {
		depthTarget = 4
	}

	out := make(map[string][]string, len(nodes))
	in := make(map[string][]string, len(nodes))
	for _, e := range edges {
		out[e.SourceNodeID] = append(out[e.SourceNodeID], e.TargetNodeID)
		in[e.TargetNodeID] = append(in[e.TargetNodeID], e.SourceNodeID)
	}

	state := &CoverageState{TotalCount: len(concept.Elements)}
	for _, element := range concept.Elements {
		cov := ElementCoverage{ElementID: element.ID, Label: element.Label}

		maxChain := 0
		for _, n := range nodes {
			if !nodeMatchesElement(n.Label, element) {
				continue
			}
			cov.Covered = true
			if chain := chainLengthThrough(n.ID, out, in); chain > maxChain {
				maxChain = chain
			}
		}

		if cov.Covered {
			cov.DepthScore = math.Min(1.0, float64(maxChain)/float64(depthTarget))
			cov.Shallow = cov.DepthScore < 0.5
			state.CoveredCount++
		}
		state.Elements = append(state.Elements, cov)
	}
	return state
}

// chainLengthThrough returns the node count of the longest chain passing
// through id: longest upstream run plus longest downstream run plus the
// node itself.
func chainLengthThrough(id string, out, in map[string][]string) int {
	down := len(longestPathFrom(id, out, make(map[string]bool))) - 1
	up := len(longestPathFrom(id, in, make(map[string]bool))) - 1
	return up + down + 1
}

// nodeMatchesElement reports whether label contains any element term as a
// whole word, case-insensitively. "oat taste" matches term "taste";
// "distasteful" does not.
func nodeMatchesElement(label string, element methodology.Element) bool {
	lower := strings.ToLower(label)
	for _, term := range element.Terms() {
		if containsWholeWord(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func containsWholeWord(s, term string) bool {
	if term == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(s[start:], term)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(term)
		beforeOK := idx == 0 || !isWordChar(rune(s[idx-1]))
		afterOK := end == len(s) || !isWordChar(rune(s[end]))
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
