// Package graph persists and queries the surface knowledge graph: the
// utterance log, typed nodes and edges extracted per turn, supersession
// links, the per-turn scoring trace, and the derived GraphState.
package graph

import "time"

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerSystem Speaker = "system"
	SpeakerUser   Speaker = "user"
)

// Utterance is one conversation entry. Immutable once written.
type Utterance struct {
	ID         string
	SessionID  string
	TurnNumber int
	Speaker    Speaker
	Text       string
	CreatedAt  time.Time
}

// Node is a surface graph node. A node with non-empty SupersededBy is
// invisible to all active queries.
type Node struct {
	ID                 string
	SessionID          string
	Label              string
	NodeType           string
	Confidence         float64
	Properties         map[string]any
	SourceUtteranceIDs []string
	RecordedAt         time.Time
	SupersededBy       string
}

// Active reports whether the node participates in graph queries.
func (n *Node) Active() bool {
	return n.SupersededBy == ""
}

// Edge is a typed surface relation. At most one active edge exists per
// (session, source, target, edge_type).
type Edge struct {
	ID                 string
	SessionID          string
	SourceNodeID       string
	TargetNodeID       string
	EdgeType           string
	Confidence         float64
	Properties         map[string]any
	SourceUtteranceIDs []string
	RecordedAt         time.Time
	SupersededBy       string
}

func (e *Edge) Active() bool {
	return e.SupersededBy == ""
}

// DepthMetrics summarizes chain structure over the active graph.
type DepthMetrics struct {
	MaxDepth    int      `json:"max_depth"`
	AvgDepth    float64  `json:"avg_depth"`
	DeepestPath []string `json:"deepest_path,omitempty"`
}

// ElementCoverage is the coverage result for one concept element.
type ElementCoverage struct {
	ElementID  string  `json:"element_id"`
	Label      string  `json:"label"`
	Covered    bool    `json:"covered"`
	DepthScore float64 `json:"depth_score"`
	Shallow    bool    `json:"shallow"`
}

// CoverageState aggregates element coverage for the session's concept.
type CoverageState struct {
	Elements     []ElementCoverage `json:"elements"`
	CoveredCount int               `json:"covered_count"`
	TotalCount   int               `json:"total_count"`
}

// Uncovered returns the element ids not yet covered.
func (c *CoverageState) Uncovered() []string {
	var out []string
	for _, e := range c.Elements {
		if !e.Covered {
			out = append(out, e.ElementID)
		}
	}
	return out
}

// Element returns the coverage entry for an element id.
func (c *CoverageState) Element(id string) (ElementCoverage, bool) {
	for _, e := range c.Elements {
		if e.ElementID == id {
			return e, true
		}
	}
	return ElementCoverage{}, false
}

// SaturationMetrics is written by the saturation scorer each turn.
type SaturationMetrics struct {
	Chao1Ratio         float64 `json:"chao1_ratio"`
	NewInfoRate        float64 `json:"new_info_rate"`
	ConsecutiveLowInfo int     `json:"consecutive_low_info"`
	IsSaturated        bool    `json:"is_saturated"`
}

// CanonicalSummary mirrors the canonical graph state into GraphState for
// scorers that only need the aggregate numbers.
type CanonicalSummary struct {
	ConceptCount int     `json:"concept_count"`
	EdgeCount    int     `json:"edge_count"`
	OrphanCount  int     `json:"orphan_count"`
	MaxDepth     int     `json:"max_depth"`
	AvgSupport   float64 `json:"avg_support"`
}

// GraphState is the derived per-turn snapshot the scorers consume. Fields
// that older designs kept in an untyped properties bag are explicit here;
// Properties carries only open-ended per-session config.
type GraphState struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
	OrphanCount int            `json:"orphan_count"`

	Depth    DepthMetrics   `json:"depth"`
	Coverage *CoverageState `json:"coverage,omitempty"`

	TurnCount       int      `json:"turn_count"`
	StrategyHistory []string `json:"strategy_history"`
	RecentNodes     []*Node  `json:"recent_nodes,omitempty"`
	InterviewMode   string   `json:"interview_mode,omitempty"`
	Phase           string   `json:"phase,omitempty"`
	RepetitionCount int      `json:"repetition_count"`

	Saturation *SaturationMetrics `json:"saturation,omitempty"`
	Canonical  *CanonicalSummary  `json:"canonical,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`
}

// FocusType distinguishes what a candidate question is about.
type FocusType string

const (
	FocusDepthExploration   FocusType = "depth_exploration"
	FocusBreadthExploration FocusType = "breadth_exploration"
	FocusCoverageGap        FocusType = "coverage_gap"
	FocusClosing            FocusType = "closing"
	FocusReflection         FocusType = "reflection"
)

// Focus is the subject of a candidate question: a node, an element, or a
// process-management marker. Only the fields matching Type are set.
type Focus struct {
	Type        FocusType `json:"type"`
	NodeID      string    `json:"node_id,omitempty"`
	ElementID   string    `json:"element_id,omitempty"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
}

// TierOneOutput is one Tier-1 scorer's verdict for a candidate.
type TierOneOutput struct {
	ScorerID  string         `json:"scorer_id"`
	IsVeto    bool           `json:"is_veto"`
	Reasoning string         `json:"reasoning,omitempty"`
	Signals   map[string]any `json:"signals,omitempty"`
}

// TierTwoOutput is one Tier-2 scorer's weighted contribution.
type TierTwoOutput struct {
	ScorerID     string         `json:"scorer_id"`
	RawScore     float64        `json:"raw_score"`
	Weight       float64        `json:"weight"`
	Contribution float64        `json:"contribution"`
	Reasoning    string         `json:"reasoning,omitempty"`
	Signals      map[string]any `json:"signals,omitempty"`
}

// CandidateTrace is the persisted scoring record of one (strategy, focus)
// candidate for one turn.
type CandidateTrace struct {
	StrategyID     string          `json:"strategy_id"`
	Focus          Focus           `json:"focus"`
	FinalScore     float64         `json:"final_score"`
	BaseScore      float64         `json:"base_score"`
	TierOne        []TierOneOutput `json:"tier1"`
	TierTwo        []TierTwoOutput `json:"tier2"`
	VetoedBy       string          `json:"vetoed_by,omitempty"`
	ReasoningTrace []string        `json:"reasoning_trace,omitempty"`
	IsWinner       bool            `json:"is_winner"`
}
