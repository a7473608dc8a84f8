// Package scoring implements the two-tier candidate scoring engine: ordered
// Tier-1 veto scorers followed by weighted Tier-2 scorers whose weights must
// sum to one.
package scoring

import (
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/methodology"
	"github.com/kadirpekel/inquest/pkg/signals"
)

// Strategy type categories. Candidates carry one; several scorers branch on
// it rather than on individual strategy ids.
const (
	CategoryDepth      = "depth"
	CategoryBreadth    = "breadth"
	CategoryCoverage   = "coverage"
	CategoryClosing    = "closing"
	CategoryReflection = "reflection"
	CategoryTransition = "transition"
	CategoryContrast   = "contrast"
	CategoryPeripheral = "peripheral"
)

// Candidate is one (strategy, focus) pair up for scoring.
type Candidate struct {
	StrategyID   string
	TypeCategory string
	PriorityBase float64
	Focus        graph.Focus
}

// Context is everything scorers may consult for one turn. State is shared
// and mutable: the saturation scorer writes State.Saturation as a side
// effect of scoring.
type Context struct {
	SessionID string

	State *graph.GraphState

	// Nodes and Edges are the full active surface graph.
	Nodes []*graph.Node
	Edges []*graph.Edge

	// Conversation is the recent utterance window, oldest first.
	Conversation []*graph.Utterance

	Signals *signals.Set

	Concept     *methodology.Concept
	Methodology *methodology.Schema

	Phase string

	// NewNodesThisTurn feeds the saturation estimator's new-information
	// tracking, together with the previous turn's consecutive-low-info
	// counter.
	NewNodesThisTurn       int
	PrevConsecutiveLowInfo int
}

// LastUserUtterances returns up to k most recent user utterances, most
// recent first.
func (c *Context) LastUserUtterances(k int) []*graph.Utterance {
	var out []*graph.Utterance
	for i := len(c.Conversation) - 1; i >= 0 && len(out) < k; i-- {
		if c.Conversation[i].Speaker == graph.SpeakerUser {
			out = append(out, c.Conversation[i])
		}
	}
	return out
}

// LastSystemQuestions returns up to k most recent system utterances, most
// recent first.
func (c *Context) LastSystemQuestions(k int) []string {
	var out []string
	for i := len(c.Conversation) - 1; i >= 0 && len(out) < k; i-- {
		if c.Conversation[i].Speaker == graph.SpeakerSystem {
			out = append(out, c.Conversation[i].Text)
		}
	}
	return out
}

// Element resolves an element id against the session concept.
func (c *Context) Element(id string) *methodology.Element {
	if c.Concept == nil {
		return nil
	}
	for i := range c.Concept.Elements {
		if c.Concept.Elements[i].ID == id {
			return &c.Concept.Elements[i]
		}
	}
	return nil
}

// Node resolves a node id against the active graph.
func (c *Context) Node(id string) *graph.Node {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// TierOneScorer votes veto or pass for a candidate.
type TierOneScorer interface {
	ID() string
	Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error)
}

// TierTwoScorer contributes weight times a raw score in [0, 2], where 1.0
// is neutral.
type TierTwoScorer interface {
	ID() string
	Weight() float64
	Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error)
}

// DepthMetric abstracts how "deep" the current graph is, in [0, 1]. The
// proxy implementation estimates from the edge/node ratio; the chain
// implementation reads the BFS longest-chain metrics.
type DepthMetric interface {
	Name() string
	Depth(state *graph.GraphState) float64
}

// proxyDepthMetric is the edges-per-node estimate. It is known to be crude
// but needs no traversal.
type proxyDepthMetric struct {
	target int
}

func (m proxyDepthMetric) Name() string { return "proxy" }

func (m proxyDepthMetric) Depth(state *graph.GraphState) float64 {
	if state == nil || state.NodeCount == 0 {
		return 0
	}
	proxy := float64(state.EdgeCount) / float64(state.NodeCount) * 2
	return clampFloat(proxy/float64(m.target), 0, 1)
}

// chainDepthMetric normalizes the longest observed chain by the target.
type chainDepthMetric struct {
	target int
}

func (m chainDepthMetric) Name() string { return "chain" }

func (m chainDepthMetric) Depth(state *graph.GraphState) float64 {
	if state == nil {
		return 0
	}
	return clampFloat(float64(state.Depth.MaxDepth)/float64(m.target), 0, 1)
}

// NewDepthMetric returns the configured depth implementation; unknown names
// fall back to the proxy.
func NewDepthMetric(name string, target int) DepthMetric {
	if target <= 0 {
		target = 4
	}
	if name == "chain" {
		return chainDepthMetric{target: target}
	}
	return proxyDepthMetric{target: target}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
