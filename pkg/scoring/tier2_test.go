package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/methodology"
)

func coverageContext(elements []graph.ElementCoverage) *Context {
	covered := 0
	for _, e := range elements {
		if e.Covered {
			covered++
		}
	}
	concept := &methodology.Concept{ID: "oat-milk"}
	for _, e := range elements {
		concept.Elements = append(concept.Elements, methodology.Element{ID: e.ElementID, Label: e.Label})
	}
	return &Context{
		Concept: concept,
		State: &graph.GraphState{
			Coverage: &graph.CoverageState{
				Elements:     elements,
				CoveredCount: covered,
				TotalCount:   len(elements),
			},
		},
	}
}

func TestCoverageGapScorer(t *testing.T) {
	scorer := NewCoverageGapScorer(0.2)
	ctx := coverageContext([]graph.ElementCoverage{
		{ElementID: "taste", Label: "taste", Covered: true, DepthScore: 0.75},
		{ElementID: "price", Label: "price", Covered: false},
		{ElementID: "texture", Label: "texture", Covered: true, DepthScore: 0.25, Shallow: true},
	})

	// Uncovered element in focus counts double.
	out, err := scorer.Score(ctx, &Candidate{
		StrategyID: "cover_element", TypeCategory: CategoryCoverage,
		Focus: graph.Focus{ElementID: "price"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.3, out.RawScore, 0.0001)
	assert.InDelta(t, 0.2*1.3, out.Contribution, 0.0001)

	// Shallow element counts once.
	out, err = scorer.Score(ctx, &Candidate{
		StrategyID: "cover_element", TypeCategory: CategoryCoverage,
		Focus: graph.Focus{ElementID: "texture"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.15, out.RawScore, 0.0001)

	// No element focus: the aggregate gap count drives the score.
	out, err = scorer.Score(ctx, &Candidate{StrategyID: "broaden", TypeCategory: CategoryBreadth})
	require.NoError(t, err)
	assert.InDelta(t, 1.45, out.RawScore, 0.0001, "2 uncovered units + 1 shallow unit")

	// Fully covered concept, non-coverage strategy: slight discount.
	full := coverageContext([]graph.ElementCoverage{
		{ElementID: "taste", Label: "taste", Covered: true, DepthScore: 1.0},
	})
	out, err = scorer.Score(full, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 0.85, out.RawScore, 0.0001)
}

func TestAmbiguityScorer(t *testing.T) {
	scorer := NewAmbiguityScorer(0.15)

	hedged := &Context{Conversation: []*graph.Utterance{
		userTurn(2, "Maybe it's the texture, I guess, sort of creamy?"),
	}}
	out, err := scorer.Score(hedged, &Candidate{StrategyID: "deepen"})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)

	// A single hedge lands in the medium band.
	medium := &Context{Conversation: []*graph.Utterance{
		userTurn(2, "I think it's the creamy texture"),
	}}
	out, err = scorer.Score(medium, &Candidate{StrategyID: "deepen"})
	require.NoError(t, err)
	assert.InDelta(t, 1.2, out.RawScore, 0.0001)

	// Low-confidence focus node triggers the top band without any hedging.
	lowConf := &Context{
		Conversation: []*graph.Utterance{userTurn(2, "It tastes great")},
		Nodes:        []*graph.Node{{ID: "n1", Label: "vague benefit", Confidence: 0.4}},
	}
	out, err = scorer.Score(lowConf, &Candidate{StrategyID: "deepen", Focus: graph.Focus{NodeID: "n1"}})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)

	clear := &Context{
		Conversation: []*graph.Utterance{userTurn(2, "The creamy texture makes my coffee better")},
		Nodes:        []*graph.Node{{ID: "n1", Label: "creamy texture", Confidence: 0.95}},
	}
	out, err = scorer.Score(clear, &Candidate{StrategyID: "deepen", Focus: graph.Focus{NodeID: "n1"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, out.RawScore, 0.0001)
}

func TestDepthBreadthBalanceScorer(t *testing.T) {
	chain := NewDepthMetric("chain", 4)
	scorer := NewDepthBreadthBalanceScorer(0.2, chain)

	// Deep chain, nothing covered: breadth lags.
	breadthLags := coverageContext([]graph.ElementCoverage{
		{ElementID: "taste", Label: "taste"},
		{ElementID: "price", Label: "price"},
	})
	breadthLags.State.Depth = graph.DepthMetrics{MaxDepth: 4}

	out, err := scorer.Score(breadthLags, &Candidate{StrategyID: "broaden", TypeCategory: CategoryBreadth})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)

	out, err = scorer.Score(breadthLags, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, out.RawScore, 0.0001)

	// Everything covered but only a two-node chain: depth lags.
	depthLags := coverageContext([]graph.ElementCoverage{
		{ElementID: "taste", Label: "taste", Covered: true, DepthScore: 1.0},
		{ElementID: "price", Label: "price", Covered: true, DepthScore: 1.0},
	})
	depthLags.State.Depth = graph.DepthMetrics{MaxDepth: 2}

	out, err = scorer.Score(depthLags, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)

	out, err = scorer.Score(depthLags, &Candidate{StrategyID: "cover_element", TypeCategory: CategoryCoverage})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, out.RawScore, 0.0001)

	// Strategies outside depth/breadth steering stay neutral.
	out, err = scorer.Score(depthLags, &Candidate{StrategyID: "reflection", TypeCategory: CategoryReflection})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)
}

func TestDepthBreadthBalanceProxyMetric(t *testing.T) {
	proxy := NewDepthMetric("proxy", 4)
	scorer := NewDepthBreadthBalanceScorer(0.2, proxy)

	// 4 edges over 4 nodes: proxy depth (1.0 * 2) / 4 = 0.5. With breadth
	// 0.5 the dimensions are balanced.
	ctx := coverageContext([]graph.ElementCoverage{
		{ElementID: "taste", Label: "taste", Covered: true, DepthScore: 1.0},
		{ElementID: "price", Label: "price"},
	})
	ctx.State.NodeCount = 4
	ctx.State.EdgeCount = 4

	out, err := scorer.Score(ctx, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.1, out.RawScore, 0.0001)
	assert.Equal(t, "proxy", out.Signals["depth_metric"])
}

func TestEngagementScorer(t *testing.T) {
	scorer := NewEngagementScorer(0.1, nil)

	flagging := &Context{Conversation: []*graph.Utterance{
		userTurn(2, "yes"),
		userTurn(4, "not really"),
		userTurn(6, "maybe"),
	}}
	out, err := scorer.Score(flagging, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, out.RawScore, 0.0001)

	out, err = scorer.Score(flagging, &Candidate{StrategyID: "ease", TypeCategory: CategoryTransition})
	require.NoError(t, err)
	assert.InDelta(t, 1.2, out.RawScore, 0.0001)

	energized := &Context{Conversation: []*graph.Utterance{
		userTurn(2, "I really love it because the creamy texture makes every single cup of coffee feel like an absolutely proper cafe drink at home!"),
	}}
	out, err = scorer.Score(energized, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.1, out.RawScore, 0.0001)

	neutral := &Context{Conversation: []*graph.Utterance{
		userTurn(2, "It works fine for my morning porridge and the occasional latte"),
	}}
	out, err = scorer.Score(neutral, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)
}

func TestStrategyDiversityScorer(t *testing.T) {
	scorer := NewStrategyDiversityScorer(0.1)

	run := func(history []string, strategyID string) float64 {
		out, err := scorer.Score(&Context{State: &graph.GraphState{StrategyHistory: history}},
			&Candidate{StrategyID: strategyID})
		require.NoError(t, err)
		return out.RawScore
	}

	assert.InDelta(t, 1.0, run(nil, "deepen"), 0.0001)
	assert.InDelta(t, 0.8, run([]string{"deepen", "broaden", "deepen"}, "deepen"), 0.0001)
	assert.InDelta(t, 0.6, run([]string{"deepen", "deepen", "broaden", "deepen"}, "deepen"), 0.0001)
	// Only the last five entries count.
	assert.InDelta(t, 0.8, run([]string{"deepen", "deepen", "broaden", "ease", "deepen", "reflection", "deepen"}, "deepen"), 0.0001)
}

func TestNoveltyScorer(t *testing.T) {
	scorer := NewNoveltyScorer(0.1)
	ctx := &Context{
		Nodes: []*graph.Node{
			{ID: "n1", Label: "price"},
			{ID: "n2", Label: "texture"},
		},
		Conversation: []*graph.Utterance{
			systemTurn(1, "Tell me about the texture"),
			userTurn(2, "The texture is creamy, I love that texture"),
			systemTurn(3, "What about the texture in coffee?"),
			userTurn(4, "Great there too"),
		},
	}

	fresh, err := scorer.Score(ctx, &Candidate{StrategyID: "deepen", Focus: graph.Focus{NodeID: "n1"}})
	require.NoError(t, err)
	assert.InDelta(t, 1.2, fresh.RawScore, 0.0001)

	stale, err := scorer.Score(ctx, &Candidate{StrategyID: "deepen", Focus: graph.Focus{NodeID: "n2"}})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, stale.RawScore, 0.0001)
}

func TestSaturationScorerChao1(t *testing.T) {
	scorer := NewSaturationScorer(0.15, nil)

	// Species are node types. One singleton type among nine doubleton types:
	// chao1 barely exceeds the observed count, so the ratio is near one and
	// the space is saturated.
	saturated := &Context{State: &graph.GraphState{}, NewNodesThisTurn: 1}
	for i := 0; i < 9; i++ {
		kind := fmt.Sprintf("type_%d", i)
		saturated.Nodes = append(saturated.Nodes,
			&graph.Node{NodeType: kind}, &graph.Node{NodeType: kind})
	}
	saturated.Nodes = append(saturated.Nodes, &graph.Node{NodeType: "lone_type"})

	out, err := scorer.Score(saturated, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, out.RawScore, 0.0001)
	require.NotNil(t, saturated.State.Saturation)
	assert.True(t, saturated.State.Saturation.IsSaturated)
	assert.Greater(t, saturated.State.Saturation.Chao1Ratio, 0.90)

	out, err = scorer.Score(saturated, &Candidate{StrategyID: "broaden", TypeCategory: CategoryBreadth})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)

	// All singleton types, no doubletons: the bias-corrected estimator
	// projects far more unseen species and the ratio stays low.
	unsaturated := &Context{
		State:            &graph.GraphState{},
		NewNodesThisTurn: 2,
		Nodes: []*graph.Node{
			{NodeType: "attribute"},
			{NodeType: "functional_consequence"},
			{NodeType: "value"},
		},
	}
	out, err = scorer.Score(unsaturated, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)
	assert.False(t, unsaturated.State.Saturation.IsSaturated)
	assert.InDelta(t, 0.5, unsaturated.State.Saturation.Chao1Ratio, 0.0001)
	assert.Greater(t, unsaturated.State.Saturation.NewInfoRate, 0.0)

	// Mixed histogram {attribute: 1, value: 1, functional_consequence: 2}:
	// S_obs=3, f1=2, f2=1, chao1 = 3 + 4/2 = 5, ratio 0.6. Per-node counting
	// would report a different ratio here.
	mixed := &Context{
		State:            &graph.GraphState{},
		NewNodesThisTurn: 1,
		Nodes: []*graph.Node{
			{NodeType: "attribute"},
			{NodeType: "value"},
			{NodeType: "functional_consequence"},
			{NodeType: "functional_consequence"},
		},
	}
	_, err = scorer.Score(mixed, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, mixed.State.Saturation.Chao1Ratio, 0.0001)
}

func TestSaturationScorerConsecutiveLowInfo(t *testing.T) {
	scorer := NewSaturationScorer(0.15, nil)

	ctx := &Context{
		State:                  &graph.GraphState{},
		NewNodesThisTurn:       0,
		PrevConsecutiveLowInfo: 1,
		Nodes: []*graph.Node{
			{NodeType: "attribute"},
			{NodeType: "value"},
		},
	}

	// Two turns without new nodes saturates regardless of the Chao1 ratio.
	out, err := scorer.Score(ctx, &Candidate{StrategyID: "cover_element", TypeCategory: CategoryCoverage})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)
	assert.Equal(t, 2, ctx.State.Saturation.ConsecutiveLowInfo)
	assert.True(t, ctx.State.Saturation.IsSaturated)
}

func TestClusterSaturationScorer(t *testing.T) {
	scorer := NewClusterSaturationScorer(0.1)

	saturated := &Context{State: &graph.GraphState{
		Saturation: &graph.SaturationMetrics{IsSaturated: true},
	}}
	out, err := scorer.Score(saturated, &Candidate{StrategyID: "synthesis"})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, out.RawScore, 0.0001)

	out, err = scorer.Score(saturated, &Candidate{StrategyID: "deepen"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)

	out, err = scorer.Score(&Context{State: &graph.GraphState{}}, &Candidate{StrategyID: "synthesis"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)
}

func TestContrastOpportunityScorer(t *testing.T) {
	scorer := NewContrastOpportunityScorer(0.1)

	dense := &Context{State: &graph.GraphState{NodeCount: 5, EdgeCount: 6}}
	out, err := scorer.Score(dense, &Candidate{StrategyID: "contrast", TypeCategory: CategoryContrast})
	require.NoError(t, err)
	assert.InDelta(t, 1.4, out.RawScore, 0.0001)

	sparse := &Context{State: &graph.GraphState{NodeCount: 5, EdgeCount: 2}}
	out, err = scorer.Score(sparse, &Candidate{StrategyID: "contrast", TypeCategory: CategoryContrast})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)

	tiny := &Context{State: &graph.GraphState{NodeCount: 3, EdgeCount: 6}}
	out, err = scorer.Score(tiny, &Candidate{StrategyID: "contrast", TypeCategory: CategoryContrast})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)

	out, err = scorer.Score(dense, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)
}

func TestPeripheralReadinessScorer(t *testing.T) {
	scorer := NewPeripheralReadinessScorer(0.1, nil)

	ready := &Context{State: &graph.GraphState{OrphanCount: 4}}
	out, err := scorer.Score(ready, &Candidate{StrategyID: "bridge", TypeCategory: CategoryPeripheral})
	require.NoError(t, err)
	assert.InDelta(t, 1.3, out.RawScore, 0.0001)

	few := &Context{State: &graph.GraphState{OrphanCount: 1}}
	out, err = scorer.Score(few, &Candidate{StrategyID: "bridge", TypeCategory: CategoryPeripheral})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)

	out, err = scorer.Score(ready, &Candidate{StrategyID: "deepen", TypeCategory: CategoryDepth})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out.RawScore, 0.0001)
}
