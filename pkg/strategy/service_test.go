package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/methodology"
	"github.com/kadirpekel/inquest/pkg/scoring"
)

func testPhases() config.PhasesConfig {
	return config.PhasesConfig{
		Exploratory: config.PhaseConfig{NTurns: 5},
		Focused:     config.PhaseConfig{NTurns: 10},
		Closing:     config.PhaseConfig{NTurns: 5},
	}
}

func testEngine(t *testing.T) *scoring.Engine {
	t.Helper()
	engine, err := scoring.NewEngine(&config.ScoringConfig{Scorers: config.DefaultScorerConfigs()}, 4)
	require.NoError(t, err)
	return engine
}

func testService(t *testing.T, catalog []*Strategy) *Service {
	t.Helper()
	svc, err := NewService(catalog, testEngine(t), &config.ScoringConfig{AlternativesCount: 3}, testPhases())
	require.NoError(t, err)
	return svc
}

func testContext(turnCount int) *scoring.Context {
	return &scoring.Context{
		SessionID: "s1",
		State: &graph.GraphState{
			TurnCount:   turnCount,
			NodeCount:   2,
			EdgeCount:   1,
			NodesByType: map[string]int{"attribute": 1, "functional_consequence": 1},
		},
		Nodes: []*graph.Node{
			{ID: "n1", Label: "creamy texture", NodeType: "attribute", Confidence: 0.9},
			{ID: "n2", Label: "satisfying", NodeType: "functional_consequence", Confidence: 0.85},
		},
		Edges: []*graph.Edge{
			{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n2", EdgeType: "leads_to"},
		},
		Conversation: []*graph.Utterance{
			{TurnNumber: 1, Speaker: graph.SpeakerSystem, Text: "What do you think of oat milk?"},
			{TurnNumber: 2, Speaker: graph.SpeakerUser, Text: "I love the creamy texture because it feels satisfying"},
		},
		NewNodesThisTurn: 2,
	}
}

func TestPhaseForTurn(t *testing.T) {
	phases := testPhases()
	assert.Equal(t, PhaseExploratory, PhaseForTurn(0, phases))
	assert.Equal(t, PhaseExploratory, PhaseForTurn(4, phases))
	assert.Equal(t, PhaseFocused, PhaseForTurn(5, phases))
	assert.Equal(t, PhaseFocused, PhaseForTurn(14, phases))
	assert.Equal(t, PhaseClosing, PhaseForTurn(15, phases))
}

func TestEnumerateExploratory(t *testing.T) {
	svc := testService(t, nil)
	ctx := testContext(2)
	ctx.Concept = &methodology.Concept{
		ID: "oat-milk",
		Elements: []methodology.Element{
			{ID: "taste", Label: "taste"},
			{ID: "price", Label: "price"},
		},
	}
	ctx.State.Coverage = &graph.CoverageState{
		Elements: []graph.ElementCoverage{
			{ElementID: "taste", Label: "taste", Covered: true, DepthScore: 0.6},
			{ElementID: "price", Label: "price"},
		},
		CoveredCount: 1,
		TotalCount:   2,
	}

	candidates := svc.enumerate(ctx, PhaseExploratory)
	byStrategy := map[string]int{}
	for _, c := range candidates {
		byStrategy[c.StrategyID]++
	}

	assert.Equal(t, 1, byStrategy["deepen"])
	assert.Equal(t, 1, byStrategy["broaden"])
	assert.Equal(t, 1, byStrategy["ease"])
	assert.Equal(t, 1, byStrategy["cover_element"], "one focus per uncovered element")
	assert.Zero(t, byStrategy["laddering"], "laddering is not exploratory")
	assert.Zero(t, byStrategy["closing"], "turn count below min_turns")
	assert.Zero(t, byStrategy["reflection"], "emergency-only")

	// The deepen focus targets the most recent node.
	for _, c := range candidates {
		if c.StrategyID == "deepen" {
			assert.Equal(t, "n2", c.Focus.NodeID)
			assert.Contains(t, c.Focus.Description, "satisfying")
		}
	}
}

func TestEnumerateDeepenWithoutNodes(t *testing.T) {
	svc := testService(t, nil)
	ctx := testContext(0)
	ctx.Nodes = nil
	ctx.State.NodeCount = 0

	candidates := svc.enumerate(ctx, PhaseExploratory)
	var deepen *scoring.Candidate
	for _, c := range candidates {
		if c.StrategyID == "deepen" {
			deepen = c
		}
	}
	require.NotNil(t, deepen)
	assert.Empty(t, deepen.Focus.NodeID)
	assert.Equal(t, 0.5, deepen.Focus.Confidence)
}

func TestEnumerateFocusedGating(t *testing.T) {
	svc := testService(t, nil)

	// Two nodes: laddering and contrast fire, synthesis needs three.
	ctx := testContext(7)
	candidates := svc.enumerate(ctx, PhaseFocused)
	byStrategy := map[string]int{}
	for _, c := range candidates {
		byStrategy[c.StrategyID]++
	}
	assert.Equal(t, 1, byStrategy["laddering"])
	assert.Equal(t, 1, byStrategy["contrast"])
	assert.Zero(t, byStrategy["synthesis"])
	assert.Zero(t, byStrategy["bridge"], "no orphans to bridge")
	assert.Zero(t, byStrategy["ease"], "ease is exploratory-only")

	ctx.State.NodeCount = 4
	ctx.State.OrphanCount = 2
	candidates = svc.enumerate(ctx, PhaseFocused)
	byStrategy = map[string]int{}
	for _, c := range candidates {
		byStrategy[c.StrategyID]++
	}
	assert.Equal(t, 1, byStrategy["synthesis"])
	assert.Equal(t, 1, byStrategy["bridge"])
}

func TestEnumerateClosingEligibility(t *testing.T) {
	svc := testService(t, nil)

	ctx := testContext(7)
	var closing int
	for _, c := range svc.enumerate(ctx, PhaseFocused) {
		if c.StrategyID == "closing" {
			closing++
		}
	}
	assert.Equal(t, 1, closing, "closing is eligible in any phase once min_turns is reached")
}

func TestSelectAppendsHistoryAndAlternatives(t *testing.T) {
	svc := testService(t, nil)
	ctx := testContext(2)

	selection, err := svc.Select(ctx)
	require.NoError(t, err)
	require.NotNil(t, selection.Winner)
	assert.True(t, selection.Winner.IsWinner)
	assert.False(t, selection.Fallback)
	assert.Equal(t, PhaseExploratory, selection.Phase)
	assert.Equal(t, PhaseExploratory, ctx.State.Phase)

	require.NotEmpty(t, ctx.State.StrategyHistory)
	assert.Equal(t, selection.Winner.StrategyID, ctx.State.StrategyHistory[len(ctx.State.StrategyHistory)-1])

	assert.LessOrEqual(t, len(selection.Alternatives), 3)
	for _, alt := range selection.Alternatives {
		assert.Empty(t, alt.VetoedBy)
		assert.LessOrEqual(t, alt.FinalScore, selection.Winner.FinalScore)
	}
	assert.Equal(t, selection.Strategy.ID, selection.Winner.StrategyID)
}

func TestSelectFallbackReflection(t *testing.T) {
	// Only veto-prone strategies enabled: an exhaustion streak sweeps the
	// board and the emergency ladder lands on reflection.
	catalog := []*Strategy{}
	for _, st := range DefaultCatalog() {
		switch st.ID {
		case "deepen", "broaden", "reflection", "closing":
			catalog = append(catalog, st)
		}
	}
	svc := testService(t, catalog)

	ctx := testContext(3)
	ctx.Conversation = []*graph.Utterance{
		{TurnNumber: 1, Speaker: graph.SpeakerSystem, Text: "What else?"},
		{TurnNumber: 2, Speaker: graph.SpeakerUser, Text: "nothing"},
		{TurnNumber: 3, Speaker: graph.SpeakerSystem, Text: "Anything more?"},
		{TurnNumber: 4, Speaker: graph.SpeakerUser, Text: "nothing else"},
		{TurnNumber: 5, Speaker: graph.SpeakerSystem, Text: "Any other aspects?"},
		{TurnNumber: 6, Speaker: graph.SpeakerUser, Text: "nothing really"},
	}

	selection, err := svc.Select(ctx)
	require.NoError(t, err)
	assert.True(t, selection.Fallback)
	assert.Equal(t, "reflection", selection.Winner.StrategyID)
	assert.Equal(t, "reflection", ctx.State.StrategyHistory[len(ctx.State.StrategyHistory)-1])
}

func TestFallbackLadderPrefersClosingWhenEligible(t *testing.T) {
	svc := testService(t, nil)

	eligible := testContext(8)
	selection, err := svc.fallback(eligible, PhaseFocused, nil)
	require.NoError(t, err)
	assert.True(t, selection.Fallback)
	assert.Equal(t, "closing", selection.Winner.StrategyID)

	early := testContext(3)
	selection, err = svc.fallback(early, PhaseExploratory, nil)
	require.NoError(t, err)
	assert.Equal(t, "reflection", selection.Winner.StrategyID)
}

func TestNewServiceRejectsDuplicateIDs(t *testing.T) {
	catalog := []*Strategy{
		{ID: "deepen", Enabled: true},
		{ID: "deepen", Enabled: true},
	}
	_, err := NewService(catalog, testEngine(t), nil, testPhases())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}
