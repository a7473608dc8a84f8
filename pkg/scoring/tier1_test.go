package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/methodology"
	"github.com/kadirpekel/inquest/pkg/signals"
)

func userTurn(n int, text string) *graph.Utterance {
	return &graph.Utterance{TurnNumber: n, Speaker: graph.SpeakerUser, Text: text}
}

func systemTurn(n int, text string) *graph.Utterance {
	return &graph.Utterance{TurnNumber: n, Speaker: graph.SpeakerSystem, Text: text}
}

func TestKnowledgeCeilingScorer(t *testing.T) {
	scorer := KnowledgeCeilingScorer{}
	ctx := &Context{
		Conversation: []*graph.Utterance{
			systemTurn(1, "How is oat milk produced?"),
			userTurn(2, "I don't know anything about the production process honestly"),
		},
	}

	vetoed, err := scorer.Evaluate(ctx, &Candidate{
		StrategyID: "deepen",
		Focus:      graph.Focus{Description: "Ask about the production process"},
	})
	require.NoError(t, err)
	assert.True(t, vetoed.IsVeto)

	passed, err := scorer.Evaluate(ctx, &Candidate{
		StrategyID: "deepen",
		Focus:      graph.Focus{Description: "Ask about breakfast habits"},
	})
	require.NoError(t, err)
	assert.False(t, passed.IsVeto)
}

func TestElementExhaustedScorer(t *testing.T) {
	scorer := NewElementExhaustedScorer(nil)
	concept := &methodology.Concept{
		ID:       "oat-milk",
		Elements: []methodology.Element{{ID: "taste", Label: "taste"}},
	}
	ctx := &Context{
		Concept: concept,
		Conversation: []*graph.Utterance{
			systemTurn(1, "Tell me about the taste"),
			userTurn(2, "The taste is mild, I like the taste"),
			systemTurn(3, "More about the taste?"),
			userTurn(4, "The taste reminds me of oatmeal, a taste of childhood"),
		},
		Nodes: []*graph.Node{
			{ID: "n1", Label: "mild taste", NodeType: "attribute"},
			{ID: "n2", Label: "taste of childhood", NodeType: "attribute"},
		},
		Edges: []*graph.Edge{
			{ID: "e1", SourceNodeID: "n1", TargetNodeID: "n2"},
		},
	}

	out, err := scorer.Evaluate(ctx, &Candidate{
		StrategyID: "cover_element",
		Focus:      graph.Focus{ElementID: "taste"},
	})
	require.NoError(t, err)
	assert.True(t, out.IsVeto, "repeated mentions and 2 related connected nodes")

	// No element focus: never vetoes.
	out, err = scorer.Evaluate(ctx, &Candidate{StrategyID: "deepen", Focus: graph.Focus{NodeID: "n1"}})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)
}

func TestRecentRedundancyScorer(t *testing.T) {
	scorer := NewRecentRedundancyScorer(nil)
	question := "Why is feeling satisfying important to you?"
	ctx := &Context{
		Conversation: []*graph.Utterance{
			systemTurn(1, question),
			userTurn(2, "Because it keeps me going"),
			systemTurn(3, question),
			userTurn(4, "I already said, it keeps me going"),
		},
	}

	out, err := scorer.Evaluate(ctx, &Candidate{
		StrategyID: "deepen",
		Focus:      graph.Focus{Description: question},
	})
	require.NoError(t, err)
	assert.True(t, out.IsVeto)
	assert.GreaterOrEqual(t, out.Signals["similarity"].(float64), 0.85)

	out, err = scorer.Evaluate(ctx, &Candidate{
		StrategyID: "deepen",
		Focus:      graph.Focus{Description: "Tell me about a morning when oat milk disappointed you"},
	})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)
}

func TestClarificationVetoScorer(t *testing.T) {
	scorer := NewClarificationVetoScorer(nil)

	signalCtx := &Context{
		Signals: &signals.Set{
			Uncertainty: &signals.UncertaintySignal{Type: "conceptual_clarity", Severity: 0.6},
		},
	}
	out, err := scorer.Evaluate(signalCtx, &Candidate{StrategyID: "deepen"})
	require.NoError(t, err)
	assert.True(t, out.IsVeto)

	// Process-management strategies are exempt.
	out, err = scorer.Evaluate(signalCtx, &Candidate{StrategyID: "reflection"})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)

	// Fallback branch scans the last user utterance.
	fallbackCtx := &Context{
		Conversation: []*graph.Utterance{
			userTurn(2, "Sorry, what do you mean by functional benefit?"),
		},
	}
	out, err = scorer.Evaluate(fallbackCtx, &Candidate{StrategyID: "broaden"})
	require.NoError(t, err)
	assert.True(t, out.IsVeto)

	// Low severity passes.
	out, err = scorer.Evaluate(&Context{
		Signals: &signals.Set{Uncertainty: &signals.UncertaintySignal{Type: "conceptual_clarity", Severity: 0.2}},
	}, &Candidate{StrategyID: "deepen"})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)
}

func TestConsecutiveExhaustionScorer(t *testing.T) {
	scorer := NewConsecutiveExhaustionScorer(nil)
	ctx := &Context{
		Conversation: []*graph.Utterance{
			systemTurn(1, "What else?"),
			userTurn(2, "nothing"),
			systemTurn(3, "Anything more?"),
			userTurn(4, "nothing else"),
			systemTurn(5, "Any other aspects?"),
			userTurn(6, "nothing really"),
		},
	}

	for _, strategyID := range []string{"deepen", "broaden", "cover_element"} {
		out, err := scorer.Evaluate(ctx, &Candidate{StrategyID: strategyID})
		require.NoError(t, err)
		assert.True(t, out.IsVeto, "strategy %s must be vetoed", strategyID)
	}
	for _, strategyID := range []string{"synthesis", "reflection", "closing", "ease", "bridge", "contrast", "laddering"} {
		out, err := scorer.Evaluate(ctx, &Candidate{StrategyID: strategyID})
		require.NoError(t, err)
		assert.False(t, out.IsVeto, "strategy %s must survive", strategyID)
	}

	// A substantive answer breaks the streak.
	ctx.Conversation = append(ctx.Conversation,
		systemTurn(7, "Let's change angle"),
		userTurn(8, "Actually the packaging matters a lot to me"))
	out, err := scorer.Evaluate(ctx, &Candidate{StrategyID: "deepen"})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)
}

func TestQuestionRepetitionScorer(t *testing.T) {
	scorer := NewQuestionRepetitionScorer(nil)

	highCount := &Context{State: &graph.GraphState{RepetitionCount: 2}}
	out, err := scorer.Evaluate(highCount, &Candidate{
		StrategyID: "broaden",
		Focus:      graph.Focus{Description: "What else do you like about oat milk?"},
	})
	require.NoError(t, err)
	assert.True(t, out.IsVeto)

	// Non-matching text never vetoes regardless of the counter.
	out, err = scorer.Evaluate(highCount, &Candidate{
		StrategyID: "broaden",
		Focus:      graph.Focus{Description: "How does the texture compare to dairy?"},
	})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)

	// Low counter passes.
	out, err = scorer.Evaluate(&Context{State: &graph.GraphState{RepetitionCount: 0}}, &Candidate{
		StrategyID: "broaden",
		Focus:      graph.Focus{Description: "What else do you like?"},
	})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)

	// Depth strategies are outside the veto set.
	out, err = scorer.Evaluate(highCount, &Candidate{
		StrategyID: "deepen",
		Focus:      graph.Focus{Description: "What else about that feeling?"},
	})
	require.NoError(t, err)
	assert.False(t, out.IsVeto)
}

func TestMatchesRepetitionPattern(t *testing.T) {
	assert.True(t, MatchesRepetitionPattern("What else comes to mind?"))
	assert.True(t, MatchesRepetitionPattern("Are there any other brands you use?"))
	assert.False(t, MatchesRepetitionPattern("Why does that matter to you?"))
}
