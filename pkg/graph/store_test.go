package graph

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/methodology"
)

const testMethodologyYAML = `
method:
  name: means_end_chain
  version: "1.0"
ontology:
  node_types:
    - name: attribute
      description: A product characteristic
    - name: functional_consequence
      description: A direct outcome of an attribute
    - name: value
      description: A personal value
  edge_types:
    - name: leads_to
      description: Causal link
      connections:
        - from: attribute
          to: functional_consequence
        - from: functional_consequence
          to: value
    - name: revises
      description: Later statement replaces earlier one
      connections:
        - from: "*"
          to: "*"
  revision_edge: revises
`

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "means_end_chain.yaml"), []byte(testMethodologyYAML), 0o644))

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite", methodology.NewRegistry(dir))
	require.NoError(t, err)
	return store
}

func TestUtteranceTurnNumbering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	next, err := store.NextTurnNumber(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, next)

	_, err = store.SaveUtterance(ctx, "s1", 1, SpeakerSystem, "What do you think of oat milk?")
	require.NoError(t, err)
	_, err = store.SaveUtterance(ctx, "s1", 2, SpeakerUser, "I like the creamy texture.")
	require.NoError(t, err)

	next, err = store.NextTurnNumber(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, next)

	utterances, err := store.GetUtterances(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, utterances, 2)
	assert.Equal(t, SpeakerSystem, utterances[0].Speaker)
	assert.Equal(t, 1, utterances[0].TurnNumber)

	// Sessions are isolated.
	next, err = store.NextTurnNumber(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
}

func TestGetRecentUtterances(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	texts := []string{"q1", "a1", "q2", "a2", "q3"}
	for i, text := range texts {
		_, err := store.SaveUtterance(ctx, "s1", i+1, SpeakerUser, text)
		require.NoError(t, err)
	}

	recent, err := store.GetRecentUtterances(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "q2", recent[0].Text)
	assert.Equal(t, "q3", recent[2].Text)
}

func TestCreateNodeValidatesType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	node, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID:   "s1",
		Methodology: "means_end_chain",
		Label:       "creamy texture",
		NodeType:    "attribute",
		Confidence:  0.9,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
	assert.True(t, node.Active())

	_, err = store.CreateNode(ctx, CreateNodeRequest{
		SessionID:   "s1",
		Methodology: "means_end_chain",
		Label:       "bogus",
		NodeType:    "sentiment",
	})
	assert.ErrorIs(t, err, ErrInvalidNodeType)
}

func TestFindNodeByLabelAndType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID:   "s1",
		Methodology: "means_end_chain",
		Label:       "Creamy Texture",
		NodeType:    "attribute",
		Confidence:  0.9,
	})
	require.NoError(t, err)

	found, err := store.FindNodeByLabelAndType(ctx, "s1", "creamy texture", "attribute")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)

	missing, err := store.FindNodeByLabelAndType(ctx, "s1", "creamy texture", "value")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSupersedeNode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "cheap", NodeType: "attribute", Confidence: 0.8,
	})
	require.NoError(t, err)
	replacement, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "expensive", NodeType: "attribute", Confidence: 0.9,
	})
	require.NoError(t, err)

	require.NoError(t, store.SupersedeNode(ctx, old.ID, replacement.ID))

	active, err := store.GetActiveNodes(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, replacement.ID, active[0].ID)

	// The superseded node is still readable by id, with the link recorded.
	got, err := store.GetNode(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, got.SupersededBy)
	assert.False(t, got.Active())

	// Superseding twice is an error.
	assert.ErrorIs(t, store.SupersedeNode(ctx, old.ID, replacement.ID), ErrNodeNotFound)
}

func TestCreateEdgeAdmissibility(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	attr, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "creamy texture", NodeType: "attribute", Confidence: 0.9,
	})
	require.NoError(t, err)
	value, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "health", NodeType: "value", Confidence: 0.9,
	})
	require.NoError(t, err)

	// attribute -> value is not a permitted leads_to connection.
	_, err = store.CreateEdge(ctx, CreateEdgeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		SourceNodeID: attr.ID, TargetNodeID: value.ID,
		EdgeType: "leads_to", Confidence: 0.8,
	})
	assert.ErrorIs(t, err, ErrInvalidConnection)

	// The wildcard revises edge permits any pair.
	edge, err := store.CreateEdge(ctx, CreateEdgeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		SourceNodeID: value.ID, TargetNodeID: attr.ID,
		EdgeType: "revises", Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, edge.ID)
}

func TestCreateEdgeIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	attr, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "creamy texture", NodeType: "attribute", Confidence: 0.9,
	})
	require.NoError(t, err)
	fc, err := store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "easy to drink", NodeType: "functional_consequence", Confidence: 0.9,
	})
	require.NoError(t, err)

	first, err := store.CreateEdge(ctx, CreateEdgeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		SourceNodeID: attr.ID, TargetNodeID: fc.ID,
		EdgeType: "leads_to", Confidence: 0.8,
		SourceUtteranceIDs: []string{"u1"},
	})
	require.NoError(t, err)

	second, err := store.CreateEdge(ctx, CreateEdgeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		SourceNodeID: attr.ID, TargetNodeID: fc.ID,
		EdgeType: "leads_to", Confidence: 0.9,
		SourceUtteranceIDs: []string{"u2"},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.ElementsMatch(t, []string{"u1", "u2"}, second.SourceUtteranceIDs)

	edges, err := store.GetActiveEdges(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestScoringTraceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	candidates := []*CandidateTrace{
		{
			StrategyID: "deepen",
			Focus:      Focus{Type: FocusDepthExploration, NodeID: "n1", Description: "probe creamy texture"},
			FinalScore: 1.42,
			BaseScore:  1.0,
			TierTwo: []TierTwoOutput{
				{ScorerID: "coverage_gap", RawScore: 1.4, Weight: 0.20, Contribution: 0.28},
			},
			IsWinner: true,
		},
		{
			StrategyID: "broaden",
			Focus:      Focus{Type: FocusBreadthExploration, Description: "other aspects"},
			FinalScore: 0,
			VetoedBy:   "recent_redundancy",
			TierOne: []TierOneOutput{
				{ScorerID: "recent_redundancy", IsVeto: true, Reasoning: "similar to turn 4 question"},
			},
		},
	}

	require.NoError(t, store.SaveScoringTrace(ctx, "s1", 3, candidates, "deepen"))

	turn, err := store.GetScoringForTurn(ctx, "s1", 3)
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, "deepen", turn.WinnerStrategyID)
	require.Len(t, turn.Candidates, 2)
	assert.True(t, turn.Candidates[0].IsWinner)
	assert.Equal(t, "recent_redundancy", turn.Candidates[1].VetoedBy)

	missing, err := store.GetScoringForTurn(ctx, "s1", 99)
	require.NoError(t, err)
	assert.Nil(t, missing)

	history, err := store.GetWinnerHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"deepen"}, history)
}

func TestDeleteSessionCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SaveUtterance(ctx, "s1", 1, SpeakerSystem, "opening")
	require.NoError(t, err)
	_, err = store.CreateNode(ctx, CreateNodeRequest{
		SessionID: "s1", Methodology: "means_end_chain",
		Label: "creamy texture", NodeType: "attribute", Confidence: 0.9,
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveScoringTrace(ctx, "s1", 1, nil, "deepen"))

	require.NoError(t, store.DeleteSession(ctx, "s1"))

	utterances, err := store.GetUtterances(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, utterances)
	nodes, err := store.GetActiveNodes(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
	turn, err := store.GetScoringForTurn(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Nil(t, turn)
}
