package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/llms"
	"github.com/kadirpekel/inquest/pkg/methodology"
)

const testMethodologyYAML = `
method:
  name: means_end_chain
  goal: Uncover attribute-consequence-value chains
ontology:
  node_types:
    - name: attribute
      description: A product characteristic
      examples: ["creamy texture", "price"]
    - name: functional_consequence
      description: A direct outcome
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
      description: Replaces an earlier statement
      connections:
        - from: "*"
          to: "*"
  revision_edge: revises
extraction:
  naming_convention: Short noun phrases in the respondent's words
`

type mockLLM struct {
	response string
	err      error
	lastReq  llms.CompletionRequest
}

func (m *mockLLM) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &llms.CompletionResponse{Content: m.response, Model: "mock"}, nil
}

func (m *mockLLM) ModelName() string { return "mock" }
func (m *mockLLM) Close() error      { return nil }

func newTestService(t *testing.T, llm *mockLLM) *Service {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "means_end_chain.yaml"), []byte(testMethodologyYAML), 0o644))
	return NewService(llm, methodology.NewRegistry(dir), Config{})
}

func TestExtractFiltersInvalidTypes(t *testing.T) {
	llm := &mockLLM{response: `{
	  "concepts": [
	    {"text": "creamy texture", "node_type": "attribute", "confidence": 0.9},
	    {"text": "satisfying", "node_type": "functional_consequence", "confidence": 0.8},
	    {"text": "happy", "node_type": "emotion", "confidence": 0.9}
	  ],
	  "relationships": [
	    {"source_text": "creamy texture", "target_text": "satisfying", "relationship_type": "leads_to", "confidence": 0.85},
	    {"source_text": "satisfying", "target_text": "creamy texture", "relationship_type": "leads_to", "confidence": 0.5},
	    {"source_text": "creamy texture", "target_text": "happy", "relationship_type": "leads_to", "confidence": 0.9}
	  ],
	  "discourse_markers": ["because"]
	}`}
	svc := newTestService(t, llm)

	result, err := svc.Extract(context.Background(), "means_end_chain",
		"What do you like about oat milk?", "I love the creamy texture because it's really satisfying")
	require.NoError(t, err)
	require.True(t, result.IsExtractable)

	// The emotion concept is dropped, taking its relationship with it; the
	// reversed leads_to is inadmissible.
	require.Len(t, result.Concepts, 2)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "creamy texture", result.Relationships[0].SourceText)
	assert.Equal(t, "satisfying", result.Relationships[0].TargetText)
	assert.Equal(t, []string{"because"}, result.DiscourseMarkers)
}

func TestExtractSkipsShortUtterances(t *testing.T) {
	llm := &mockLLM{response: `{"concepts": [], "relationships": []}`}
	svc := newTestService(t, llm)

	for _, text := range []string{"no", "ok", "  hm  "} {
		result, err := svc.Extract(context.Background(), "means_end_chain", "", text)
		require.NoError(t, err)
		assert.False(t, result.IsExtractable, "short utterance %q must be skipped", text)
		assert.Empty(t, result.Concepts)
	}
	assert.Empty(t, llm.lastReq.Prompt, "no LLM call for skipped utterances")
}

func TestExtractDegradesOnLLMFailure(t *testing.T) {
	llm := &mockLLM{err: fmt.Errorf("connection refused")}
	svc := newTestService(t, llm)

	result, err := svc.Extract(context.Background(), "means_end_chain", "",
		"I love the creamy texture because it's really satisfying")
	require.NoError(t, err, "extraction failure must not fail the turn")
	assert.False(t, result.IsExtractable)
	assert.Empty(t, result.Concepts)
}

func TestExtractDegradesOnBadJSON(t *testing.T) {
	llm := &mockLLM{response: "Sure! Here are the concepts I found:"}
	svc := newTestService(t, llm)

	result, err := svc.Extract(context.Background(), "means_end_chain", "",
		"I love the creamy texture because it's really satisfying")
	require.NoError(t, err)
	assert.False(t, result.IsExtractable)
}

func TestExtractStripsCodeFences(t *testing.T) {
	llm := &mockLLM{response: "```json\n{\"concepts\": [{\"text\": \"price\", \"node_type\": \"attribute\", \"confidence\": 0.7}], \"relationships\": []}\n```"}
	svc := newTestService(t, llm)

	result, err := svc.Extract(context.Background(), "means_end_chain", "", "the price is pretty reasonable")
	require.NoError(t, err)
	require.True(t, result.IsExtractable)
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, "price", result.Concepts[0].Text)
}

func TestExtractUnknownMethodology(t *testing.T) {
	svc := newTestService(t, &mockLLM{})

	_, err := svc.Extract(context.Background(), "missing", "", "some long enough utterance here")
	assert.ErrorIs(t, err, methodology.ErrMethodologyNotFound)
}

func TestExtractionPromptContainsOntology(t *testing.T) {
	llm := &mockLLM{response: `{"concepts": [], "relationships": []}`}
	svc := newTestService(t, llm)

	_, err := svc.Extract(context.Background(), "means_end_chain",
		"What matters to you?", "I care a lot about sustainability these days")
	require.NoError(t, err)

	assert.Contains(t, llm.lastReq.System, "attribute")
	assert.Contains(t, llm.lastReq.System, "leads_to")
	assert.Contains(t, llm.lastReq.System, "creamy texture", "node type examples are listed")
	assert.Contains(t, llm.lastReq.System, "attribute->functional_consequence")
	assert.Contains(t, llm.lastReq.Prompt, "What matters to you?")
}
