package signals

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/llms"
)

type mockLLM struct {
	response string
	err      error
	calls    int
	lastReq  llms.CompletionRequest
}

func (m *mockLLM) Complete(ctx context.Context, req llms.CompletionRequest) (*llms.CompletionResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &llms.CompletionResponse{Content: m.response, Model: "mock"}, nil
}

func (m *mockLLM) ModelName() string { return "mock" }
func (m *mockLLM) Close() error      { return nil }

func conversation(texts ...string) []*graph.Utterance {
	out := make([]*graph.Utterance, len(texts))
	for i, text := range texts {
		speaker := graph.SpeakerSystem
		if i%2 == 1 {
			speaker = graph.SpeakerUser
		}
		out[i] = &graph.Utterance{
			ID:         fmt.Sprintf("u%d", i+1),
			TurnNumber: i + 1,
			Speaker:    speaker,
			Text:       text,
		}
	}
	return out
}

func TestExtractFastPath(t *testing.T) {
	llm := &mockLLM{}
	extractor := NewExtractor(llm, Config{})

	set := extractor.Extract(context.Background(), 1, conversation("What do you think of oat milk?"))

	assert.True(t, set.Empty())
	assert.Equal(t, 0, llm.calls, "fewer than two turns must not call the LLM")
}

func TestExtractParsesAllSignals(t *testing.T) {
	llm := &mockLLM{response: `{
	  "uncertainty": {"type": "knowledge_gap", "severity": 0.7, "quotes": ["I have no idea"], "confidence": 0.8},
	  "reasoning": {"quality": "causal", "depth": 0.6, "has_examples": true, "has_abstractions": false, "confidence": 0.7},
	  "emotional": {"intensity": "moderate_positive", "trajectory": "stable", "confidence": 0.6},
	  "contradiction": {"has_contradiction": false, "confidence": 0.9},
	  "knowledge_ceiling": {"is_terminal": false, "response_type": "exploratory", "has_curiosity": true, "redirection_available": true, "confidence": 0.7},
	  "concept_depth": {"abstraction_level": 0.4, "has_concrete_examples": true, "suggestion": "deepen", "confidence": 0.6}
	}`}
	extractor := NewExtractor(llm, Config{})

	set := extractor.Extract(context.Background(), 2, conversation(
		"What do you think of oat milk?",
		"I love the creamy texture but I have no idea how it is made"))

	require.False(t, set.Empty())
	require.NotNil(t, set.Uncertainty)
	assert.Equal(t, "knowledge_gap", set.Uncertainty.Type)
	assert.InDelta(t, 0.7, set.Uncertainty.Severity, 0.001)
	require.NotNil(t, set.Reasoning)
	assert.True(t, set.Reasoning.HasExamples)
	require.NotNil(t, set.ConceptDepth)
	assert.Equal(t, "deepen", set.ConceptDepth.Suggestion)
	assert.Empty(t, set.Metadata.SignalErrors)
	assert.Equal(t, "mock", set.Metadata.Model)
	assert.Equal(t, "u2", set.Metadata.SourceUtteranceID)
}

func TestExtractIsolatesPerSignalParseFailures(t *testing.T) {
	llm := &mockLLM{response: `{
	  "uncertainty": {"type": "apathy", "severity": "very high", "confidence": 0.5},
	  "emotional": {"intensity": "neutral", "trajectory": "stable", "confidence": 0.6}
	}`}
	extractor := NewExtractor(llm, Config{})

	set := extractor.Extract(context.Background(), 2, conversation(
		"Anything else about the taste?", "not really, whatever"))

	// The malformed uncertainty block fails alone.
	assert.Nil(t, set.Uncertainty)
	require.NotNil(t, set.Emotional)
	assert.Equal(t, "neutral", set.Emotional.Intensity)
	assert.Contains(t, set.Metadata.SignalErrors, "uncertainty")
	assert.Empty(t, set.Metadata.Error)
}

func TestExtractWholeFailure(t *testing.T) {
	llm := &mockLLM{err: fmt.Errorf("timeout")}
	extractor := NewExtractor(llm, Config{})

	set := extractor.Extract(context.Background(), 3, conversation(
		"What do you value in a drink?", "Health, mostly"))

	assert.True(t, set.Empty())
	assert.Contains(t, set.Metadata.Error, "timeout")
}

func TestExtractNonJSONResponse(t *testing.T) {
	llm := &mockLLM{response: "The respondent seems uncertain."}
	extractor := NewExtractor(llm, Config{})

	set := extractor.Extract(context.Background(), 3, conversation(
		"What do you value in a drink?", "Health, mostly"))

	assert.True(t, set.Empty())
	assert.NotEmpty(t, set.Metadata.Error)
}

func TestExtractLookbackWindow(t *testing.T) {
	llm := &mockLLM{response: `{}`}
	extractor := NewExtractor(llm, Config{LookbackTurns: 3})

	set := extractor.Extract(context.Background(), 6, conversation(
		"q1", "a1", "q2", "a2", "q3", "a3"))

	assert.NotContains(t, llm.lastReq.Prompt, "a1")
	assert.Contains(t, llm.lastReq.Prompt, "a3")
	assert.True(t, set.Empty())
}
