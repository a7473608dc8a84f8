package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/llms"
)

// promptVersion is bumped whenever the analysis prompt changes shape.
const promptVersion = "v1"

// Config tunes signal extraction.
type Config struct {
	// LookbackTurns bounds how much conversation the analysis sees.
	LookbackTurns int
}

// Extractor runs signal analysis against the scoring LLM client.
type Extractor struct {
	llm    llms.Provider
	cfg    Config
	logger *slog.Logger
}

func NewExtractor(llm llms.Provider, cfg Config) *Extractor {
	if cfg.LookbackTurns <= 0 {
		cfg.LookbackTurns = 5
	}
	return &Extractor{
		llm:    llm,
		cfg:    cfg,
		logger: slog.Default(),
	}
}

// Extract analyzes the recent conversation. It never returns an error: a
// whole-LLM failure yields an empty set with Metadata.Error populated, and
// a per-signal parse failure records an entry in Metadata.SignalErrors while
// the remaining signals are still delivered. Fewer than two utterances of
// history skip the LLM call entirely.
func (e *Extractor) Extract(ctx context.Context, turnNumber int, utterances []*graph.Utterance) *Set {
	set := &Set{Metadata: Metadata{
		TurnNumber:    turnNumber,
		GeneratedAt:   time.Now().UTC(),
		PromptVersion: promptVersion,
	}}
	if len(utterances) < 2 {
		return set
	}

	if len(utterances) > e.cfg.LookbackTurns {
		utterances = utterances[len(utterances)-e.cfg.LookbackTurns:]
	}
	if last := utterances[len(utterances)-1]; last.Speaker == graph.SpeakerUser {
		set.Metadata.SourceUtteranceID = last.ID
	}

	start := time.Now()
	temp := 0.2
	resp, err := e.llm.Complete(ctx, llms.CompletionRequest{
		System:      signalSystemPrompt,
		Prompt:      buildSignalPrompt(utterances),
		Temperature: &temp,
	})
	set.Metadata.Latency = time.Since(start)
	if err != nil {
		set.Metadata.Error = fmt.Sprintf("signal extraction failed: %v", err)
		e.logger.Warn("signal extraction call failed", "turn", turnNumber, "error", err)
		return set
	}
	set.Metadata.Model = resp.Model

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Content)), &raw); err != nil {
		set.Metadata.Error = fmt.Sprintf("signal response is not valid JSON: %v", err)
		e.logger.Warn("signal response unparseable", "turn", turnNumber, "error", err)
		return set
	}

	// Each signal parses in isolation so one malformed block cannot take
	// the rest down.
	parseSignal(raw, "uncertainty", &set.Uncertainty, set.Metadata.recordSignalError)
	parseSignal(raw, "reasoning", &set.Reasoning, set.Metadata.recordSignalError)
	parseSignal(raw, "emotional", &set.Emotional, set.Metadata.recordSignalError)
	parseSignal(raw, "contradiction", &set.Contradiction, set.Metadata.recordSignalError)
	parseSignal(raw, "knowledge_ceiling", &set.KnowledgeCeiling, set.Metadata.recordSignalError)
	parseSignal(raw, "concept_depth", &set.ConceptDepth, set.Metadata.recordSignalError)

	return set
}

func (m *Metadata) recordSignalError(name string, err error) {
	if m.SignalErrors == nil {
		m.SignalErrors = make(map[string]string)
	}
	m.SignalErrors[name] = err.Error()
}

func parseSignal[T any](raw map[string]json.RawMessage, name string, dst **T, onError func(string, error)) {
	payload, ok := raw[name]
	if !ok || string(payload) == "null" {
		return
	}
	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		onError(name, err)
		return
	}
	*dst = &value
}

const signalSystemPrompt = `You are a qualitative interview analyst. Analyze the conversation excerpt
and report per-signal observations about the most recent respondent turn.

Respond with JSON only, no prose, no markdown fences. Omit a signal (or use
null) when there is no evidence for it. Shape:
{
  "uncertainty": {"type": "knowledge_gap|conceptual_clarity|confidence_qualification|epistemic_humility|apathy", "severity": 0.0, "quotes": [], "confidence": 0.0, "reasoning": ""},
  "reasoning": {"quality": "causal|counterfactual|associative|reactive|metacognitive", "depth": 0.0, "has_examples": false, "has_abstractions": false, "confidence": 0.0, "reasoning": ""},
  "emotional": {"intensity": "high_positive|moderate_positive|neutral|moderate_negative|high_negative", "trajectory": "rising|falling|stable|volatile", "markers": [], "confidence": 0.0, "reasoning": ""},
  "contradiction": {"has_contradiction": false, "type": "", "earlier_statement": "", "current_statement": "", "confidence": 0.0, "reasoning": ""},
  "knowledge_ceiling": {"is_terminal": false, "response_type": "terminal|exploratory|transitional", "has_curiosity": false, "redirection_available": false, "confidence": 0.0, "reasoning": ""},
  "concept_depth": {"abstraction_level": 0.0, "has_concrete_examples": false, "has_abstract_principles": false, "suggestion": "deepen|broaden|stay", "confidence": 0.0, "reasoning": ""}
}`

func buildSignalPrompt(utterances []*graph.Utterance) string {
	var b strings.Builder
	b.WriteString("Conversation excerpt, oldest first:\n\n")
	for _, u := range utterances {
		label := "Interviewer"
		if u.Speaker == graph.SpeakerUser {
			label = "Respondent"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, u.Text)
	}
	b.WriteString("\nAnalyze the most recent respondent turn.")
	return b.String()
}

func stripCodeFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
