// Package signals derives qualitative per-turn signals from the recent
// conversation: uncertainty, reasoning quality, emotional tone,
// contradiction, knowledge ceiling and concept depth.
package signals

import "time"

// UncertaintySignal classifies how and how strongly the respondent hedges.
type UncertaintySignal struct {
	Type       string   `json:"type"` // knowledge_gap, conceptual_clarity, confidence_qualification, epistemic_humility, apathy
	Severity   float64  `json:"severity"`
	Quotes     []string `json:"quotes,omitempty"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// ReasoningSignal classifies the respondent's reasoning mode.
type ReasoningSignal struct {
	Quality         string  `json:"quality"` // causal, counterfactual, associative, reactive, metacognitive
	Depth           float64 `json:"depth"`
	HasExamples     bool    `json:"has_examples"`
	HasAbstractions bool    `json:"has_abstractions"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// EmotionalSignal tracks affect intensity and its trajectory over turns.
type EmotionalSignal struct {
	Intensity  string   `json:"intensity"`  // high_positive, moderate_positive, neutral, moderate_negative, high_negative
	Trajectory string   `json:"trajectory"` // rising, falling, stable, volatile
	Markers    []string `json:"markers,omitempty"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// ContradictionSignal flags a statement that conflicts with an earlier one.
type ContradictionSignal struct {
	HasContradiction bool    `json:"has_contradiction"`
	Type             string  `json:"type,omitempty"`
	EarlierStatement string  `json:"earlier_statement,omitempty"`
	CurrentStatement string  `json:"current_statement,omitempty"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning,omitempty"`
}

// KnowledgeCeilingSignal reports whether the respondent has hit the limit of
// what they can say about the current topic.
type KnowledgeCeilingSignal struct {
	IsTerminal           bool    `json:"is_terminal"`
	ResponseType         string  `json:"response_type"` // terminal, exploratory, transitional
	HasCuriosity         bool    `json:"has_curiosity"`
	RedirectionAvailable bool    `json:"redirection_available"`
	Confidence           float64 `json:"confidence"`
	Reasoning            string  `json:"reasoning,omitempty"`
}

// ConceptDepthSignal measures abstraction level and suggests a direction.
type ConceptDepthSignal struct {
	AbstractionLevel      float64 `json:"abstraction_level"`
	HasConcreteExamples   bool    `json:"has_concrete_examples"`
	HasAbstractPrinciples bool    `json:"has_abstract_principles"`
	Suggestion            string  `json:"suggestion"` // deepen, broaden, stay
	Confidence            float64 `json:"confidence"`
	Reasoning             string  `json:"reasoning,omitempty"`
}

// Metadata records provenance for one signal extraction pass.
type Metadata struct {
	TurnNumber        int               `json:"turn_number"`
	SourceUtteranceID string            `json:"source_utterance_id,omitempty"`
	GeneratedAt       time.Time         `json:"generated_at"`
	Model             string            `json:"model,omitempty"`
	PromptVersion     string            `json:"prompt_version"`
	Latency           time.Duration     `json:"-"`
	SignalErrors      map[string]string `json:"signal_errors,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// Set is the per-turn signal bundle. Every signal is optional; an absent
// signal means the extractor could not or did not produce it.
type Set struct {
	Uncertainty      *UncertaintySignal      `json:"uncertainty,omitempty"`
	Reasoning        *ReasoningSignal        `json:"reasoning,omitempty"`
	Emotional        *EmotionalSignal        `json:"emotional,omitempty"`
	Contradiction    *ContradictionSignal    `json:"contradiction,omitempty"`
	KnowledgeCeiling *KnowledgeCeilingSignal `json:"knowledge_ceiling,omitempty"`
	ConceptDepth     *ConceptDepthSignal     `json:"concept_depth,omitempty"`
	Metadata         Metadata                `json:"metadata"`
}

// Empty reports whether no signal was produced.
func (s *Set) Empty() bool {
	if s == nil {
		return true
	}
	return s.Uncertainty == nil && s.Reasoning == nil && s.Emotional == nil &&
		s.Contradiction == nil && s.KnowledgeCeiling == nil && s.ConceptDepth == nil
}

// Descriptions maps signal names to one-line explanations used when signals
// are rendered into the question-generation prompt.
func Descriptions() map[string]string {
	return map[string]string{
		"uncertainty":       "how and how strongly the respondent hedges or signals not knowing",
		"reasoning":         "the reasoning mode of the response (causal, associative, reactive, ...)",
		"emotional":         "affect intensity and whether it is rising, falling or stable",
		"contradiction":     "whether the response conflicts with an earlier statement",
		"knowledge_ceiling": "whether the respondent has exhausted what they can say on this topic",
		"concept_depth":     "abstraction level of the response and the suggested direction",
	}
}
