// Package extraction turns a user utterance into a typed subgraph proposal:
// concepts, relationships and discourse markers constrained by the session's
// methodology ontology.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/inquest/pkg/llms"
	"github.com/kadirpekel/inquest/pkg/methodology"
)

// Concept is one extracted node proposal.
type Concept struct {
	Text        string  `json:"text"`
	NodeType    string  `json:"node_type"`
	Confidence  float64 `json:"confidence"`
	SourceQuote string  `json:"source_quote,omitempty"`
}

// Relationship is one extracted edge proposal. Source and target reference
// concept texts from the same extraction.
type Relationship struct {
	SourceText       string  `json:"source_text"`
	TargetText       string  `json:"target_text"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence"`
	SourceQuote      string  `json:"source_quote,omitempty"`
}

// Result is the outcome of one extraction pass. IsExtractable is false for
// utterances too short to carry graph content and for degraded LLM failures.
type Result struct {
	Concepts         []Concept      `json:"concepts"`
	Relationships    []Relationship `json:"relationships"`
	DiscourseMarkers []string       `json:"discourse_markers,omitempty"`
	IsExtractable    bool           `json:"is_extractable"`
	Latency          time.Duration  `json:"-"`
}

// Config tunes the extraction skip thresholds.
type Config struct {
	// MinChars is the minimum utterance length worth extracting.
	MinChars int

	// MinTokens is the minimum token count worth extracting.
	MinTokens int
}

func (c *Config) setDefaults() {
	if c.MinChars <= 0 {
		c.MinChars = 10
	}
	if c.MinTokens <= 0 {
		c.MinTokens = 2
	}
}

// Service extracts subgraphs with the extraction LLM client.
type Service struct {
	llm           llms.Provider
	methodologies *methodology.Registry
	cfg           Config
	logger        *slog.Logger
}

func NewService(llm llms.Provider, methodologies *methodology.Registry, cfg Config) *Service {
	cfg.setDefaults()
	return &Service{
		llm:           llm,
		methodologies: methodologies,
		cfg:           cfg,
		logger:        slog.Default(),
	}
}

type extractionResponse struct {
	Concepts         []Concept      `json:"concepts"`
	Relationships    []Relationship `json:"relationships"`
	DiscourseMarkers []string       `json:"discourse_markers"`
}

// Extract analyzes one utterance against the methodology ontology. Results
// are filtered: concepts with unknown node types and relationships that are
// not admissible are dropped. An LLM failure degrades to an empty,
// non-extractable result rather than failing the turn.
func (s *Service) Extract(ctx context.Context, methodologyName, interviewerContext, text string) (*Result, error) {
	schema, err := s.methodologies.Get(methodologyName)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < s.cfg.MinChars || countTokens(trimmed) < s.cfg.MinTokens {
		return &Result{IsExtractable: false}, nil
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System: buildExtractionSystemPrompt(schema),
		Prompt: buildExtractionPrompt(interviewerContext, trimmed),
	})
	if err != nil {
		s.logger.Warn("extraction call failed, continuing without extraction", "error", err)
		return &Result{IsExtractable: false, Latency: time.Since(start)}, nil
	}

	var parsed extractionResponse
	if jsonErr := json.Unmarshal([]byte(stripCodeFences(resp.Content)), &parsed); jsonErr != nil {
		s.logger.Warn("extraction response is not valid JSON, continuing without extraction", "error", jsonErr)
		return &Result{IsExtractable: false, Latency: time.Since(start)}, nil
	}

	result := &Result{
		DiscourseMarkers: parsed.DiscourseMarkers,
		IsExtractable:    true,
		Latency:          time.Since(start),
	}

	typeByText := make(map[string]string)
	for _, concept := range parsed.Concepts {
		if concept.Text == "" || !schema.ValidNodeType(concept.NodeType) {
			s.logger.Debug("dropping concept with invalid node type",
				"text", concept.Text, "node_type", concept.NodeType)
			continue
		}
		concept.Confidence = clamp01(concept.Confidence)
		result.Concepts = append(result.Concepts, concept)
		typeByText[strings.ToLower(concept.Text)] = concept.NodeType
	}

	for _, rel := range parsed.Relationships {
		srcType, srcOK := typeByText[strings.ToLower(rel.SourceText)]
		dstType, dstOK := typeByText[strings.ToLower(rel.TargetText)]
		if !srcOK || !dstOK {
			s.logger.Debug("dropping relationship with unresolved endpoint",
				"source", rel.SourceText, "target", rel.TargetText)
			continue
		}
		if !schema.ValidConnection(rel.RelationshipType, srcType, dstType) {
			s.logger.Debug("dropping inadmissible relationship",
				"type", rel.RelationshipType, "src_type", srcType, "dst_type", dstType)
			continue
		}
		rel.Confidence = clamp01(rel.Confidence)
		result.Relationships = append(result.Relationships, rel)
	}

	return result, nil
}

func buildExtractionSystemPrompt(schema *methodology.Schema) string {
	var b strings.Builder
	b.WriteString("You extract a typed concept graph from interview responses.\n")
	if schema.Method.Goal != "" {
		fmt.Fprintf(&b, "Research method: %s. Goal: %s\n", schema.Method.Name, schema.Method.Goal)
	}

	b.WriteString("\nNode types:\n")
	descriptions := schema.NodeDescriptions()
	for _, name := range schema.NodeTypeNames() {
		fmt.Fprintf(&b, "- %s: %s\n", name, descriptions[name])
	}

	b.WriteString("\nRelationship types:\n")
	edgeDescriptions := schema.EdgeDescriptionsWithConnections()
	edgeNames := make([]string, 0, len(edgeDescriptions))
	for name := range edgeDescriptions {
		edgeNames = append(edgeNames, name)
	}
	sort.Strings(edgeNames)
	for _, name := range edgeNames {
		fmt.Fprintf(&b, "- %s: %s\n", name, edgeDescriptions[name])
	}

	if schema.Extraction.NamingConvention != "" {
		fmt.Fprintf(&b, "\nConcept naming: %s\n", schema.Extraction.NamingConvention)
	}
	for _, guideline := range schema.Extraction.Guidelines {
		fmt.Fprintf(&b, "- %s\n", guideline)
	}
	if len(schema.Extraction.Examples) > 0 {
		b.WriteString("\nExamples:\n")
		for _, example := range schema.Extraction.Examples {
			fmt.Fprintf(&b, "%s\n", example)
		}
	}

	b.WriteString(`
Respond with JSON only, no prose, no markdown fences:
{"concepts": [{"text": "...", "node_type": "...", "confidence": 0.0, "source_quote": "..."}],
 "relationships": [{"source_text": "...", "target_text": "...", "relationship_type": "...", "confidence": 0.0, "source_quote": "..."}],
 "discourse_markers": ["..."]}`)
	return b.String()
}

func buildExtractionPrompt(interviewerContext, text string) string {
	var b strings.Builder
	if interviewerContext != "" {
		fmt.Fprintf(&b, "Interviewer asked: %q\n\n", interviewerContext)
	}
	fmt.Fprintf(&b, "Respondent said: %q\n\nExtract the concept graph.", text)
	return b.String()
}

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// countTokens uses the cl100k_base encoding; if the encoding cannot be
// loaded it falls back to whitespace fields.
func countTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Default().Warn("tiktoken encoding unavailable, falling back to whitespace tokens", "error", err)
			return
		}
		tokenizer = enc
	})
	if tokenizer == nil {
		return len(strings.Fields(text))
	}
	return len(tokenizer.Encode(text, nil, nil))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
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
