// Package question generates opening and follow-up interview questions. The
// follow-up prompt carries the recent conversation, a compact graph summary,
// the active qualitative signals, and the rationale for the selected
// strategy, so the model asks the question the engine decided to ask.
package question

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/llms"
	"github.com/kadirpekel/inquest/pkg/methodology"
	"github.com/kadirpekel/inquest/pkg/signals"
	"github.com/kadirpekel/inquest/pkg/strategy"
)

const (
	openingTemperature  = 0.9
	openingMaxTokens    = 150
	followUpTemperature = 0.8
	followUpMaxTokens   = 200

	// conversationWindow is how many recent utterances the prompt shows.
	conversationWindow = 5
)

// Service generates questions through an LLM provider.
type Service struct {
	llm     llms.Provider
	timeout time.Duration
	logger  *slog.Logger
}

// NewService builds the question service. A zero timeout leaves the
// provider default in place.
func NewService(llm llms.Provider, timeout time.Duration) *Service {
	return &Service{llm: llm, timeout: timeout, logger: slog.Default()}
}

// GenerateOpening produces the interview's first question from the research
// objective and the methodology's opening bias.
func (s *Service) GenerateOpening(ctx context.Context, objective string, schema *methodology.Schema) (string, error) {
	var sys strings.Builder
	sys.WriteString("You are a skilled qualitative research interviewer")
	if schema != nil && schema.Method.Name != "" {
		fmt.Fprintf(&sys, " conducting a %s interview", schema.Method.Name)
	}
	sys.WriteString(".\n")
	if schema != nil && schema.Method.Goal != "" {
		fmt.Fprintf(&sys, "Method goal: %s\n", schema.Method.Goal)
	}
	if schema != nil && schema.Method.OpeningBias != "" {
		fmt.Fprintf(&sys, "Opening guidance: %s\n", schema.Method.OpeningBias)
	}
	sys.WriteString("Generate exactly one warm, open-ended opening question. Respond with the question only.")

	temp := openingTemperature
	resp, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System:      sys.String(),
		Prompt:      fmt.Sprintf("Research objective: %s\n\nGenerate the opening question:", objective),
		Temperature: &temp,
		MaxTokens:   openingMaxTokens,
		Timeout:     s.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("opening question generation failed: %w", err)
	}
	return Postprocess(resp.Content), nil
}

// FollowUpRequest carries everything the follow-up prompt draws on.
type FollowUpRequest struct {
	Focus       graph.Focus
	Strategy    *strategy.Strategy
	Topic       string
	Utterances  []*graph.Utterance // recent window, oldest first
	State       *graph.GraphState
	RecentNodes []*graph.Node
	Signals     *signals.Set
	Methodology *methodology.Schema
}

// GenerateFollowUp produces the next question under the selected strategy.
func (s *Service) GenerateFollowUp(ctx context.Context, req *FollowUpRequest) (string, error) {
	temp := followUpTemperature
	resp, err := s.llm.Complete(ctx, llms.CompletionRequest{
		System:      buildFollowUpSystemPrompt(req),
		Prompt:      buildFollowUpPrompt(req),
		Temperature: &temp,
		MaxTokens:   followUpMaxTokens,
		Timeout:     s.timeout,
	})
	if err != nil {
		return "", fmt.Errorf("question generation failed: %w", err)
	}
	return Postprocess(resp.Content), nil
}

func buildFollowUpSystemPrompt(req *FollowUpRequest) string {
	var b strings.Builder
	b.WriteString("You are a skilled qualitative research interviewer")
	if req.Methodology != nil && req.Methodology.Method.Name != "" {
		fmt.Fprintf(&b, " conducting a %s interview", req.Methodology.Method.Name)
	}
	b.WriteString(".\n")
	if req.Methodology != nil && req.Methodology.Method.Goal != "" {
		fmt.Fprintf(&b, "Method goal: %s\n", req.Methodology.Method.Goal)
	}
	if req.Strategy != nil {
		fmt.Fprintf(&b, "Current questioning strategy: %s. %s\n", req.Strategy.Name, req.Strategy.Description)
	}
	if req.Topic != "" {
		fmt.Fprintf(&b, "Stay anchored to the topic %q; do not drift to unrelated subjects.\n", req.Topic)
	}
	b.WriteString("Ask exactly one question. Keep it conversational and under 30 words. Respond with the question only.")
	return b.String()
}

func buildFollowUpPrompt(req *FollowUpRequest) string {
	var b strings.Builder

	b.WriteString("Recent conversation:\n")
	window := req.Utterances
	if len(window) > conversationWindow {
		window = window[len(window)-conversationWindow:]
	}
	for _, u := range window {
		label := "Respondent"
		if u.Speaker == graph.SpeakerSystem {
			label = "Interviewer"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, u.Text)
	}

	fmt.Fprintf(&b, "\nInterview state: %s\n", GraphSummary(req.State, req.RecentNodes))

	if lines := signalLines(req.Signals); len(lines) > 0 {
		b.WriteString("\nSignals from the latest response:\n")
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nWhy This Strategy Was Selected:\n")
	b.WriteString(strategyRationale(req))
	b.WriteString("\n")

	if req.Focus.Description != "" {
		fmt.Fprintf(&b, "\nFocus: %s\n", req.Focus.Description)
	}

	b.WriteString("\nGenerate a natural follow-up question:")
	return b.String()
}

// GraphSummary renders the one-line state digest shown in the prompt, e.g.
// "depth=developing | explored 5 concepts | recent topics: a, b, c".
func GraphSummary(state *graph.GraphState, recentNodes []*graph.Node) string {
	if state == nil {
		return "depth=surface | explored 0 concepts"
	}

	label := "surface"
	switch {
	case state.Depth.MaxDepth >= 4:
		label = "deep"
	case state.Depth.MaxDepth >= 2:
		label = "developing"
	}

	summary := fmt.Sprintf("depth=%s | explored %d concepts", label, state.NodeCount)
	if len(recentNodes) > 0 {
		topics := make([]string, 0, 3)
		for i := len(recentNodes) - 1; i >= 0 && len(topics) < 3; i-- {
			topics = append(topics, recentNodes[i].Label)
		}
		summary += " | recent topics: " + strings.Join(topics, ", ")
	}
	return summary
}

func signalLines(set *signals.Set) []string {
	if set == nil || set.Empty() {
		return nil
	}
	descriptions := signals.Descriptions()
	var lines []string

	add := func(name, value string) {
		lines = append(lines, fmt.Sprintf("- %s: %s (%s)", name, value, descriptions[name]))
	}

	if s := set.Uncertainty; s != nil {
		add("uncertainty", fmt.Sprintf("type=%s severity=%.1f", s.Type, s.Severity))
	}
	if s := set.Reasoning; s != nil {
		add("reasoning", fmt.Sprintf("quality=%s depth=%.1f", s.Quality, s.Depth))
	}
	if s := set.Emotional; s != nil {
		add("emotional", fmt.Sprintf("intensity=%s trajectory=%s", s.Intensity, s.Trajectory))
	}
	if s := set.Contradiction; s != nil && s.HasContradiction {
		add("contradiction", fmt.Sprintf("type=%s", s.Type))
	}
	if s := set.KnowledgeCeiling; s != nil && s.IsTerminal {
		add("knowledge_ceiling", fmt.Sprintf("response_type=%s", s.ResponseType))
	}
	if s := set.ConceptDepth; s != nil {
		add("concept_depth", fmt.Sprintf("level=%.1f suggestion=%s", s.AbstractionLevel, s.Suggestion))
	}
	return lines
}

// strategyRationale explains the selection in terms the model can act on,
// derived from the strategy and whatever signals are present.
func strategyRationale(req *FollowUpRequest) string {
	name := "the selected strategy"
	if req.Strategy != nil {
		name = req.Strategy.Name
	}

	if set := req.Signals; set != nil {
		if s := set.KnowledgeCeiling; s != nil && s.IsTerminal {
			return fmt.Sprintf("%s was chosen because the respondent appears to have said all they can on the current topic.", name)
		}
		if s := set.Contradiction; s != nil && s.HasContradiction {
			return fmt.Sprintf("%s was chosen because the latest response conflicts with an earlier statement and the tension is worth exploring gently.", name)
		}
		if s := set.Uncertainty; s != nil && s.Severity > 0.5 {
			return fmt.Sprintf("%s was chosen because the respondent sounds uncertain and needs room to clarify.", name)
		}
		if s := set.Emotional; s != nil && strings.HasPrefix(s.Intensity, "high") {
			return fmt.Sprintf("%s was chosen because the respondent is emotionally engaged with this topic right now.", name)
		}
	}
	return fmt.Sprintf("%s scored highest for the current state of the conversation.", name)
}

// Postprocess strips wrapping quotes and guarantees terminal punctuation.
func Postprocess(text string) string {
	out := strings.TrimSpace(text)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}} {
		if len(out) >= 2 && strings.HasPrefix(out, pair[0]) && strings.HasSuffix(out, pair[1]) {
			out = strings.TrimSpace(out[len(pair[0]) : len(out)-len(pair[1])])
			break
		}
	}
	if out == "" {
		return out
	}
	if !strings.ContainsAny(out[len(out)-1:], ".!?") {
		out += "?"
	}
	return out
}
