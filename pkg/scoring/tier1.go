package scoring

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/methodology"
)

// ceilingPhrases mark a respondent stating they cannot say more.
var ceilingPhrases = []string{
	"don't know", "dont know", "never used", "no experience",
	"not familiar", "never tried", "couldn't say", "couldnt say",
}

// KnowledgeCeilingScorer vetoes a candidate whose focus topic the respondent
// has already declared themselves unable to speak about.
type KnowledgeCeilingScorer struct{}

func (KnowledgeCeilingScorer) ID() string { return "knowledge_ceiling" }

func (s KnowledgeCeilingScorer) Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error) {
	out := graph.TierOneOutput{ScorerID: s.ID()}

	terms := focusTerms(ctx, candidate)
	if len(terms) == 0 {
		out.Reasoning = "no focus terms to check"
		return out, nil
	}

	for _, u := range ctx.LastUserUtterances(5) {
		text := strings.ToLower(u.Text)
		var phrase string
		for _, p := range ceilingPhrases {
			if strings.Contains(text, p) {
				phrase = p
				break
			}
		}
		if phrase == "" {
			continue
		}
		for _, term := range terms {
			if strings.Contains(text, term) {
				out.IsVeto = true
				out.Reasoning = fmt.Sprintf("respondent said %q about %q in turn %d", phrase, term, u.TurnNumber)
				out.Signals = map[string]any{"phrase": phrase, "term": term}
				return out, nil
			}
		}
	}

	out.Reasoning = "no knowledge ceiling near focus terms"
	return out, nil
}

// ElementExhaustedScorer vetoes further probing of an element that has been
// mentioned heavily and already has established relationships.
type ElementExhaustedScorer struct {
	MaxMentions    int
	LookbackWindow int
}

func NewElementExhaustedScorer(params map[string]any) *ElementExhaustedScorer {
	return &ElementExhaustedScorer{
		MaxMentions:    intParam(params, "max_mentions", 5),
		LookbackWindow: intParam(params, "lookback_window", 10),
	}
}

func (*ElementExhaustedScorer) ID() string { return "element_exhausted" }

func (s *ElementExhaustedScorer) Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error) {
	out := graph.TierOneOutput{ScorerID: s.ID()}

	element := ctx.Element(candidate.Focus.ElementID)
	if element == nil {
		out.Reasoning = "candidate has no element focus"
		return out, nil
	}

	window := ctx.Conversation
	if len(window) > s.LookbackWindow {
		window = window[len(window)-s.LookbackWindow:]
	}
	mentions := 0
	for _, u := range window {
		text := strings.ToLower(u.Text)
		for _, term := range element.Terms() {
			mentions += strings.Count(text, strings.ToLower(term))
		}
	}

	related := 0
	incident := make(map[string]bool)
	for _, e := range ctx.Edges {
		incident[e.SourceNodeID] = true
		incident[e.TargetNodeID] = true
	}
	for _, n := range ctx.Nodes {
		if !incident[n.ID] {
			continue
		}
		label := strings.ToLower(n.Label)
		for _, term := range element.Terms() {
			if strings.Contains(label, strings.ToLower(term)) {
				related++
				break
			}
		}
	}

	out.Signals = map[string]any{"mentions": mentions, "related_nodes": related}
	if mentions >= s.MaxMentions && related >= 2 {
		out.IsVeto = true
		out.Reasoning = fmt.Sprintf("element %s mentioned %d times with %d related nodes", element.ID, mentions, related)
	} else {
		out.Reasoning = fmt.Sprintf("element %s not exhausted (%d mentions, %d related)", element.ID, mentions, related)
	}
	return out, nil
}

// RecentRedundancyScorer vetoes a candidate whose proposed question is a
// near-duplicate of a recent system question.
type RecentRedundancyScorer struct {
	Threshold      float64
	LookbackWindow int
}

func NewRecentRedundancyScorer(params map[string]any) *RecentRedundancyScorer {
	return &RecentRedundancyScorer{
		Threshold:      floatParam(params, "threshold", 0.85),
		LookbackWindow: intParam(params, "lookback_window", 6),
	}
}

func (*RecentRedundancyScorer) ID() string { return "recent_redundancy" }

func (s *RecentRedundancyScorer) Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error) {
	out := graph.TierOneOutput{ScorerID: s.ID()}

	questions := ctx.LastSystemQuestions(s.LookbackWindow)
	similarity, idx := maxTFIDFSimilarity(candidate.Focus.Description, questions)
	out.Signals = map[string]any{"similarity": similarity}
	if similarity >= s.Threshold {
		out.IsVeto = true
		out.Reasoning = fmt.Sprintf("proposed question %.0f%% similar to recent question %q",
			similarity*100, questions[idx])
	} else {
		out.Reasoning = fmt.Sprintf("max similarity to recent questions %.2f", similarity)
	}
	return out, nil
}

// confusionPhrases back up the clarification veto when the uncertainty
// signal is absent.
var confusionPhrases = []string{
	"what do you mean", "i don't understand", "i dont understand",
	"not sure what you", "confused", "can you explain", "don't follow", "dont follow",
}

// ClarificationVetoScorer blocks exploratory strategies while the respondent
// is confused; the system should clarify before pushing further.
type ClarificationVetoScorer struct {
	SeverityThreshold float64
}

func NewClarificationVetoScorer(params map[string]any) *ClarificationVetoScorer {
	return &ClarificationVetoScorer{
		SeverityThreshold: floatParam(params, "severity_threshold", 0.3),
	}
}

func (*ClarificationVetoScorer) ID() string { return "clarification_veto" }

var clarificationVetoTargets = map[string]bool{"deepen": true, "broaden": true, "bridge": true}

func (s *ClarificationVetoScorer) Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error) {
	out := graph.TierOneOutput{ScorerID: s.ID()}

	if !clarificationVetoTargets[candidate.StrategyID] {
		out.Reasoning = "strategy exempt from clarification veto"
		return out, nil
	}

	if ctx.Signals != nil && ctx.Signals.Uncertainty != nil {
		u := ctx.Signals.Uncertainty
		if u.Type == "conceptual_clarity" && u.Severity > s.SeverityThreshold {
			out.IsVeto = true
			out.Reasoning = fmt.Sprintf("conceptual clarity issue with severity %.2f", u.Severity)
			out.Signals = map[string]any{"severity": u.Severity}
			return out, nil
		}
		out.Reasoning = "uncertainty signal present but not a clarity issue"
		return out, nil
	}

	// Rule-based fallback without a signal.
	if users := ctx.LastUserUtterances(1); len(users) > 0 {
		text := strings.ToLower(users[0].Text)
		for _, phrase := range confusionPhrases {
			if strings.Contains(text, phrase) {
				out.IsVeto = true
				out.Reasoning = fmt.Sprintf("respondent appears confused: %q", phrase)
				return out, nil
			}
		}
	}
	out.Reasoning = "no confusion detected"
	return out, nil
}

// ConsecutiveExhaustionScorer counts trailing exhaustion responses and, at
// the threshold, blocks strategies that would keep asking for more of the
// same.
type ConsecutiveExhaustionScorer struct {
	Threshold int
}

func NewConsecutiveExhaustionScorer(params map[string]any) *ConsecutiveExhaustionScorer {
	return &ConsecutiveExhaustionScorer{Threshold: intParam(params, "threshold", 3)}
}

func (*ConsecutiveExhaustionScorer) ID() string { return "consecutive_exhaustion" }

var exhaustionVetoTargets = map[string]bool{"deepen": true, "broaden": true, "cover_element": true}

func (s *ConsecutiveExhaustionScorer) Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error) {
	out := graph.TierOneOutput{ScorerID: s.ID()}

	patterns := methodology.DefaultExhaustionPatterns
	if ctx.Methodology != nil {
		patterns = ctx.Methodology.EffectiveExhaustionPatterns()
	}

	streak := 0
	for _, u := range ctx.LastUserUtterances(s.Threshold + 2) {
		if !matchesExhaustion(u.Text, patterns) {
			break
		}
		streak++
	}

	out.Signals = map[string]any{"streak": streak}
	if streak >= s.Threshold && exhaustionVetoTargets[candidate.StrategyID] {
		out.IsVeto = true
		out.Reasoning = fmt.Sprintf("%d consecutive exhaustion responses", streak)
	} else {
		out.Reasoning = fmt.Sprintf("exhaustion streak %d", streak)
	}
	return out, nil
}

func matchesExhaustion(text string, patterns []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.Trim(normalized, ".!?,")
	for _, p := range patterns {
		if normalized == p || strings.HasPrefix(normalized, p+" ") || strings.Contains(normalized, " "+p) {
			return true
		}
	}
	return false
}

// repetitionPatterns mark "fishing" questions that repeatedly ask for more.
var repetitionPatterns = []string{"what else", "what other", "any other", "anything else"}

// QuestionRepetitionScorer stops the interview from asking "what else" over
// and over. The running counter lives on GraphState and is advanced by the
// session service; this scorer vetoes when the proposed question would push
// it to the threshold.
type QuestionRepetitionScorer struct {
	Threshold int
}

func NewQuestionRepetitionScorer(params map[string]any) *QuestionRepetitionScorer {
	return &QuestionRepetitionScorer{Threshold: intParam(params, "threshold", 3)}
}

func (*QuestionRepetitionScorer) ID() string { return "question_repetition" }

var repetitionVetoTargets = map[string]bool{"broaden": true, "cover_element": true}

func (s *QuestionRepetitionScorer) Evaluate(ctx *Context, candidate *Candidate) (graph.TierOneOutput, error) {
	out := graph.TierOneOutput{ScorerID: s.ID()}

	if !MatchesRepetitionPattern(candidate.Focus.Description) {
		out.Reasoning = "proposed question is not a repetition pattern"
		return out, nil
	}

	count := 0
	if ctx.State != nil {
		count = ctx.State.RepetitionCount
	}
	out.Signals = map[string]any{"repetition_count": count}
	if count+1 >= s.Threshold && repetitionVetoTargets[candidate.StrategyID] {
		out.IsVeto = true
		out.Reasoning = fmt.Sprintf("repetition counter would reach %d", count+1)
	} else {
		out.Reasoning = fmt.Sprintf("repetition counter at %d", count)
	}
	return out, nil
}

// MatchesRepetitionPattern reports whether text is a "what else" style
// question. The session service uses it to advance or reset the counter.
func MatchesRepetitionPattern(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range repetitionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// focusTerms extracts the content words of the candidate's focus: element
// terms when an element is in focus, otherwise the longer words of the
// focus description.
func focusTerms(ctx *Context, candidate *Candidate) []string {
	if element := ctx.Element(candidate.Focus.ElementID); element != nil {
		terms := make([]string, 0, len(element.Terms()))
		for _, t := range element.Terms() {
			terms = append(terms, strings.ToLower(t))
		}
		return terms
	}
	if node := ctx.Node(candidate.Focus.NodeID); node != nil {
		return []string{strings.ToLower(node.Label)}
	}

	var terms []string
	for _, word := range strings.Fields(strings.ToLower(candidate.Focus.Description)) {
		word = strings.Trim(word, ".,!?\"'")
		if len(word) > 3 && !stopWords[word] {
			terms = append(terms, word)
		}
	}
	return terms
}

var stopWords = map[string]bool{
	"about": true, "what": true, "which": true, "this": true, "that": true,
	"with": true, "your": true, "more": true, "else": true, "explore": true,
	"aspects": true, "tell": true,
}
