package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/observability"
)

// tierOneOrder is the deterministic evaluation order of Tier-1 scorers.
var tierOneOrder = []string{
	"knowledge_ceiling",
	"element_exhausted",
	"recent_redundancy",
	"clarification_veto",
	"consecutive_exhaustion",
	"question_repetition",
}

// tierTwoOrder is the deterministic evaluation order of Tier-2 scorers.
var tierTwoOrder = []string{
	"coverage_gap",
	"ambiguity",
	"depth_breadth_balance",
	"engagement",
	"strategy_diversity",
	"novelty",
	"saturation",
	"cluster_saturation",
	"contrast_opportunity",
	"peripheral_readiness",
}

// Engine runs the two-tier scoring pass. Construction fails fast on a
// weight vector that does not sum to one.
type Engine struct {
	tier1       []TierOneScorer
	tier2       []TierTwoScorer
	vetoOnFirst bool
	logger      *slog.Logger
}

// NewEngine assembles the scorer set from configuration. Enabled Tier-2
// weights must sum to 1.0 within cfg.WeightTolerance; a mismatch is a fatal
// configuration error.
func NewEngine(cfg *config.ScoringConfig, depthTarget int) (*Engine, error) {
	if cfg == nil {
		cfg = &config.ScoringConfig{}
	}
	scorers := cfg.Scorers
	if scorers == nil {
		scorers = config.DefaultScorerConfigs()
	}
	tolerance := cfg.WeightTolerance
	if tolerance == 0 {
		tolerance = 0.01
	}

	e := &Engine{
		vetoOnFirst: cfg.VetoOnFirst == nil || *cfg.VetoOnFirst,
		logger:      slog.Default(),
	}

	for _, id := range tierOneOrder {
		sc, ok := scorers[id]
		if !ok || !sc.IsEnabled() {
			continue
		}
		e.tier1 = append(e.tier1, newTierOneScorer(id, sc.Params))
	}

	depth := NewDepthMetric(cfg.DepthMetric, depthTarget)
	var weightSum float64
	for _, id := range tierTwoOrder {
		sc, ok := scorers[id]
		if !ok || !sc.IsEnabled() {
			continue
		}
		scorer := newTierTwoScorer(id, sc.Weight, sc.Params, depth)
		e.tier2 = append(e.tier2, scorer)
		weightSum += scorer.Weight()
	}

	if math.Abs(weightSum-1.0) > tolerance {
		return nil, fmt.Errorf("enabled tier-2 scorer weights sum to %.4f, want 1.0 ± %.2f", weightSum, tolerance)
	}
	return e, nil
}

func newTierOneScorer(id string, params map[string]any) TierOneScorer {
	switch id {
	case "knowledge_ceiling":
		return KnowledgeCeilingScorer{}
	case "element_exhausted":
		return NewElementExhaustedScorer(params)
	case "recent_redundancy":
		return NewRecentRedundancyScorer(params)
	case "clarification_veto":
		return NewClarificationVetoScorer(params)
	case "consecutive_exhaustion":
		return NewConsecutiveExhaustionScorer(params)
	case "question_repetition":
		return NewQuestionRepetitionScorer(params)
	}
	panic("unknown tier-1 scorer: " + id)
}

func newTierTwoScorer(id string, weight float64, params map[string]any, depth DepthMetric) TierTwoScorer {
	switch id {
	case "coverage_gap":
		return NewCoverageGapScorer(weight)
	case "ambiguity":
		return NewAmbiguityScorer(weight)
	case "depth_breadth_balance":
		return NewDepthBreadthBalanceScorer(weight, depth)
	case "engagement":
		return NewEngagementScorer(weight, params)
	case "strategy_diversity":
		return NewStrategyDiversityScorer(weight)
	case "novelty":
		return NewNoveltyScorer(weight)
	case "saturation":
		return NewSaturationScorer(weight, params)
	case "cluster_saturation":
		return NewClusterSaturationScorer(weight)
	case "contrast_opportunity":
		return NewContrastOpportunityScorer(weight)
	case "peripheral_readiness":
		return NewPeripheralReadinessScorer(weight, params)
	}
	panic("unknown tier-2 scorer: " + id)
}

// ScoreCandidate runs the full two-tier pass for one candidate. A scorer
// error is fatal for the turn; vetoes are ordinary results.
func (e *Engine) ScoreCandidate(ctx *Context, candidate *Candidate) (*graph.CandidateTrace, error) {
	trace := &graph.CandidateTrace{
		StrategyID: candidate.StrategyID,
		Focus:      candidate.Focus,
		BaseScore:  candidate.PriorityBase,
		FinalScore: candidate.PriorityBase,
		ReasoningTrace: []string{
			fmt.Sprintf("base=%.2f", candidate.PriorityBase),
		},
	}

	for _, scorer := range e.tier1 {
		out, err := scorer.Evaluate(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("tier-1 scorer %s failed: %w", scorer.ID(), err)
		}
		trace.TierOne = append(trace.TierOne, out)
		if !out.IsVeto {
			continue
		}
		observability.RecordVeto(context.Background(), scorer.ID())
		trace.ReasoningTrace = append(trace.ReasoningTrace,
			fmt.Sprintf("veto by %s: %s", scorer.ID(), out.Reasoning))
		if trace.VetoedBy == "" {
			trace.VetoedBy = scorer.ID()
		}
		if e.vetoOnFirst {
			break
		}
	}
	if trace.VetoedBy != "" {
		trace.FinalScore = 0
		trace.TierTwo = nil
		return trace, nil
	}

	for _, scorer := range e.tier2 {
		out, err := scorer.Score(ctx, candidate)
		if err != nil {
			// Tier-2 failures are never silently dropped.
			return nil, fmt.Errorf("tier-2 scorer %s failed: %w", scorer.ID(), err)
		}
		trace.TierTwo = append(trace.TierTwo, out)
		trace.FinalScore += out.Contribution
		trace.ReasoningTrace = append(trace.ReasoningTrace,
			fmt.Sprintf("%s: raw=%.2f contribution=%.3f (%s)", scorer.ID(), out.RawScore, out.Contribution, out.Reasoning))
	}
	return trace, nil
}

// ScoreAll scores every candidate and sorts the results: non-vetoed first,
// then final score descending.
func (e *Engine) ScoreAll(ctx *Context, candidates []*Candidate) ([]*graph.CandidateTrace, error) {
	results := make([]*graph.CandidateTrace, 0, len(candidates))
	for _, candidate := range candidates {
		trace, err := e.ScoreCandidate(ctx, candidate)
		if err != nil {
			return nil, err
		}
		results = append(results, trace)
	}

	sort.SliceStable(results, func(i, j int) bool {
		iVetoed, jVetoed := results[i].VetoedBy != "", results[j].VetoedBy != ""
		if iVetoed != jVetoed {
			return !iVetoed
		}
		return results[i].FinalScore > results[j].FinalScore
	})
	return results, nil
}

// TierOneIDs returns the enabled Tier-1 scorer ids in evaluation order.
func (e *Engine) TierOneIDs() []string {
	out := make([]string, len(e.tier1))
	for i, s := range e.tier1 {
		out[i] = s.ID()
	}
	return out
}

// TierTwoIDs returns the enabled Tier-2 scorer ids in evaluation order.
func (e *Engine) TierTwoIDs() []string {
	out := make([]string, len(e.tier2))
	for i, s := range e.tier2 {
		out[i] = s.ID()
	}
	return out
}
