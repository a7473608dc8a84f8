package scoring

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/inquest/pkg/graph"
)

// tierTwoBase carries the identity and weight shared by all Tier-2 scorers.
type tierTwoBase struct {
	id     string
	weight float64
}

func (b tierTwoBase) ID() string      { return b.id }
func (b tierTwoBase) Weight() float64 { return b.weight }

func (b tierTwoBase) output(raw float64, reasoning string, sigs map[string]any) graph.TierTwoOutput {
	raw = clampFloat(raw, 0, 2)
	return graph.TierTwoOutput{
		ScorerID:     b.id,
		RawScore:     raw,
		Weight:       b.weight,
		Contribution: b.weight * raw,
		Reasoning:    reasoning,
		Signals:      sigs,
	}
}

// CoverageGapScorer favors candidates that close coverage gaps: uncovered
// elements count double, shallow ones count once.
type CoverageGapScorer struct {
	tierTwoBase
}

func NewCoverageGapScorer(weight float64) *CoverageGapScorer {
	return &CoverageGapScorer{tierTwoBase{"coverage_gap", weight}}
}

func (s *CoverageGapScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	gaps := 0
	if element := ctx.Element(candidate.Focus.ElementID); element != nil && ctx.State != nil && ctx.State.Coverage != nil {
		if cov, ok := ctx.State.Coverage.Element(element.ID); ok {
			switch {
			case !cov.Covered:
				gaps = 2
			case cov.Shallow:
				gaps = 1
			}
		}
	} else if ctx.State != nil && ctx.State.Coverage != nil {
		for _, cov := range ctx.State.Coverage.Elements {
			switch {
			case !cov.Covered:
				gaps += 2
			case cov.Shallow:
				gaps++
			}
		}
	}

	if candidate.TypeCategory != CategoryCoverage && gaps == 0 {
		return s.output(0.85, "no coverage gaps, non-coverage strategy", nil), nil
	}
	raw := clampFloat(1.0+float64(gaps)*0.15, 0.5, 1.8)
	return s.output(raw, fmt.Sprintf("%d coverage gap units", gaps), map[string]any{"gaps": gaps}), nil
}

// hedgeWords signal low-confidence phrasing in recent responses.
var hedgeWords = []string{
	"maybe", "i think", "i guess", "sort of", "kind of", "probably",
	"not sure", "perhaps", "i suppose",
}

// AmbiguityScorer boosts candidates when the respondent's recent statements
// are hedged or the focus node was extracted with low confidence; a
// clarifying follow-up is worth more then.
type AmbiguityScorer struct {
	tierTwoBase
}

func NewAmbiguityScorer(weight float64) *AmbiguityScorer {
	return &AmbiguityScorer{tierTwoBase{"ambiguity", weight}}
}

func (s *AmbiguityScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	hedges := 0
	for _, u := range ctx.LastUserUtterances(3) {
		text := strings.ToLower(u.Text)
		for _, hedge := range hedgeWords {
			hedges += strings.Count(text, hedge)
		}
	}

	confidence := 1.0
	if node := ctx.Node(candidate.Focus.NodeID); node != nil {
		confidence = node.Confidence
	}

	sigs := map[string]any{"hedges": hedges, "focus_confidence": confidence}
	switch {
	case hedges >= 3 || confidence < 0.5:
		return s.output(1.5, "low clarity: heavy hedging or low-confidence focus", sigs), nil
	case hedges >= 1 || confidence < 0.8:
		return s.output(1.2, "medium clarity", sigs), nil
	default:
		return s.output(0.9, "high clarity", sigs), nil
	}
}

// DepthBreadthBalanceScorer steers between going deeper and going wider
// depending on which dimension lags.
type DepthBreadthBalanceScorer struct {
	tierTwoBase
	depth DepthMetric
}

func NewDepthBreadthBalanceScorer(weight float64, depth DepthMetric) *DepthBreadthBalanceScorer {
	return &DepthBreadthBalanceScorer{tierTwoBase{"depth_breadth_balance", weight}, depth}
}

// balanceMargin below which the two dimensions count as balanced.
const balanceMargin = 0.15

func (s *DepthBreadthBalanceScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	breadth := 0.0
	if ctx.State != nil && ctx.State.Coverage != nil && ctx.State.Coverage.TotalCount > 0 {
		breadth = float64(ctx.State.Coverage.CoveredCount) / float64(ctx.State.Coverage.TotalCount)
	} else if ctx.State != nil {
		breadth = clampFloat(float64(len(ctx.State.NodesByType))/5.0, 0, 1)
	}
	depth := s.depth.Depth(ctx.State)

	sigs := map[string]any{"breadth": breadth, "depth": depth, "depth_metric": s.depth.Name()}

	isBreadthStrategy := candidate.TypeCategory == CategoryBreadth || candidate.TypeCategory == CategoryCoverage
	isDepthStrategy := candidate.TypeCategory == CategoryDepth
	if !isBreadthStrategy && !isDepthStrategy {
		return s.output(1.0, "strategy outside depth/breadth steering", sigs), nil
	}

	switch {
	case breadth < depth-balanceMargin:
		if isBreadthStrategy {
			return s.output(1.5, "breadth lags, breadth strategy favored", sigs), nil
		}
		return s.output(0.7, "breadth lags, depth strategy mismatched", sigs), nil
	case depth < breadth-balanceMargin:
		if isDepthStrategy {
			return s.output(1.5, "depth lags, depth strategy favored", sigs), nil
		}
		return s.output(0.7, "depth lags, breadth strategy mismatched", sigs), nil
	default:
		return s.output(1.1, "depth and breadth balanced", sigs), nil
	}
}

var elaborationMarkers = []string{"because", "for example", "for instance", "like when", "which means"}
var enthusiasmMarkers = []string{"!", "love", "really", "amazing", "great", "absolutely"}

// EngagementScorer measures conversational momentum and backs off from
// demanding strategies when the respondent's answers shrink.
type EngagementScorer struct {
	tierTwoBase
	MomentumThreshold float64
}

func NewEngagementScorer(weight float64, params map[string]any) *EngagementScorer {
	return &EngagementScorer{
		tierTwoBase:       tierTwoBase{"engagement", weight},
		MomentumThreshold: floatParam(params, "momentum_threshold", 60),
	}
}

func momentum(text string) float64 {
	lower := strings.ToLower(text)
	words := float64(len(strings.Fields(text)))
	elaboration := 0
	for _, marker := range elaborationMarkers {
		elaboration += strings.Count(lower, marker)
	}
	enthusiasm := 0
	for _, marker := range enthusiasmMarkers {
		enthusiasm += strings.Count(lower, marker)
	}
	return 5*words + 20*float64(elaboration) + 15*float64(enthusiasm)
}

func (s *EngagementScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	recent := ctx.LastUserUtterances(4)
	lowCount := 0
	var latest float64
	for i, u := range recent {
		m := momentum(u.Text)
		if i == 0 {
			latest = m
		}
		if m < s.MomentumThreshold {
			lowCount++
		}
	}

	sigs := map[string]any{"low_momentum_turns": lowCount, "latest_momentum": latest}
	isSimple := candidate.StrategyID == "ease" || candidate.TypeCategory == CategoryReflection || candidate.TypeCategory == CategoryClosing

	switch {
	case lowCount >= 3 && candidate.TypeCategory == CategoryDepth:
		return s.output(0.8, "momentum low, backing off depth", sigs), nil
	case lowCount >= 3 && isSimple:
		return s.output(1.2, "momentum low, simple strategy favored", sigs), nil
	case latest >= 2*s.MomentumThreshold && candidate.TypeCategory == CategoryDepth:
		return s.output(1.1, "momentum high, depth sustainable", sigs), nil
	default:
		return s.output(1.0, "momentum neutral", sigs), nil
	}
}

// StrategyDiversityScorer discounts a strategy the more it dominated the
// recent history.
type StrategyDiversityScorer struct {
	tierTwoBase
}

func NewStrategyDiversityScorer(weight float64) *StrategyDiversityScorer {
	return &StrategyDiversityScorer{tierTwoBase{"strategy_diversity", weight}}
}

func (s *StrategyDiversityScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	history := []string{}
	if ctx.State != nil {
		history = ctx.State.StrategyHistory
	}
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	occurrences := 0
	for _, id := range history {
		if id == candidate.StrategyID {
			occurrences++
		}
	}

	sigs := map[string]any{"recent_occurrences": occurrences}
	switch {
	case occurrences >= 3:
		return s.output(0.6, "strategy overused recently", sigs), nil
	case occurrences == 2:
		return s.output(0.8, "strategy used twice recently", sigs), nil
	default:
		return s.output(1.0, "strategy fresh", sigs), nil
	}
}

// NoveltyScorer favors focuses the conversation has not dwelled on.
type NoveltyScorer struct {
	tierTwoBase
}

func NewNoveltyScorer(weight float64) *NoveltyScorer {
	return &NoveltyScorer{tierTwoBase{"novelty", weight}}
}

func (s *NoveltyScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	terms := focusTerms(ctx, candidate)

	window := ctx.Conversation
	if len(window) > 8 {
		window = window[len(window)-8:]
	}
	mentions := 0
	for _, u := range window {
		text := strings.ToLower(u.Text)
		for _, term := range terms {
			mentions += strings.Count(text, term)
		}
	}

	sigs := map[string]any{"mentions": mentions}
	switch {
	case mentions <= 1:
		return s.output(1.2, "fresh topic", sigs), nil
	case mentions <= 3:
		return s.output(1.0, "topic lightly discussed", sigs), nil
	default:
		return s.output(0.7, "topic heavily discussed", sigs), nil
	}
}

// SaturationScorer estimates how much of the concept space remains unseen
// via the Chao1 richness estimator, and steers from depth toward breadth as
// the estimate saturates. It writes its metrics onto GraphState for
// downstream consumers.
type SaturationScorer struct {
	tierTwoBase
	RatioThreshold float64
}

func NewSaturationScorer(weight float64, params map[string]any) *SaturationScorer {
	return &SaturationScorer{
		tierTwoBase:    tierTwoBase{"saturation", weight},
		RatioThreshold: floatParam(params, "ratio_threshold", 0.90),
	}
}

func (s *SaturationScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	metrics := computeSaturation(ctx, s.RatioThreshold)
	if ctx.State != nil {
		ctx.State.Saturation = metrics
	}

	sigs := map[string]any{
		"chao1_ratio":          metrics.Chao1Ratio,
		"consecutive_low_info": metrics.ConsecutiveLowInfo,
		"is_saturated":         metrics.IsSaturated,
	}
	switch {
	case metrics.IsSaturated && candidate.TypeCategory == CategoryDepth:
		return s.output(0.7, "concept space saturated, depth discouraged", sigs), nil
	case metrics.IsSaturated && (candidate.TypeCategory == CategoryBreadth || candidate.TypeCategory == CategoryCoverage):
		return s.output(1.5, "concept space saturated, breadth favored", sigs), nil
	default:
		return s.output(1.0, "saturation neutral", sigs), nil
	}
}

// computeSaturation runs Chao1 over the per-type frequency histogram: each
// node type is a species, its active-node count the observation frequency.
func computeSaturation(ctx *Context, ratioThreshold float64) *graph.SaturationMetrics {
	metrics := &graph.SaturationMetrics{}

	byType := make(map[string]int)
	for _, n := range ctx.Nodes {
		byType[n.NodeType]++
	}

	sObs := float64(len(byType))
	var f1, f2 float64
	for _, count := range byType {
		switch count {
		case 1:
			f1++
		case 2:
			f2++
		}
	}

	if sObs > 0 {
		var chao1 float64
		if f2 > 0 {
			chao1 = sObs + (f1*f1)/(2*f2)
		} else {
			// Bias-corrected form avoids dividing by zero doubletons.
			chao1 = sObs + f1*(f1-1)/2
		}
		if chao1 > 0 {
			metrics.Chao1Ratio = clampFloat(sObs/chao1, 0, 1)
		}
	}

	if ctx.NewNodesThisTurn == 0 {
		metrics.ConsecutiveLowInfo = ctx.PrevConsecutiveLowInfo + 1
	} else {
		metrics.NewInfoRate = float64(ctx.NewNodesThisTurn) / float64(max(1, len(ctx.Nodes)))
	}
	metrics.IsSaturated = metrics.Chao1Ratio > ratioThreshold || metrics.ConsecutiveLowInfo >= 2
	return metrics
}

// ClusterSaturationScorer gives synthesis a bonus once the concept space
// saturates and consolidation beats further collection. Disabled by default.
type ClusterSaturationScorer struct {
	tierTwoBase
}

func NewClusterSaturationScorer(weight float64) *ClusterSaturationScorer {
	return &ClusterSaturationScorer{tierTwoBase{"cluster_saturation", weight}}
}

func (s *ClusterSaturationScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	if candidate.StrategyID != "synthesis" {
		return s.output(1.0, "not a synthesis candidate", nil), nil
	}
	if ctx.State != nil && ctx.State.Saturation != nil && ctx.State.Saturation.IsSaturated {
		return s.output(1.5, "saturated graph rewards synthesis", nil), nil
	}
	return s.output(1.0, "graph not saturated", nil), nil
}

// ContrastOpportunityScorer rewards contrast probes when the graph is dense
// enough for an opposing view to be meaningful. Disabled by default.
type ContrastOpportunityScorer struct {
	tierTwoBase
}

func NewContrastOpportunityScorer(weight float64) *ContrastOpportunityScorer {
	return &ContrastOpportunityScorer{tierTwoBase{"contrast_opportunity", weight}}
}

func (s *ContrastOpportunityScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	if candidate.TypeCategory != CategoryContrast {
		return s.output(1.0, "not a contrast candidate", nil), nil
	}
	if ctx.State == nil || ctx.State.NodeCount < 4 {
		return s.output(1.0, "too few nodes for contrast", nil), nil
	}
	density := float64(ctx.State.EdgeCount) / float64(ctx.State.NodeCount)
	if density >= 1.0 {
		return s.output(1.4, fmt.Sprintf("dense local graph (%.2f edges/node)", density), nil), nil
	}
	return s.output(1.0, "graph too sparse for contrast bonus", nil), nil
}

// PeripheralReadinessScorer rewards bridge strategies once enough orphaned
// material has accumulated to be worth connecting. Disabled by default.
type PeripheralReadinessScorer struct {
	tierTwoBase
	MinOrphans int
}

func NewPeripheralReadinessScorer(weight float64, params map[string]any) *PeripheralReadinessScorer {
	return &PeripheralReadinessScorer{
		tierTwoBase: tierTwoBase{"peripheral_readiness", weight},
		MinOrphans:  intParam(params, "min_orphans", 3),
	}
}

func (s *PeripheralReadinessScorer) Score(ctx *Context, candidate *Candidate) (graph.TierTwoOutput, error) {
	if candidate.StrategyID != "bridge" && candidate.TypeCategory != CategoryPeripheral {
		return s.output(1.0, "not a bridge candidate", nil), nil
	}
	if ctx.State != nil && ctx.State.OrphanCount >= s.MinOrphans {
		return s.output(1.3, fmt.Sprintf("%d orphan nodes ready for bridging", ctx.State.OrphanCount), nil), nil
	}
	return s.output(1.0, "not enough peripheral material", nil), nil
}
