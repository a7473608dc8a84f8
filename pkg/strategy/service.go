package strategy

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/graph"
	"github.com/kadirpekel/inquest/pkg/scoring"
)

// Selection is the outcome of one strategy-selection pass.
type Selection struct {
	Winner   *graph.CandidateTrace
	Strategy *Strategy
	Phase    string

	// Alternatives are the runner-up candidates that cleared the configured
	// score floor, best first.
	Alternatives []*graph.CandidateTrace

	// Traces holds every scored candidate, winner flagged, for persistence.
	Traces []*graph.CandidateTrace

	// Fallback is set when every enumerated candidate was vetoed and the
	// winner came from the emergency ladder instead of scoring.
	Fallback bool
}

// Service enumerates candidates per phase and delegates scoring to the
// engine.
type Service struct {
	catalog    map[string]*Strategy
	ordered    []*Strategy
	engine     *scoring.Engine
	phases     config.PhasesConfig
	altCount   int
	altMinimum float64
	logger     *slog.Logger
}

// NewService builds the selection service over a catalog. A nil catalog
// means DefaultCatalog.
func NewService(catalog []*Strategy, engine *scoring.Engine, cfg *config.ScoringConfig, phases config.PhasesConfig) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("strategy service requires a scoring engine")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	altCount := 3
	altMinimum := 0.0
	if cfg != nil {
		if cfg.AlternativesCount > 0 {
			altCount = cfg.AlternativesCount
		}
		altMinimum = cfg.AlternativesMinScore
	}

	s := &Service{
		catalog:    make(map[string]*Strategy, len(catalog)),
		ordered:    catalog,
		engine:     engine,
		phases:     phases,
		altCount:   altCount,
		altMinimum: altMinimum,
		logger:     slog.Default(),
	}
	for _, st := range catalog {
		s.catalog[st.ID] = st
	}
	return s, nil
}

// Strategy resolves a catalog entry by id.
func (s *Service) Strategy(id string) *Strategy {
	return s.catalog[id]
}

// Select runs one full selection pass: phase resolution, candidate
// enumeration, scoring, winner and alternatives, emergency fallback. The
// winner's strategy id is appended to the state's strategy history.
func (s *Service) Select(ctx *scoring.Context) (*Selection, error) {
	phase := PhaseForTurn(ctx.State.TurnCount, s.phases)
	ctx.Phase = phase
	ctx.State.Phase = phase

	candidates := s.enumerate(ctx, phase)
	if len(candidates) == 0 {
		return s.fallback(ctx, phase, nil)
	}

	traces, err := s.engine.ScoreAll(ctx, candidates)
	if err != nil {
		return nil, err
	}

	if traces[0].VetoedBy != "" {
		// ScoreAll sorts non-vetoed first; a vetoed head means a clean
		// sweep.
		s.logger.Warn("all candidates vetoed, falling back",
			"session_id", ctx.SessionID, "candidates", len(traces))
		return s.fallback(ctx, phase, traces)
	}

	winner := traces[0]
	winner.IsWinner = true

	var alternatives []*graph.CandidateTrace
	for _, trace := range traces[1:] {
		if trace.VetoedBy != "" || len(alternatives) == s.altCount {
			break
		}
		if trace.FinalScore >= s.altMinimum {
			alternatives = append(alternatives, trace)
		}
	}

	ctx.State.StrategyHistory = append(ctx.State.StrategyHistory, winner.StrategyID)
	s.logger.Debug("strategy selected",
		"session_id", ctx.SessionID,
		"strategy", winner.StrategyID,
		"score", winner.FinalScore,
		"phase", phase,
		"alternatives", len(alternatives))

	return &Selection{
		Winner:       winner,
		Strategy:     s.catalog[winner.StrategyID],
		Phase:        phase,
		Alternatives: alternatives,
		Traces:       traces,
	}, nil
}

// ForceClosing returns a synthetic closing selection without scoring, used
// when the session reaches its turn cap.
func (s *Service) ForceClosing(ctx *scoring.Context) (*Selection, error) {
	phase := PhaseForTurn(ctx.State.TurnCount, s.phases)
	ctx.Phase = phase
	ctx.State.Phase = phase

	closing := s.catalog["closing"]
	if closing == nil {
		return nil, fmt.Errorf("closing strategy missing from catalog")
	}
	winner := &graph.CandidateTrace{
		StrategyID:     closing.ID,
		Focus:          graph.Focus{Type: graph.FocusClosing, Description: "Wrap up and invite any final thoughts", Confidence: 1.0},
		BaseScore:      closing.PriorityBase,
		FinalScore:     closing.PriorityBase,
		ReasoningTrace: []string{"turn cap reached, closing forced"},
		IsWinner:       true,
	}
	ctx.State.StrategyHistory = append(ctx.State.StrategyHistory, closing.ID)
	return &Selection{
		Winner:   winner,
		Strategy: closing,
		Phase:    phase,
		Traces:   []*graph.CandidateTrace{winner},
	}, nil
}

// enumerate produces every (strategy, focus) candidate for the phase.
func (s *Service) enumerate(ctx *scoring.Context, phase string) []*scoring.Candidate {
	var out []*scoring.Candidate
	for _, st := range s.ordered {
		if !st.Enabled || st.EmergencyOnly || !st.AvailableIn(phase) {
			continue
		}
		for _, focus := range s.focusesFor(st, ctx) {
			out = append(out, &scoring.Candidate{
				StrategyID:   st.ID,
				TypeCategory: st.TypeCategory,
				PriorityBase: st.PriorityBase,
				Focus:        focus,
			})
		}
	}
	return out
}

func (s *Service) focusesFor(st *Strategy, ctx *scoring.Context) []graph.Focus {
	switch st.ID {
	case "deepen":
		if node := mostRecentNode(ctx); node != nil {
			return []graph.Focus{{
				Type:        graph.FocusDepthExploration,
				NodeID:      node.ID,
				Description: fmt.Sprintf("Tell me more about %s", node.Label),
				Confidence:  node.Confidence,
			}}
		}
		return []graph.Focus{{
			Type:        graph.FocusDepthExploration,
			Description: "Explore the respondent's first reactions in more depth",
			Confidence:  0.5,
		}}

	case "laddering":
		node := mostRecentNode(ctx)
		if node == nil {
			return nil
		}
		return []graph.Focus{{
			Type:        graph.FocusDepthExploration,
			NodeID:      node.ID,
			Description: fmt.Sprintf("Why is %s important to you?", node.Label),
			Confidence:  node.Confidence,
		}}

	case "broaden":
		return []graph.Focus{{
			Type:        graph.FocusBreadthExploration,
			Description: "Explore new aspects",
			Confidence:  1.0,
		}}

	case "cover_element":
		if ctx.State.Coverage == nil {
			return nil
		}
		var focuses []graph.Focus
		for _, elementID := range ctx.State.Coverage.Uncovered() {
			element := ctx.Element(elementID)
			if element == nil {
				continue
			}
			focuses = append(focuses, graph.Focus{
				Type:        graph.FocusCoverageGap,
				ElementID:   element.ID,
				Description: fmt.Sprintf("Bring up %s", element.Label),
				Confidence:  1.0,
			})
		}
		return focuses

	case "synthesis":
		if ctx.State.NodeCount < 3 {
			return nil
		}
		return []graph.Focus{{
			Type:        graph.FocusReflection,
			Description: "Summarize the key points so far and check the connections",
			Confidence:  1.0,
		}}

	case "bridge":
		if ctx.State.OrphanCount == 0 {
			return nil
		}
		return []graph.Focus{{
			Type:        graph.FocusBreadthExploration,
			Description: "Connect an idea mentioned in passing back to the main thread",
			Confidence:  1.0,
		}}

	case "contrast":
		if ctx.State.NodeCount < 2 {
			return nil
		}
		return []graph.Focus{{
			Type:        graph.FocusDepthExploration,
			Description: "Ask about a situation where the opposite would be true",
			Confidence:  1.0,
		}}

	case "ease":
		return []graph.Focus{{
			Type:        graph.FocusReflection,
			Description: "Ask a light, comfortable question",
			Confidence:  1.0,
		}}

	case "closing":
		if ctx.State.TurnCount < st.MinTurns {
			return nil
		}
		return []graph.Focus{{
			Type:        graph.FocusClosing,
			Description: "Wrap up and invite any final thoughts",
			Confidence:  1.0,
		}}
	}
	return nil
}

// fallback implements the all-vetoed emergency ladder: closing when
// eligible, then reflection, then a bare broaden.
func (s *Service) fallback(ctx *scoring.Context, phase string, traces []*graph.CandidateTrace) (*Selection, error) {
	var st *Strategy
	var focus graph.Focus

	closing := s.catalog["closing"]
	reflection := s.catalog["reflection"]
	switch {
	case closing != nil && closing.Enabled && ctx.State.TurnCount >= closing.MinTurns:
		st = closing
		focus = graph.Focus{Type: graph.FocusClosing, Description: "Wrap up and invite any final thoughts", Confidence: 1.0}
	case reflection != nil && reflection.Enabled:
		st = reflection
		focus = graph.Focus{Type: graph.FocusReflection, Description: "Reflect the respondent's own words back to them", Confidence: 1.0}
	default:
		st = s.catalog["broaden"]
		if st == nil {
			return nil, fmt.Errorf("no fallback strategy available")
		}
		focus = graph.Focus{Type: graph.FocusBreadthExploration, Description: "Explore new aspects", Confidence: 1.0}
	}

	winner := &graph.CandidateTrace{
		StrategyID:     st.ID,
		Focus:          focus,
		BaseScore:      st.PriorityBase,
		FinalScore:     st.PriorityBase,
		ReasoningTrace: []string{"emergency fallback: all candidates vetoed"},
		IsWinner:       true,
	}
	ctx.State.StrategyHistory = append(ctx.State.StrategyHistory, st.ID)

	return &Selection{
		Winner:   winner,
		Strategy: st,
		Phase:    phase,
		Traces:   append(traces, winner),
		Fallback: true,
	}, nil
}

func mostRecentNode(ctx *scoring.Context) *graph.Node {
	if len(ctx.Nodes) == 0 {
		return nil
	}
	return ctx.Nodes[len(ctx.Nodes)-1]
}
