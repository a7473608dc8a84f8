// Package strategy enumerates (strategy, focus) candidates for a turn, runs
// them through the scoring engine, and picks the winner with its
// alternatives.
package strategy

import (
	"fmt"

	"github.com/kadirpekel/inquest/pkg/config"
	"github.com/kadirpekel/inquest/pkg/scoring"
)

// Interview phases, deterministic from the turn count.
const (
	PhaseExploratory = "exploratory"
	PhaseFocused     = "focused"
	PhaseClosing     = "closing"
)

// Strategy is one questioning mode from the built-in catalog.
type Strategy struct {
	ID           string
	Name         string
	Description  string
	TypeCategory string
	PriorityBase float64
	Enabled      bool

	// MinTurns gates eligibility; only closing uses it today.
	MinTurns int

	// Phases lists the phases in which the strategy is enumerated. Empty
	// means all phases.
	Phases []string

	// EmergencyOnly strategies are never enumerated; they only serve as the
	// all-vetoed fallback.
	EmergencyOnly bool
}

// AvailableIn reports whether the strategy is enumerated in phase.
func (s *Strategy) AvailableIn(phase string) bool {
	if len(s.Phases) == 0 {
		return true
	}
	for _, p := range s.Phases {
		if p == phase {
			return true
		}
	}
	return false
}

// DefaultCatalog is the built-in strategy set. Methodology-flavored entries
// (laddering, synthesis, ease, bridge, contrast) ship alongside the generic
// ones; disabling is a config concern, not a code change.
func DefaultCatalog() []*Strategy {
	return []*Strategy{
		{
			ID:           "deepen",
			Name:         "Deepen",
			Description:  "Probe the respondent's most recent idea for underlying reasons and personal meaning.",
			TypeCategory: scoring.CategoryDepth,
			PriorityBase: 1.0,
			Enabled:      true,
		},
		{
			ID:           "laddering",
			Name:         "Laddering",
			Description:  "Ladder upward from a concrete attribute toward consequences and values by repeatedly asking why it matters.",
			TypeCategory: scoring.CategoryDepth,
			PriorityBase: 0.95,
			Enabled:      true,
			Phases:       []string{PhaseFocused, PhaseClosing},
		},
		{
			ID:           "cover_element",
			Name:         "Cover Element",
			Description:  "Steer the conversation toward a planned aspect of the concept that has not come up yet.",
			TypeCategory: scoring.CategoryCoverage,
			PriorityBase: 0.9,
			Enabled:      true,
			Phases:       []string{PhaseExploratory, PhaseFocused},
		},
		{
			ID:           "broaden",
			Name:         "Broaden",
			Description:  "Invite the respondent to bring up new aspects beyond what has been discussed.",
			TypeCategory: scoring.CategoryBreadth,
			PriorityBase: 0.8,
			Enabled:      true,
			Phases:       []string{PhaseExploratory, PhaseFocused},
		},
		{
			ID:           "synthesis",
			Name:         "Synthesis",
			Description:  "Summarize the respondent's key points back to them and ask whether the connections ring true.",
			TypeCategory: scoring.CategoryTransition,
			PriorityBase: 0.7,
			Enabled:      true,
			Phases:       []string{PhaseFocused, PhaseClosing},
		},
		{
			ID:           "bridge",
			Name:         "Bridge",
			Description:  "Connect an idea mentioned in passing back to the main thread of the conversation.",
			TypeCategory: scoring.CategoryPeripheral,
			PriorityBase: 0.6,
			Enabled:      true,
			Phases:       []string{PhaseFocused},
		},
		{
			ID:           "contrast",
			Name:         "Contrast",
			Description:  "Invite the respondent to consider an opposing view or a situation where the opposite holds.",
			TypeCategory: scoring.CategoryContrast,
			PriorityBase: 0.55,
			Enabled:      true,
			Phases:       []string{PhaseFocused},
		},
		{
			ID:           "ease",
			Name:         "Ease",
			Description:  "Ask a light, comfortable question to rebuild rapport.",
			TypeCategory: scoring.CategoryTransition,
			PriorityBase: 0.5,
			Enabled:      true,
			Phases:       []string{PhaseExploratory},
		},
		{
			ID:           "closing",
			Name:         "Closing",
			Description:  "Wrap up the interview, thank the respondent, and offer a final chance to add anything.",
			TypeCategory: scoring.CategoryClosing,
			PriorityBase: 0.6,
			Enabled:      true,
			MinTurns:     6,
		},
		{
			ID:            "reflection",
			Name:          "Reflection",
			Description:   "Reflect the respondent's own words back to them and let them elaborate freely.",
			TypeCategory:  scoring.CategoryReflection,
			PriorityBase:  0.3,
			Enabled:       true,
			EmergencyOnly: true,
		},
	}
}

// PhaseForTurn maps a turn count onto a phase using the configured turn
// budgets: exploratory for [0, E), focused for [E, E+F), closing after.
func PhaseForTurn(turnCount int, phases config.PhasesConfig) string {
	e := phases.Exploratory.NTurns
	f := phases.Focused.NTurns
	switch {
	case turnCount < e:
		return PhaseExploratory
	case turnCount < e+f:
		return PhaseFocused
	default:
		return PhaseClosing
	}
}

// validateCatalog rejects duplicate or empty ids at construction time.
func validateCatalog(catalog []*Strategy) error {
	seen := make(map[string]bool, len(catalog))
	for _, s := range catalog {
		if s.ID == "" {
			return fmt.Errorf("strategy with empty id in catalog")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate strategy id %q in catalog", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
