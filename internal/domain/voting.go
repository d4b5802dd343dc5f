package domain

import (
	"fmt"
	"strings"
	"time"
)

type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

func (v VoteChoice) Valid() bool {
	switch v {
	case VoteFor, VoteAgainst, VoteAbstain:
		return true
	}
	return false
}

type Aggressiveness string

const (
	Conservative Aggressiveness = "conservative"
	Balanced     Aggressiveness = "balanced"
	Aggressive   Aggressiveness = "aggressive"
)

func (a Aggressiveness) Valid() bool {
	switch a {
	case Conservative, Balanced, Aggressive:
		return true
	}
	return false
}

// VotingPreference is a user-declared default stance for one proposal
// category. Weight expresses confidence in the stance (0-100), not
// voting power.
type VotingPreference struct {
	ID       string
	Category string
	Stance   VoteChoice
	Weight   int
}

// AutomationConfig is the user's per-category voting configuration. It is
// mutated only through the preference store's Update, which persists and
// rebroadcasts it.
type AutomationConfig struct {
	Enabled                bool
	Aggressiveness         Aggressiveness
	ConfidenceThreshold    int
	SchedulingDelayMinutes int
	Preferences            []VotingPreference
}

const (
	MinConfidenceThreshold = 50
	MaxConfidenceThreshold = 95
	MinSchedulingDelay     = 5
	MaxSchedulingDelay     = 120
)

// DefaultAutomationConfig is the safe fallback when no stored configuration
// exists: automation off, no preferences.
func DefaultAutomationConfig() AutomationConfig {
	return AutomationConfig{
		Enabled:                false,
		Aggressiveness:         Balanced,
		ConfidenceThreshold:    70,
		SchedulingDelayMinutes: 30,
	}
}

// NormalizeCategory is the canonical form used for preference matching and
// the uniqueness invariant.
func NormalizeCategory(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c AutomationConfig) Validate() error {
	if !c.Aggressiveness.Valid() {
		return fmt.Errorf("invalid aggressiveness %q", c.Aggressiveness)
	}
	if c.ConfidenceThreshold < MinConfidenceThreshold || c.ConfidenceThreshold > MaxConfidenceThreshold {
		return fmt.Errorf("confidence threshold %d out of range [%d, %d]",
			c.ConfidenceThreshold, MinConfidenceThreshold, MaxConfidenceThreshold)
	}
	if c.SchedulingDelayMinutes < MinSchedulingDelay || c.SchedulingDelayMinutes > MaxSchedulingDelay {
		return fmt.Errorf("scheduling delay %d out of range [%d, %d] minutes",
			c.SchedulingDelayMinutes, MinSchedulingDelay, MaxSchedulingDelay)
	}
	seen := make(map[string]bool, len(c.Preferences))
	for _, p := range c.Preferences {
		key := NormalizeCategory(p.Category)
		if key == "" {
			return fmt.Errorf("preference has empty category")
		}
		if seen[key] {
			return fmt.Errorf("duplicate preference category %q", p.Category)
		}
		seen[key] = true
		if !p.Stance.Valid() {
			return fmt.Errorf("preference %q has invalid stance %q", p.Category, p.Stance)
		}
		if p.Weight < 0 || p.Weight > 100 {
			return fmt.Errorf("preference %q has weight %d out of range [0, 100]", p.Category, p.Weight)
		}
	}
	return nil
}

// PreferenceFor returns the preference matching the category
// case-insensitively, if any.
func (c AutomationConfig) PreferenceFor(category string) (VotingPreference, bool) {
	key := NormalizeCategory(category)
	for _, p := range c.Preferences {
		if NormalizeCategory(p.Category) == key {
			return p, true
		}
	}
	return VotingPreference{}, false
}

// ProposalForVoting is an immutable snapshot of a governance proposal taken
// when the engine first observes it. Later changes to the underlying
// proposal do not affect an in-flight decision.
type ProposalForVoting struct {
	ID          string
	Title       string
	Description string
	Category    string
	DAOID       string
	Deadline    time.Time
	OnChainID   string
}

// OpenAt reports whether the proposal deadline has not yet passed. A zero
// deadline means no deadline is known and the proposal is treated as open.
func (p ProposalForVoting) OpenAt(now time.Time) bool {
	return p.Deadline.IsZero() || now.Before(p.Deadline)
}

// VotingDecision is produced fresh per proposal and never mutated; a
// changed mind requires a new decision cycle.
type VotingDecision struct {
	Vote             VoteChoice
	Confidence       int
	Reasoning        string
	RequiresApproval bool
}

// VoteRecord is the durable (proposal, user) vote fact persisted after a
// successful submission. Its existence is what blocks duplicate voting.
type VoteRecord struct {
	ID          string
	ProposalID  string
	UserAddress string
	Choice      VoteChoice
	Category    string
	Reason      string
	Automated   bool
	TxHash      string
	VotedAt     time.Time
}

// ProposalAnalysis is the analysis oracle's verdict on a proposal.
// PredictedOutcome is "pass", "fail", or "unknown".
type ProposalAnalysis struct {
	ConfidenceScore  int
	PredictedOutcome string
	Reasoning        string
}

const (
	OutcomePass    = "pass"
	OutcomeFail    = "fail"
	OutcomeUnknown = "unknown"
)

// ImpliedStance maps the predicted outcome to the stance the oracle
// effectively argues for. Unknown outcomes imply no stance.
func (a ProposalAnalysis) ImpliedStance() (VoteChoice, bool) {
	switch a.PredictedOutcome {
	case OutcomePass:
		return VoteFor, true
	case OutcomeFail:
		return VoteAgainst, true
	}
	return "", false
}
