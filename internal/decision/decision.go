// Package decision turns an observed proposal into a voting decision using
// three strategies in priority order: explicit preference match, historical
// voting inference, and a manual-review default. Preference matches are
// cross-checked against the analysis oracle for conflicts.
package decision

import (
	"context"
	"fmt"
	"log"

	"voteagent/internal/domain"
)

// Tuning constants for conflict detection and history inference.
const (
	conflictOracleThreshold = 85
	conflictWeightCeiling   = 90
	conservativeOracleCap   = 85
	aggressiveOracleBoost   = 10
	aggressiveOracleCap     = 95

	historySampleLimit   = 10
	historySampleMin     = 3
	historyMaxConfidence = 95

	neutralConfidence = 50
)

type Oracle interface {
	Analyze(ctx context.Context, proposalID, content string) (domain.ProposalAnalysis, error)
}

type HistorySource interface {
	GetVotingHistory(ctx context.Context, userAddress, category string, limit int) ([]domain.VoteRecord, error)
}

// Strategy names recorded in the decision audit trail.
const (
	StrategyPreference = "preference"
	StrategyHistory    = "history"
	StrategyDefault    = "default"
	StrategyDisabled   = "disabled"
)

// Result carries the decision plus the signals callers act on: whether the
// proposal may be scheduled at all, and whether a preference/oracle conflict
// was detected.
type Result struct {
	Decision domain.VotingDecision
	Schedule bool
	Conflict bool
	Strategy string
}

type Maker struct {
	oracle  Oracle
	history HistorySource
	userKey string
}

func NewMaker(oracle Oracle, history HistorySource, userKey string) *Maker {
	return &Maker{oracle: oracle, history: history, userKey: userKey}
}

// Decide computes a fresh VotingDecision for the proposal under the given
// automation config. When automation is disabled it returns immediately
// with Schedule=false and no decision work done.
func (m *Maker) Decide(ctx context.Context, p domain.ProposalForVoting, cfg domain.AutomationConfig) (Result, error) {
	if !cfg.Enabled {
		return Result{
			Decision: domain.VotingDecision{
				Vote:             domain.VoteAbstain,
				Confidence:       0,
				Reasoning:        "automation is disabled",
				RequiresApproval: true,
			},
			Schedule: false,
			Strategy: StrategyDisabled,
		}, nil
	}

	res := m.decideByStrategy(ctx, p, cfg)

	// Global gate: below-threshold confidence always needs a human,
	// regardless of which strategy produced the decision.
	if res.Decision.Confidence < cfg.ConfidenceThreshold {
		res.Decision.RequiresApproval = true
	}
	res.Schedule = true
	return res, nil
}

func (m *Maker) decideByStrategy(ctx context.Context, p domain.ProposalForVoting, cfg domain.AutomationConfig) Result {
	if pref, ok := cfg.PreferenceFor(p.Category); ok {
		return m.decideFromPreference(ctx, p, cfg, pref)
	}
	if res, ok := m.decideFromHistory(ctx, p); ok {
		return res
	}
	return Result{
		Decision: domain.VotingDecision{
			Vote:             domain.VoteAbstain,
			Confidence:       neutralConfidence,
			Reasoning:        "no matching preference and insufficient voting history; manual review required by default",
			RequiresApproval: true,
		},
		Strategy: StrategyDefault,
	}
}

func (m *Maker) decideFromPreference(ctx context.Context, p domain.ProposalForVoting, cfg domain.AutomationConfig, pref domain.VotingPreference) Result {
	analysis := m.analyze(ctx, p)
	oracleConfidence := adjustedOracleConfidence(analysis.ConfidenceScore, cfg.Aggressiveness)

	oracleStance, hasStance := analysis.ImpliedStance()
	if oracleConfidence >= conflictOracleThreshold &&
		hasStance && oracleStance != pref.Stance &&
		pref.Weight < conflictWeightCeiling {
		return Result{
			Decision: domain.VotingDecision{
				Vote:       pref.Stance,
				Confidence: pref.Weight,
				Reasoning: fmt.Sprintf(
					"preference for %q says vote %s (weight %d), but analysis predicts the proposal will %s (confidence %d); approval required due to the disagreement",
					pref.Category, pref.Stance, pref.Weight, analysis.PredictedOutcome, oracleConfidence),
				RequiresApproval: true,
			},
			Conflict: true,
			Strategy: StrategyPreference,
		}
	}

	return Result{
		Decision: domain.VotingDecision{
			Vote:       pref.Stance,
			Confidence: pref.Weight,
			Reasoning: fmt.Sprintf("matched preference for %q: vote %s (weight %d)",
				pref.Category, pref.Stance, pref.Weight),
			RequiresApproval: false,
		},
		Strategy: StrategyPreference,
	}
}

// analyze consults the oracle, degrading to a neutral verdict when the call
// fails; oracle unavailability is never surfaced as an error.
func (m *Maker) analyze(ctx context.Context, p domain.ProposalForVoting) domain.ProposalAnalysis {
	if m.oracle == nil {
		return domain.ProposalAnalysis{ConfidenceScore: neutralConfidence, PredictedOutcome: domain.OutcomeUnknown}
	}
	content := p.Title + "\n\n" + p.Description
	analysis, err := m.oracle.Analyze(ctx, p.ID, content)
	if err != nil {
		log.Printf("decision oracle unavailable proposal=%s: %v", p.ID, err)
		return domain.ProposalAnalysis{ConfidenceScore: neutralConfidence, PredictedOutcome: domain.OutcomeUnknown}
	}
	return analysis
}

func (m *Maker) decideFromHistory(ctx context.Context, p domain.ProposalForVoting) (Result, bool) {
	if m.history == nil {
		return Result{}, false
	}
	records, err := m.history.GetVotingHistory(ctx, m.userKey, p.Category, historySampleLimit)
	if err != nil {
		log.Printf("decision history lookup failed proposal=%s category=%s: %v", p.ID, p.Category, err)
		return Result{}, false
	}
	if len(records) < historySampleMin {
		return Result{}, false
	}

	counts := make(map[domain.VoteChoice]int)
	for _, r := range records {
		counts[r.Choice]++
	}
	// Records are newest first; on a tied count the modal choice used most
	// recently wins, keeping the result stable across runs.
	mode := records[0].Choice
	for _, r := range records[1:] {
		if counts[r.Choice] > counts[mode] {
			mode = r.Choice
		}
	}

	confidence := counts[mode] * 100 / len(records)
	if confidence > historyMaxConfidence {
		confidence = historyMaxConfidence
	}
	return Result{
		Decision: domain.VotingDecision{
			Vote:       mode,
			Confidence: confidence,
			Reasoning: fmt.Sprintf("voted %s on %d of the last %d %q proposals",
				mode, counts[mode], len(records), p.Category),
			RequiresApproval: false,
		},
		Strategy: StrategyHistory,
	}, true
}

// adjustedOracleConfidence applies the aggressiveness setting to the oracle
// confidence used for conflict checks only; stored decision confidence is
// never touched.
func adjustedOracleConfidence(score int, level domain.Aggressiveness) int {
	switch level {
	case domain.Conservative:
		if score > conservativeOracleCap {
			return conservativeOracleCap
		}
	case domain.Aggressive:
		score += aggressiveOracleBoost
		if score > aggressiveOracleCap {
			return aggressiveOracleCap
		}
	}
	return score
}
