package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voteagent/internal/bus"
	"voteagent/internal/decision"
	"voteagent/internal/domain"
	"voteagent/internal/executor"
	"voteagent/internal/prefs"
)

type fakeOracle struct {
	analysis domain.ProposalAnalysis
	err      error
}

func (f *fakeOracle) Analyze(ctx context.Context, proposalID, content string) (domain.ProposalAnalysis, error) {
	return f.analysis, f.err
}

type fakeHistory struct {
	records []domain.VoteRecord
}

func (f *fakeHistory) GetVotingHistory(ctx context.Context, userAddress, category string, limit int) ([]domain.VoteRecord, error) {
	return f.records, nil
}

type fakeVoteStore struct {
	mu    sync.Mutex
	votes map[string]domain.VoteRecord
}

func newFakeVoteStore() *fakeVoteStore {
	return &fakeVoteStore{votes: make(map[string]domain.VoteRecord)}
}

func (f *fakeVoteStore) GetVote(ctx context.Context, proposalID, userAddress string) (*domain.VoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.votes[proposalID+"/"+userAddress]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeVoteStore) PutVote(ctx context.Context, r domain.VoteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[r.ProposalID+"/"+r.UserAddress] = r
	return nil
}

type fakeChain struct {
	mu      sync.Mutex
	choices map[string]domain.VoteChoice
}

func newFakeChain() *fakeChain {
	return &fakeChain{choices: make(map[string]domain.VoteChoice)}
}

func (f *fakeChain) SubmitVote(ctx context.Context, daoID, proposalID string, choice domain.VoteChoice, reason string, automated bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.choices[proposalID] = choice
	return "0xfeed", nil
}

func (f *fakeChain) submitted(proposalID string) (domain.VoteChoice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.choices[proposalID]
	return c, ok
}

type allowAll struct{}

func (allowAll) CanParticipate(ctx context.Context, userAddress string) (bool, string, error) {
	return true, "", nil
}

type fakeLocal struct {
	mu  sync.Mutex
	cfg *domain.AutomationConfig
}

func (f *fakeLocal) LoadConfig(ctx context.Context, userKey string) (*domain.AutomationConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, nil
}

func (f *fakeLocal) SaveConfig(ctx context.Context, userKey string, cfg domain.AutomationConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = &cfg
	return nil
}

type nopAudit struct{}

func (nopAudit) InsertDecision(ctx context.Context, proposalID string, d domain.VotingDecision, strategy string) error {
	return nil
}

type testRig struct {
	engine *Engine
	bus    *bus.Bus
	chain  *fakeChain
	votes  *fakeVoteStore
}

func newTestRig(t *testing.T, cfg domain.AutomationConfig, oracle decision.Oracle, history decision.HistorySource) *testRig {
	t.Helper()
	b := bus.New()
	votes := newFakeVoteStore()
	chain := newFakeChain()
	maker := decision.NewMaker(oracle, history, "0xuser")
	guard := executor.NewGuard(votes, chain, allowAll{}, nil, b)
	ps := prefs.NewStore("0xuser", nil, &fakeLocal{cfg: &cfg}, b)

	e := New(maker, guard, ps, nopAudit{}, b, "0xuser")
	e.delayUnit = 5 * time.Millisecond
	e.Start(context.Background())
	t.Cleanup(e.Shutdown)
	return &testRig{engine: e, bus: b, chain: chain, votes: votes}
}

func enabledConfig(preferences ...domain.VotingPreference) domain.AutomationConfig {
	cfg := domain.DefaultAutomationConfig()
	cfg.Enabled = true
	cfg.SchedulingDelayMinutes = 5
	cfg.Preferences = preferences
	return cfg
}

func proposal(id, category string) domain.ProposalForVoting {
	return domain.ProposalForVoting{
		ID:       id,
		Title:    "Proposal " + id,
		Category: category,
		DAOID:    "dao-1",
		Deadline: time.Now().Add(time.Hour),
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestPreferenceMatchSchedulesAndExecutes(t *testing.T) {
	cfg := enabledConfig(domain.VotingPreference{Category: "Treasury", Stance: domain.VoteAgainst, Weight: 85})
	oracle := &fakeOracle{analysis: domain.ProposalAnalysis{ConfidenceScore: 60, PredictedOutcome: "pass", Reasoning: "likely passes"}}
	rig := newTestRig(t, cfg, oracle, &fakeHistory{})

	var made DecisionMade
	decided := make(chan struct{})
	rig.bus.On(bus.EventDecisionMade, func(p any) {
		made = p.(DecisionMade)
		close(decided)
	})
	executed := make(chan struct{})
	rig.bus.On(bus.EventVoteExecuted, func(p any) {
		close(executed)
	})

	rig.bus.Emit(bus.EventProposalObserved, proposal("prop-1", "Treasury"))
	waitFor(t, decided, "decision-made")

	if made.Strategy != decision.StrategyPreference {
		t.Errorf("strategy = %q, want %q", made.Strategy, decision.StrategyPreference)
	}
	if made.Decision.Vote != domain.VoteAgainst || made.Decision.Confidence != 85 {
		t.Errorf("decision = %s/%d, want against/85", made.Decision.Vote, made.Decision.Confidence)
	}
	if made.Decision.RequiresApproval {
		t.Error("preference match above threshold should not require approval")
	}

	waitFor(t, executed, "vote-executed")
	if choice, ok := rig.chain.submitted("prop-1"); !ok || choice != domain.VoteAgainst {
		t.Errorf("submitted choice = %v %v, want against", choice, ok)
	}
	rec, err := rig.votes.GetVote(context.Background(), "prop-1", "0xuser")
	if err != nil || rec == nil {
		t.Fatalf("vote record missing: %v", err)
	}
	if rec.TxHash != "0xfeed" || !rec.Automated {
		t.Errorf("record = %+v, want automated with tx 0xfeed", rec)
	}
}

func TestThinHistoryParksForApproval(t *testing.T) {
	oracle := &fakeOracle{analysis: domain.ProposalAnalysis{ConfidenceScore: 50, PredictedOutcome: "unknown"}}
	rig := newTestRig(t, enabledConfig(), oracle, &fakeHistory{})

	parked := make(chan struct{})
	var req ApprovalRequest
	rig.bus.On(bus.EventApprovalRequired, func(p any) {
		req = p.(ApprovalRequest)
		close(parked)
	})

	rig.bus.Emit(bus.EventProposalObserved, proposal("prop-2", "Grants"))
	waitFor(t, parked, "approval-required")

	if req.Decision.Vote != domain.VoteAbstain {
		t.Errorf("parked vote = %s, want abstain", req.Decision.Vote)
	}
	if got := rig.engine.ActiveTasks(); len(got) != 0 {
		t.Errorf("nothing should be scheduled before approval, got %v", got)
	}
	if got := rig.engine.PendingApprovals(); len(got) != 1 || got[0] != "prop-2" {
		t.Errorf("pending approvals = %v, want [prop-2]", got)
	}

	executed := make(chan struct{})
	rig.bus.On(bus.EventVoteExecuted, func(p any) { close(executed) })
	if err := rig.engine.Approve("prop-2"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	waitFor(t, executed, "vote-executed after approval")
}

func TestConflictEmitsBothEventsAndParks(t *testing.T) {
	cfg := enabledConfig(domain.VotingPreference{Category: "Protocol", Stance: domain.VoteFor, Weight: 80})
	oracle := &fakeOracle{analysis: domain.ProposalAnalysis{ConfidenceScore: 90, PredictedOutcome: "fail", Reasoning: "quorum unlikely"}}
	rig := newTestRig(t, cfg, oracle, &fakeHistory{})

	conflicted := make(chan struct{})
	parked := make(chan struct{})
	rig.bus.On(bus.EventConflictDetected, func(p any) { close(conflicted) })
	rig.bus.On(bus.EventApprovalRequired, func(p any) { close(parked) })

	rig.bus.Emit(bus.EventProposalObserved, proposal("prop-3", "Protocol"))
	waitFor(t, conflicted, "conflict-detected")
	waitFor(t, parked, "approval-required")

	if got := rig.engine.ActiveTasks(); len(got) != 0 {
		t.Errorf("conflicting decision must not schedule, got %v", got)
	}

	if !rig.engine.Reject("prop-3") {
		t.Fatal("reject should find the parked decision")
	}
	if err := rig.engine.Approve("prop-3"); err == nil {
		t.Error("approve after reject should fail")
	}
}

func TestDisabledAutomationRecordsButNeverSchedules(t *testing.T) {
	cfg := domain.DefaultAutomationConfig()
	oracle := &fakeOracle{err: errors.New("should not be called")}
	rig := newTestRig(t, cfg, oracle, &fakeHistory{})

	decided := make(chan struct{})
	rig.bus.On(bus.EventDecisionMade, func(p any) { close(decided) })

	rig.bus.Emit(bus.EventProposalObserved, proposal("prop-4", "Treasury"))
	waitFor(t, decided, "decision-made")

	if got := rig.engine.ActiveTasks(); len(got) != 0 {
		t.Errorf("disabled automation scheduled %v", got)
	}
	if got := rig.engine.PendingApprovals(); len(got) != 0 {
		t.Errorf("disabled automation parked %v", got)
	}
}

func TestCancelRemovesScheduledTask(t *testing.T) {
	cfg := enabledConfig(domain.VotingPreference{Category: "Treasury", Stance: domain.VoteFor, Weight: 90})
	oracle := &fakeOracle{analysis: domain.ProposalAnalysis{ConfidenceScore: 40, PredictedOutcome: "unknown"}}
	rig := newTestRig(t, cfg, oracle, &fakeHistory{})
	rig.engine.delayUnit = time.Minute

	created := make(chan struct{})
	cancelled := make(chan struct{})
	rig.bus.On(bus.EventScheduleCreated, func(p any) { close(created) })
	rig.bus.On(bus.EventScheduleCancelled, func(p any) { close(cancelled) })

	rig.bus.Emit(bus.EventProposalObserved, proposal("prop-5", "Treasury"))
	waitFor(t, created, "schedule-created")

	if !rig.engine.Cancel("prop-5") {
		t.Fatal("cancel should succeed for an active task")
	}
	waitFor(t, cancelled, "schedule-cancelled")
	if got := rig.engine.ActiveTasks(); len(got) != 0 {
		t.Errorf("task still active after cancel: %v", got)
	}
	if rig.engine.Cancel("prop-5") {
		t.Error("second cancel should report nothing to cancel")
	}

	if _, ok := rig.chain.submitted("prop-5"); ok {
		t.Error("cancelled task must not submit a vote")
	}
}

func TestUpdateConfigRefreshesEngine(t *testing.T) {
	oracle := &fakeOracle{analysis: domain.ProposalAnalysis{ConfidenceScore: 50, PredictedOutcome: "unknown"}}
	rig := newTestRig(t, enabledConfig(), oracle, &fakeHistory{})

	next := enabledConfig()
	next.Aggressiveness = domain.Conservative
	next.ConfidenceThreshold = 90
	if err := rig.engine.UpdateConfig(context.Background(), next); err != nil {
		t.Fatalf("update config: %v", err)
	}

	got := rig.engine.config()
	if got.Aggressiveness != domain.Conservative || got.ConfidenceThreshold != 90 {
		t.Errorf("engine config = %s/%d, want conservative/90", got.Aggressiveness, got.ConfidenceThreshold)
	}

	bad := enabledConfig()
	bad.ConfidenceThreshold = 10
	if err := rig.engine.UpdateConfig(context.Background(), bad); err == nil {
		t.Error("out-of-range threshold should be rejected")
	}
}
