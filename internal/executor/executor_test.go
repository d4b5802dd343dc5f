package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"voteagent/internal/bus"
	"voteagent/internal/domain"
)

type memVotes struct {
	records map[string]domain.VoteRecord
	getErr  error
	putErr  error
	puts    int
}

func newMemVotes() *memVotes {
	return &memVotes{records: make(map[string]domain.VoteRecord)}
}

func (m *memVotes) key(proposalID, user string) string { return proposalID + "|" + user }

func (m *memVotes) GetVote(ctx context.Context, proposalID, user string) (*domain.VoteRecord, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if r, ok := m.records[m.key(proposalID, user)]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memVotes) PutVote(ctx context.Context, r domain.VoteRecord) error {
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.records[m.key(r.ProposalID, r.UserAddress)] = r
	return nil
}

type fakeChain struct {
	txHash  string
	err     error
	submits int
}

func (f *fakeChain) SubmitVote(ctx context.Context, daoID, proposalID string, choice domain.VoteChoice, reason string, automated bool) (string, error) {
	f.submits++
	if f.err != nil {
		return "", f.err
	}
	return f.txHash, nil
}

type fakeAuth struct {
	allowed bool
	reason  string
	err     error
}

func (f *fakeAuth) CanParticipate(ctx context.Context, user string) (bool, string, error) {
	return f.allowed, f.reason, f.err
}

type fakeStatus struct {
	open bool
	err  error
}

func (f *fakeStatus) ProposalOpen(ctx context.Context, proposalID string) (bool, error) {
	return f.open, f.err
}

func openProposal() domain.ProposalForVoting {
	return domain.ProposalForVoting{
		ID:       "prop-1",
		DAOID:    "dao-1",
		Category: "Treasury",
		Deadline: time.Now().Add(time.Hour),
	}
}

func decision() domain.VotingDecision {
	return domain.VotingDecision{Vote: domain.VoteAgainst, Confidence: 85, Reasoning: "matched preference"}
}

type busSpy struct {
	executed []VoteExecuted
	failed   []VoteFailed
}

func spyOn(b *bus.Bus) *busSpy {
	spy := &busSpy{}
	b.On(bus.EventVoteExecuted, func(p any) { spy.executed = append(spy.executed, p.(VoteExecuted)) })
	b.On(bus.EventVoteFailed, func(p any) { spy.failed = append(spy.failed, p.(VoteFailed)) })
	return spy
}

func TestExecuteSuccess(t *testing.T) {
	votes := newMemVotes()
	chain := &fakeChain{txHash: "0xfeed"}
	b := bus.New()
	spy := spyOn(b)
	g := NewGuard(votes, chain, &fakeAuth{allowed: true}, &fakeStatus{open: true}, b)

	txHash, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if txHash != "0xfeed" {
		t.Errorf("txHash = %q, want 0xfeed", txHash)
	}
	if chain.submits != 1 {
		t.Errorf("submits = %d, want 1", chain.submits)
	}
	rec, _ := votes.GetVote(context.Background(), "prop-1", "0xabc")
	if rec == nil || rec.TxHash != "0xfeed" || !rec.Automated {
		t.Errorf("persisted record = %+v", rec)
	}
	if len(spy.executed) != 1 || spy.executed[0].TxHash != "0xfeed" {
		t.Errorf("vote-executed events = %+v", spy.executed)
	}
	if len(spy.failed) != 0 {
		t.Errorf("unexpected vote-failed events: %+v", spy.failed)
	}
}

func TestExecuteIdempotent(t *testing.T) {
	votes := newMemVotes()
	chain := &fakeChain{txHash: "0xfeed"}
	b := bus.New()
	spy := spyOn(b)
	g := NewGuard(votes, chain, &fakeAuth{allowed: true}, nil, b)

	if _, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc"); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	_, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc")
	if !errors.Is(err, ErrAlreadyVoted) {
		t.Fatalf("second Execute err = %v, want ErrAlreadyVoted", err)
	}
	if chain.submits != 1 {
		t.Errorf("submits = %d, want exactly 1", chain.submits)
	}
	if len(spy.failed) != 1 || !spy.failed[0].Skipped {
		t.Errorf("expected one skipped vote-failed event, got %+v", spy.failed)
	}
}

func TestExecuteProposalPastDeadline(t *testing.T) {
	chain := &fakeChain{txHash: "0xfeed"}
	b := bus.New()
	g := NewGuard(newMemVotes(), chain, &fakeAuth{allowed: true}, nil, b)

	p := openProposal()
	p.Deadline = time.Now().Add(-time.Minute)
	_, err := g.Execute(context.Background(), p, decision(), "0xabc")
	if !errors.Is(err, ErrProposalClosed) {
		t.Fatalf("err = %v, want ErrProposalClosed", err)
	}
	if chain.submits != 0 {
		t.Error("closed proposal must not be submitted")
	}
}

func TestExecuteProposalFinalizedRemotely(t *testing.T) {
	chain := &fakeChain{txHash: "0xfeed"}
	g := NewGuard(newMemVotes(), chain, &fakeAuth{allowed: true}, &fakeStatus{open: false}, bus.New())

	_, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc")
	if !errors.Is(err, ErrProposalClosed) {
		t.Fatalf("err = %v, want ErrProposalClosed", err)
	}
}

func TestExecuteStatusCheckerFailureDegrades(t *testing.T) {
	// A failing remote state check falls back to the local deadline check.
	chain := &fakeChain{txHash: "0xfeed"}
	g := NewGuard(newMemVotes(), chain, &fakeAuth{allowed: true}, &fakeStatus{err: errors.New("relayer down")}, bus.New())

	if _, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if chain.submits != 1 {
		t.Errorf("submits = %d, want 1", chain.submits)
	}
}

func TestExecuteNotAuthorized(t *testing.T) {
	chain := &fakeChain{txHash: "0xfeed"}
	b := bus.New()
	spy := spyOn(b)
	g := NewGuard(newMemVotes(), chain, &fakeAuth{allowed: false, reason: "membership lapsed"}, nil, b)

	_, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("err = %v, want ErrNotAuthorized", err)
	}
	if chain.submits != 0 {
		t.Error("unauthorized user must not submit")
	}
	if len(spy.failed) != 1 || !spy.failed[0].Skipped {
		t.Errorf("expected skipped vote-failed event, got %+v", spy.failed)
	}
}

func TestExecuteSubmissionFailure(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc timeout")}
	b := bus.New()
	spy := spyOn(b)
	votes := newMemVotes()
	g := NewGuard(votes, chain, &fakeAuth{allowed: true}, nil, b)

	_, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc")
	if err == nil {
		t.Fatal("expected submission error")
	}
	if votes.puts != 0 {
		t.Error("no vote record may be persisted for a failed submission")
	}
	if len(spy.failed) != 1 || spy.failed[0].Skipped {
		t.Errorf("expected non-skipped vote-failed event, got %+v", spy.failed)
	}
}

func TestExecutePersistenceDesyncIsNotFatal(t *testing.T) {
	votes := newMemVotes()
	votes.putErr = errors.New("disk full")
	chain := &fakeChain{txHash: "0xfeed"}
	b := bus.New()
	spy := spyOn(b)
	g := NewGuard(votes, chain, &fakeAuth{allowed: true}, nil, b)

	txHash, err := g.Execute(context.Background(), openProposal(), decision(), "0xabc")
	if err != nil {
		t.Fatalf("persistence desync must not fail the execution: %v", err)
	}
	if txHash != "0xfeed" {
		t.Errorf("txHash = %q, want 0xfeed", txHash)
	}
	if len(spy.executed) != 1 {
		t.Errorf("vote-executed events = %+v", spy.executed)
	}
}
