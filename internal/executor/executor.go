// Package executor guards vote submission. Every precondition is re-checked
// immediately before submitting because the user may have voted manually in
// the window between decision and execution.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"voteagent/internal/bus"
	"voteagent/internal/domain"
)

// Expected skip conditions. These abort execution but are not failures of
// the engine.
var (
	ErrAlreadyVoted   = errors.New("vote already recorded for this proposal")
	ErrProposalClosed = errors.New("proposal is no longer open")
	ErrNotAuthorized  = errors.New("user is not authorized to participate")
)

type VoteStore interface {
	GetVote(ctx context.Context, proposalID, userAddress string) (*domain.VoteRecord, error)
	PutVote(ctx context.Context, r domain.VoteRecord) error
}

type TransactionLayer interface {
	SubmitVote(ctx context.Context, daoID, proposalID string, choice domain.VoteChoice, reason string, automated bool) (string, error)
}

type AuthorizationCheck interface {
	CanParticipate(ctx context.Context, userAddress string) (bool, string, error)
}

// StatusChecker optionally supplies live proposal state (finalization) in
// addition to the local deadline check.
type StatusChecker interface {
	ProposalOpen(ctx context.Context, proposalID string) (bool, error)
}

// VoteExecuted is the payload of the vote-executed event.
type VoteExecuted struct {
	ProposalID  string
	UserAddress string
	Choice      domain.VoteChoice
	TxHash      string
}

// VoteFailed is the payload of the vote-failed event. Skipped marks the
// expected no-op conditions (already voted, closed, not authorized) as
// informational rather than failures.
type VoteFailed struct {
	ProposalID  string
	UserAddress string
	Reason      string
	Skipped     bool
}

type Guard struct {
	votes  VoteStore
	chain  TransactionLayer
	auth   AuthorizationCheck
	status StatusChecker
	bus    *bus.Bus
	now    func() time.Time
}

func NewGuard(votes VoteStore, chain TransactionLayer, auth AuthorizationCheck, status StatusChecker, b *bus.Bus) *Guard {
	return &Guard{
		votes:  votes,
		chain:  chain,
		auth:   auth,
		status: status,
		bus:    b,
		now:    time.Now,
	}
}

// Execute re-validates and submits the vote, returning the transaction
// hash. Skip conditions come back as the sentinel errors above; submission
// failures are wrapped. Either way the outcome is announced on the bus.
func (g *Guard) Execute(ctx context.Context, p domain.ProposalForVoting, d domain.VotingDecision, userAddress string) (string, error) {
	if err := g.precheck(ctx, p, userAddress); err != nil {
		skipped := errors.Is(err, ErrAlreadyVoted) || errors.Is(err, ErrProposalClosed) || errors.Is(err, ErrNotAuthorized)
		log.Printf("execute skipped proposal=%s user=%s: %v", p.ID, userAddress, err)
		g.emitFailed(p.ID, userAddress, err, skipped)
		return "", err
	}

	txHash, err := g.chain.SubmitVote(ctx, p.DAOID, p.ID, d.Vote, d.Reasoning, true)
	if err != nil {
		err = fmt.Errorf("submit vote: %w", err)
		log.Printf("execute failed proposal=%s user=%s: %v", p.ID, userAddress, err)
		g.emitFailed(p.ID, userAddress, err, false)
		return "", err
	}

	record := domain.VoteRecord{
		ID:          uuid.NewString(),
		ProposalID:  p.ID,
		UserAddress: userAddress,
		Choice:      d.Vote,
		Category:    p.Category,
		Reason:      d.Reasoning,
		Automated:   true,
		TxHash:      txHash,
		VotedAt:     g.now(),
	}
	// The chain is the source of truth: a persistence failure after a
	// successful submission is logged, never rolled back or retried.
	if err := g.votes.PutVote(ctx, record); err != nil {
		log.Printf("execute vote record desync proposal=%s tx=%s: %v", p.ID, txHash, err)
	}

	log.Printf("execute submitted proposal=%s user=%s vote=%s tx=%s", p.ID, userAddress, d.Vote, txHash)
	g.bus.Emit(bus.EventVoteExecuted, VoteExecuted{
		ProposalID:  p.ID,
		UserAddress: userAddress,
		Choice:      d.Vote,
		TxHash:      txHash,
	})
	return txHash, nil
}

func (g *Guard) precheck(ctx context.Context, p domain.ProposalForVoting, userAddress string) error {
	existing, err := g.votes.GetVote(ctx, p.ID, userAddress)
	if err != nil {
		return fmt.Errorf("check existing vote: %w", err)
	}
	if existing != nil {
		return ErrAlreadyVoted
	}

	if !p.OpenAt(g.now()) {
		return ErrProposalClosed
	}
	if g.status != nil {
		open, err := g.status.ProposalOpen(ctx, p.ID)
		if err != nil {
			// Degrade to the local deadline check already passed above.
			log.Printf("execute proposal state check unavailable proposal=%s: %v", p.ID, err)
		} else if !open {
			return ErrProposalClosed
		}
	}

	allowed, reason, err := g.auth.CanParticipate(ctx, userAddress)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !allowed {
		if reason != "" {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, reason)
		}
		return ErrNotAuthorized
	}
	return nil
}

func (g *Guard) emitFailed(proposalID, userAddress string, err error, skipped bool) {
	g.bus.Emit(bus.EventVoteFailed, VoteFailed{
		ProposalID:  proposalID,
		UserAddress: userAddress,
		Reason:      err.Error(),
		Skipped:     skipped,
	})
}
