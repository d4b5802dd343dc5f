// Package engine ties the pipeline together: observed proposals flow
// through the decision maker, decisions that clear the approval gate are
// handed to the scheduler, and fired tasks go through the execution
// guard. Everything downstream-facing goes over the event bus.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"voteagent/internal/bus"
	"voteagent/internal/decision"
	"voteagent/internal/domain"
	"voteagent/internal/executor"
	"voteagent/internal/prefs"
	"voteagent/internal/scheduler"
)

// DecisionMade is the payload of the decision-made event.
type DecisionMade struct {
	Proposal domain.ProposalForVoting
	Decision domain.VotingDecision
	Strategy string
}

// ApprovalRequest is the payload of approval-required and
// conflict-detected events.
type ApprovalRequest struct {
	Proposal domain.ProposalForVoting
	Decision domain.VotingDecision
	Conflict bool
}

// ScheduleEvent is the payload of schedule-created and schedule-cancelled.
type ScheduleEvent struct {
	ProposalID string
	Vote       domain.VoteChoice
	FiresAt    time.Time
}

// DecisionLog records decisions for later audit. Satisfied by the sqlite
// store.
type DecisionLog interface {
	InsertDecision(ctx context.Context, proposalID string, d domain.VotingDecision, strategy string) error
}

type pendingApproval struct {
	proposal domain.ProposalForVoting
	decision domain.VotingDecision
}

type Engine struct {
	maker       *decision.Maker
	guard       *executor.Guard
	prefs       *prefs.Store
	audit       DecisionLog
	bus         *bus.Bus
	sched       *scheduler.Scheduler
	userAddress string

	delayUnit time.Duration

	cfgMu sync.RWMutex
	cfg   domain.AutomationConfig

	pendingMu sync.Mutex
	pending   map[string]pendingApproval
}

func New(maker *decision.Maker, guard *executor.Guard, ps *prefs.Store, audit DecisionLog, b *bus.Bus, userAddress string) *Engine {
	e := &Engine{
		maker:       maker,
		guard:       guard,
		prefs:       ps,
		audit:       audit,
		bus:         b,
		userAddress: userAddress,
		delayUnit:   time.Minute,
		pending:     make(map[string]pendingApproval),
	}
	e.sched = scheduler.New(e.execute)
	return e
}

// Start loads the automation config and wires the bus subscriptions. Call
// once before proposals start flowing.
func (e *Engine) Start(ctx context.Context) {
	e.setConfig(e.prefs.Load(ctx))

	e.bus.On(bus.EventProposalObserved, func(p any) {
		if prop, ok := p.(domain.ProposalForVoting); ok {
			e.handleProposal(prop)
		}
	})
	e.bus.On(bus.EventConfigUpdated, func(p any) {
		if cfg, ok := p.(domain.AutomationConfig); ok {
			e.setConfig(cfg)
			log.Printf("engine: config refreshed enabled=%t aggressiveness=%s", cfg.Enabled, cfg.Aggressiveness)
		}
	})
}

func (e *Engine) setConfig(cfg domain.AutomationConfig) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

func (e *Engine) config() domain.AutomationConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

func (e *Engine) handleProposal(p domain.ProposalForVoting) {
	cfg := e.config()

	res, err := e.maker.Decide(context.Background(), p, cfg)
	if err != nil {
		log.Printf("engine: decide proposal=%s error: %v", p.ID, err)
		return
	}

	e.bus.Emit(bus.EventDecisionMade, DecisionMade{Proposal: p, Decision: res.Decision, Strategy: res.Strategy})
	if err := e.audit.InsertDecision(context.Background(), p.ID, res.Decision, res.Strategy); err != nil {
		log.Printf("engine: decision audit proposal=%s error: %v", p.ID, err)
	}

	if !res.Schedule {
		return
	}
	if res.Conflict {
		e.bus.Emit(bus.EventConflictDetected, ApprovalRequest{Proposal: p, Decision: res.Decision, Conflict: true})
	}
	if res.Decision.RequiresApproval {
		e.pendingMu.Lock()
		e.pending[p.ID] = pendingApproval{proposal: p, decision: res.Decision}
		e.pendingMu.Unlock()
		e.bus.Emit(bus.EventApprovalRequired, ApprovalRequest{Proposal: p, Decision: res.Decision, Conflict: res.Conflict})
		return
	}

	e.schedule(p, res.Decision, cfg, false)
}

func (e *Engine) schedule(p domain.ProposalForVoting, d domain.VotingDecision, cfg domain.AutomationConfig, approved bool) {
	delay := time.Duration(cfg.SchedulingDelayMinutes) * e.delayUnit
	if !e.sched.Schedule(p, d, delay, approved) {
		return
	}
	e.bus.Emit(bus.EventScheduleCreated, ScheduleEvent{
		ProposalID: p.ID,
		Vote:       d.Vote,
		FiresAt:    time.Now().Add(delay),
	})
	log.Printf("engine: scheduled proposal=%s vote=%s delay=%s", p.ID, d.Vote, delay)
}

// Approve releases a decision that was parked for manual approval and
// schedules it under the current delay.
func (e *Engine) Approve(proposalID string) error {
	e.pendingMu.Lock()
	pa, ok := e.pending[proposalID]
	if ok {
		delete(e.pending, proposalID)
	}
	e.pendingMu.Unlock()
	if !ok {
		return errors.New("no decision awaiting approval for proposal " + proposalID)
	}
	e.schedule(pa.proposal, pa.decision, e.config(), true)
	return nil
}

// Reject discards a parked decision without scheduling it.
func (e *Engine) Reject(proposalID string) bool {
	e.pendingMu.Lock()
	_, ok := e.pending[proposalID]
	if ok {
		delete(e.pending, proposalID)
	}
	e.pendingMu.Unlock()
	return ok
}

// Cancel removes a scheduled task before it fires.
func (e *Engine) Cancel(proposalID string) bool {
	if !e.sched.Cancel(proposalID) {
		return false
	}
	e.bus.Emit(bus.EventScheduleCancelled, ScheduleEvent{ProposalID: proposalID})
	return true
}

// ActiveTasks lists proposal ids with a pending scheduled vote.
func (e *Engine) ActiveTasks() []string {
	return e.sched.ListActive()
}

// PendingApprovals lists proposal ids waiting on a manual decision.
func (e *Engine) PendingApprovals() []string {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	ids := make([]string, 0, len(e.pending))
	for id := range e.pending {
		ids = append(ids, id)
	}
	return ids
}

// UpdateConfig validates and persists a new automation config. The engine
// picks it up through the config-updated event.
func (e *Engine) UpdateConfig(ctx context.Context, cfg domain.AutomationConfig) error {
	return e.prefs.Update(ctx, cfg)
}

func (e *Engine) Shutdown() {
	e.sched.Shutdown()
}

// execute runs when a scheduled task fires. The guard owns the final
// safety checks and the vote-executed / vote-failed events.
func (e *Engine) execute(p domain.ProposalForVoting, d domain.VotingDecision) {
	if _, err := e.guard.Execute(context.Background(), p, d, e.userAddress); err != nil {
		log.Printf("engine: execute proposal=%s: %v", p.ID, err)
	}
}
