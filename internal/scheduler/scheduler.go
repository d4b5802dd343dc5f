// Package scheduler owns the delayed vote tasks: at most one pending timer
// per proposal id, cooperative cancellation, and hand-off to the execution
// guard on expiry.
package scheduler

import (
	"log"
	"sort"
	"sync"
	"time"

	"voteagent/internal/domain"
)

// ExecuteFunc receives the proposal and decision when a task's timer fires.
// By the time it runs the task has already been removed from the active set;
// cancellation can no longer stop it.
type ExecuteFunc func(proposal domain.ProposalForVoting, decision domain.VotingDecision)

type task struct {
	timer    *time.Timer
	proposal domain.ProposalForVoting
	decision domain.VotingDecision
}

type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	execute ExecuteFunc
}

func New(execute ExecuteFunc) *Scheduler {
	return &Scheduler{
		tasks:   make(map[string]*task),
		execute: execute,
	}
}

// Schedule arms a deferred vote for the proposal, cancelling any prior task
// for the same id first. Decisions requiring approval are refused unless
// the caller passes approved=true; they are surfaced for manual action, not
// silently scheduled.
func (s *Scheduler) Schedule(p domain.ProposalForVoting, d domain.VotingDecision, delay time.Duration, approved bool) bool {
	if d.RequiresApproval && !approved {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[p.ID]; ok {
		prev.timer.Stop()
		delete(s.tasks, p.ID)
		log.Printf("scheduler replaced pending task proposal=%s", p.ID)
	}

	t := &task{proposal: p, decision: d}
	t.timer = time.AfterFunc(delay, func() { s.fire(p.ID) })
	s.tasks[p.ID] = t
	return true
}

// fire removes the task and hands off to the executor. Removal happens
// before execution so the active set never contains a running task, success
// or failure.
func (s *Scheduler) fire(proposalID string) {
	s.mu.Lock()
	t, ok := s.tasks[proposalID]
	if ok {
		delete(s.tasks, proposalID)
	}
	s.mu.Unlock()

	if !ok {
		// Cancelled between timer fire and lock acquisition.
		return
	}
	s.execute(t.proposal, t.decision)
}

// Cancel stops the pending timer for the proposal and reports whether a
// task was found. A cancel arriving after the timer fired has no effect on
// the in-flight execution.
func (s *Scheduler) Cancel(proposalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[proposalID]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, proposalID)
	return true
}

func (s *Scheduler) IsScheduled(proposalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[proposalID]
	return ok
}

// ListActive returns the proposal ids with a pending task, sorted.
func (s *Scheduler) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every pending task.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, id)
	}
}
