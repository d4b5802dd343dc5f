// Package watch observes new governance proposals and announces each one
// exactly once on the event bus. Two sources feed it: a live websocket feed
// and a cron-scheduled poll of the relayer's open-proposal list; either may
// be disabled by configuration.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"voteagent/internal/bus"
	"voteagent/internal/domain"
)

const defaultReconnectWait = 15 * time.Second

type ProposalLister interface {
	ListOpenProposals(ctx context.Context) ([]domain.ProposalForVoting, error)
}

type SeenStore interface {
	MarkProposalSeen(ctx context.Context, p domain.ProposalForVoting) (bool, error)
}

// VoteChecker reports whether a vote is already recorded for a proposal.
type VoteChecker interface {
	GetVote(ctx context.Context, proposalID, userAddress string) (*domain.VoteRecord, error)
}

type Source struct {
	feedURL       string
	pollSchedule  string
	lister        ProposalLister
	seen          SeenStore
	votes         VoteChecker
	userAddress   string
	bus           *bus.Bus
	reconnectWait time.Duration
}

func NewSource(feedURL, pollSchedule string, lister ProposalLister, seen SeenStore, votes VoteChecker, userAddress string, b *bus.Bus) *Source {
	return &Source{
		feedURL:       feedURL,
		pollSchedule:  pollSchedule,
		lister:        lister,
		seen:          seen,
		votes:         votes,
		userAddress:   userAddress,
		bus:           b,
		reconnectWait: defaultReconnectWait,
	}
}

// Run blocks until ctx is cancelled, driving whichever sources are
// configured. With neither a feed URL nor a poll schedule it returns an
// error immediately rather than idling forever.
func (s *Source) Run(ctx context.Context) error {
	if s.feedURL == "" && s.pollSchedule == "" {
		return fmt.Errorf("watch: no proposal source configured")
	}

	if s.lister != nil && s.votes != nil {
		s.recoverOpen(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.feedURL != "" {
		g.Go(func() error { return s.runFeed(ctx) })
	}
	if s.pollSchedule != "" {
		g.Go(func() error { return s.runPoll(ctx) })
	}
	return g.Wait()
}

// runFeed maintains the websocket subscription, reconnecting after a wait
// whenever the connection drops.
func (s *Source) runFeed(ctx context.Context) error {
	for {
		if err := s.readFeed(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("watch feed disconnected url=%s: %v (reconnecting in %s)", s.feedURL, err, s.reconnectWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectWait):
		}
	}
}

func (s *Source) readFeed(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.feedURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Printf("watch feed connected url=%s", s.feedURL)

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		p, err := parseProposalMessage(data)
		if err != nil {
			log.Printf("watch feed skipped malformed message: %v", err)
			continue
		}
		s.observe(ctx, p)
	}
}

// runPoll sleeps until the next cron fire time and lists open proposals,
// repeating until cancelled.
func (s *Source) runPoll(ctx context.Context) error {
	if s.lister == nil {
		return fmt.Errorf("watch: poll schedule set but no proposal lister")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(s.pollSchedule)
	if err != nil {
		return fmt.Errorf("watch: invalid poll schedule %q: %w", s.pollSchedule, err)
	}
	log.Printf("watch poll scheduled (cron: %s)", s.pollSchedule)

	for {
		now := time.Now()
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("watch next poll at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		s.pollOnce(ctx)
	}
}

func (s *Source) pollOnce(ctx context.Context) {
	proposals, err := s.lister.ListOpenProposals(ctx)
	if err != nil {
		log.Printf("watch poll error: %v", err)
		return
	}
	fresh := 0
	for _, p := range proposals {
		if s.observe(ctx, p) {
			fresh++
		}
	}
	log.Printf("watch poll done total=%d new=%d", len(proposals), fresh)
}

// recoverOpen re-announces every open proposal the user has not voted on
// yet, bypassing the seen-store dedup. Proposals that were awaiting
// approval or sitting on an unfired timer when the process died are
// already marked seen, so without this pass a restart would strand them.
func (s *Source) recoverOpen(ctx context.Context) {
	proposals, err := s.lister.ListOpenProposals(ctx)
	if err != nil {
		log.Printf("watch recovery list error: %v", err)
		return
	}
	announced := 0
	for _, p := range proposals {
		if p.ID == "" {
			continue
		}
		existing, err := s.votes.GetVote(ctx, p.ID, s.userAddress)
		if err != nil {
			log.Printf("watch recovery vote check failed proposal=%s: %v", p.ID, err)
			continue
		}
		if existing != nil {
			continue
		}
		if _, err := s.seen.MarkProposalSeen(ctx, p); err != nil {
			log.Printf("watch recovery seen mark failed proposal=%s: %v", p.ID, err)
		}
		s.bus.Emit(bus.EventProposalObserved, p)
		announced++
	}
	log.Printf("watch recovery done open=%d announced=%d", len(proposals), announced)
}

// observe dedupes against the seen store and announces fresh proposals.
func (s *Source) observe(ctx context.Context, p domain.ProposalForVoting) bool {
	if p.ID == "" {
		return false
	}
	fresh, err := s.seen.MarkProposalSeen(ctx, p)
	if err != nil {
		log.Printf("watch seen check failed proposal=%s: %v", p.ID, err)
		return false
	}
	if !fresh {
		return false
	}
	log.Printf("watch observed proposal=%s category=%s dao=%s", p.ID, p.Category, p.DAOID)
	s.bus.Emit(bus.EventProposalObserved, p)
	return true
}

type proposalMessage struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	DAOID       string `json:"dao_id"`
	Deadline    string `json:"deadline"`
	OnChainID   string `json:"on_chain_id"`
}

func parseProposalMessage(data []byte) (domain.ProposalForVoting, error) {
	var msg proposalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return domain.ProposalForVoting{}, fmt.Errorf("parsing proposal message: %w", err)
	}
	if msg.ID == "" {
		return domain.ProposalForVoting{}, fmt.Errorf("proposal message missing id")
	}
	deadline, err := time.Parse(time.RFC3339, msg.Deadline)
	if err != nil {
		// Zero deadline disables the local deadline guard for this proposal.
		log.Printf("watch proposal=%s unparseable deadline %q: %v", msg.ID, msg.Deadline, err)
	}
	return domain.ProposalForVoting{
		ID:          msg.ID,
		Title:       msg.Title,
		Description: msg.Description,
		Category:    msg.Category,
		DAOID:       msg.DAOID,
		Deadline:    deadline,
		OnChainID:   msg.OnChainID,
	}, nil
}
