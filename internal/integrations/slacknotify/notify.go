// Package slacknotify forwards engine events to a Slack channel so the
// user hears about approvals, conflicts, and executed votes without
// watching a dashboard. The notifier is a plain bus subscriber; the engine
// never depends on it.
package slacknotify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"voteagent/internal/bus"
	"voteagent/internal/engine"
	"voteagent/internal/executor"
)

type Notifier struct {
	api       *slack.Client
	channelID string
}

func New(api *slack.Client, channelID string) *Notifier {
	return &Notifier{api: api, channelID: channelID}
}

// Start subscribes to the event names worth a human's attention.
func (n *Notifier) Start(b *bus.Bus) {
	b.On(bus.EventApprovalRequired, func(p any) {
		if ev, ok := p.(engine.ApprovalRequest); ok {
			n.post(FormatApprovalRequired(ev))
		}
	})
	b.On(bus.EventConflictDetected, func(p any) {
		if ev, ok := p.(engine.ApprovalRequest); ok {
			n.post(FormatConflict(ev))
		}
	})
	b.On(bus.EventVoteExecuted, func(p any) {
		if ev, ok := p.(executor.VoteExecuted); ok {
			n.post(FormatVoteExecuted(ev))
		}
	})
	b.On(bus.EventVoteFailed, func(p any) {
		if ev, ok := p.(executor.VoteFailed); ok {
			n.post(FormatVoteFailed(ev))
		}
	})
}

func FormatApprovalRequired(ev engine.ApprovalRequest) string {
	return fmt.Sprintf(
		"Manual approval needed for *%s* (%s): suggested vote `%s` at confidence %d.\n_%s_",
		ev.Proposal.Title, ev.Proposal.Category, ev.Decision.Vote, ev.Decision.Confidence, ev.Decision.Reasoning)
}

func FormatConflict(ev engine.ApprovalRequest) string {
	return fmt.Sprintf(
		"Preference/analysis conflict on *%s* (%s): your preference says `%s` but the analysis disagrees.\n_%s_",
		ev.Proposal.Title, ev.Proposal.Category, ev.Decision.Vote, ev.Decision.Reasoning)
}

func FormatVoteExecuted(ev executor.VoteExecuted) string {
	return fmt.Sprintf("Voted `%s` on proposal %s (tx `%s`).", ev.Choice, ev.ProposalID, ev.TxHash)
}

// FormatVoteFailed distinguishes expected skips from real failures.
func FormatVoteFailed(ev executor.VoteFailed) string {
	if ev.Skipped {
		return fmt.Sprintf("Skipped voting on proposal %s: %s.", ev.ProposalID, ev.Reason)
	}
	return fmt.Sprintf("Vote on proposal %s failed: %s. Retry manually if still wanted.", ev.ProposalID, ev.Reason)
}

func (n *Notifier) post(msg string) {
	_, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(msg, false))
	if err != nil {
		log.Printf("slacknotify post error: %v", err)
	}
}
