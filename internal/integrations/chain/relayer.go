// Package chain talks to the vote relayer, the service that wraps the
// actual on-chain transaction layer behind a REST API. It implements vote
// submission, the participation check, live proposal state, and open
// proposal listing for the watcher.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"voteagent/internal/domain"
	"voteagent/internal/httpx"
)

type Relayer struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func NewRelayer(baseURL, token string) *Relayer {
	return &Relayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   httpx.Client(),
	}
}

type submitVoteRequest struct {
	DAOID      string `json:"dao_id"`
	ProposalID string `json:"proposal_id"`
	Direction  string `json:"direction"`
	Reason     string `json:"reason"`
	Automated  bool   `json:"automated"`
}

type submitVoteResponse struct {
	TxHash string `json:"tx_hash"`
}

// SubmitVote posts the vote and returns the transaction hash.
func (r *Relayer) SubmitVote(ctx context.Context, daoID, proposalID string, choice domain.VoteChoice, reason string, automated bool) (string, error) {
	payload := submitVoteRequest{
		DAOID:      daoID,
		ProposalID: proposalID,
		Direction:  string(choice),
		Reason:     reason,
		Automated:  automated,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding vote request: %w", err)
	}

	respBody, err := r.do(ctx, "POST", "/votes", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var result submitVoteResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parsing vote response: %w", err)
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("relayer returned no transaction hash")
	}
	return result.TxHash, nil
}

type participantResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// CanParticipate asks the relayer's identity gate whether the user may vote.
func (r *Relayer) CanParticipate(ctx context.Context, userAddress string) (bool, string, error) {
	body, err := r.do(ctx, "GET", "/participants/"+userAddress, nil)
	if err != nil {
		return false, "", err
	}
	var result participantResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return false, "", fmt.Errorf("parsing participant response: %w", err)
	}
	return result.Allowed, result.Reason, nil
}

type proposalItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	DAOID       string `json:"dao_id"`
	Deadline    string `json:"deadline"`
	OnChainID   string `json:"on_chain_id"`
	State       string `json:"state"`
}

// ProposalOpen fetches live proposal state; "open" is the only votable
// state.
func (r *Relayer) ProposalOpen(ctx context.Context, proposalID string) (bool, error) {
	body, err := r.do(ctx, "GET", "/proposals/"+proposalID, nil)
	if err != nil {
		return false, err
	}
	var item proposalItem
	if err := json.Unmarshal(body, &item); err != nil {
		return false, fmt.Errorf("parsing proposal response: %w", err)
	}
	return item.State == "open", nil
}

// ListOpenProposals returns every proposal currently open for voting; the
// watcher polls this and dedupes against already-observed ids.
func (r *Relayer) ListOpenProposals(ctx context.Context) ([]domain.ProposalForVoting, error) {
	body, err := r.do(ctx, "GET", "/proposals?state=open", nil)
	if err != nil {
		return nil, err
	}
	var items []proposalItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("parsing proposal list: %w", err)
	}

	proposals := make([]domain.ProposalForVoting, 0, len(items))
	for _, item := range items {
		proposals = append(proposals, convertProposalItem(item))
	}
	return proposals, nil
}

func convertProposalItem(item proposalItem) domain.ProposalForVoting {
	deadline, err := time.Parse(time.RFC3339, item.Deadline)
	if err != nil {
		// Zero deadline disables the local deadline guard for this proposal.
		log.Printf("relayer proposal=%s unparseable deadline %q: %v", item.ID, item.Deadline, err)
	}
	return domain.ProposalForVoting{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		DAOID:       item.DAOID,
		Deadline:    deadline,
		OnChainID:   item.OnChainID,
	}
}

func (r *Relayer) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("relayer returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
