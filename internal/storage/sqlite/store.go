package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"voteagent/internal/domain"
)

// Store wraps the sqlite handle with the persistence operations the engine
// consumes: vote records and history, proposal dedup, the local automation
// config cache, and the decision audit trail.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetVote returns the recorded vote for (proposalID, userAddress), or nil
// when none exists.
func (s *Store) GetVote(ctx context.Context, proposalID, userAddress string) (*domain.VoteRecord, error) {
	var r domain.VoteRecord
	var automated int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, proposal_id, user_address, choice, category, reason, automated, tx_hash, voted_at
		 FROM vote_records WHERE proposal_id = ? AND user_address = ?`,
		proposalID, userAddress,
	).Scan(&r.ID, &r.ProposalID, &r.UserAddress, &r.Choice, &r.Category,
		&r.Reason, &automated, &r.TxHash, &r.VotedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Automated = automated != 0
	return &r, nil
}

func (s *Store) PutVote(ctx context.Context, r domain.VoteRecord) error {
	automated := 0
	if r.Automated {
		automated = 1
	}
	votedAt := r.VotedAt
	if votedAt.IsZero() {
		votedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_records (id, proposal_id, user_address, choice, category, reason, automated, tx_hash, voted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(proposal_id, user_address) DO UPDATE SET
		   choice = excluded.choice, reason = excluded.reason,
		   tx_hash = excluded.tx_hash, voted_at = excluded.voted_at`,
		r.ID, r.ProposalID, r.UserAddress, r.Choice, r.Category,
		r.Reason, automated, r.TxHash, votedAt,
	)
	return err
}

// GetVotingHistory returns up to limit of the user's most recent votes on
// proposals in the given category, newest first.
func (s *Store) GetVotingHistory(ctx context.Context, userAddress, category string, limit int) ([]domain.VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, proposal_id, user_address, choice, category, reason, automated, tx_hash, voted_at
		 FROM vote_records
		 WHERE user_address = ? AND lower(trim(category)) = lower(trim(?))
		 ORDER BY voted_at DESC, id DESC
		 LIMIT ?`,
		userAddress, category, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.VoteRecord
	for rows.Next() {
		var r domain.VoteRecord
		var automated int
		if err := rows.Scan(&r.ID, &r.ProposalID, &r.UserAddress, &r.Choice, &r.Category,
			&r.Reason, &automated, &r.TxHash, &r.VotedAt); err != nil {
			return nil, err
		}
		r.Automated = automated != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// MarkProposalSeen records the proposal id and reports whether it was new.
// Used by the watcher so each proposal is only announced once.
func (s *Store) MarkProposalSeen(ctx context.Context, p domain.ProposalForVoting) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO proposals_seen (proposal_id, dao_id, category) VALUES (?, ?, ?)`,
		p.ID, p.DAOID, p.Category,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SaveConfig(ctx context.Context, userKey string, cfg domain.AutomationConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal automation config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automation_configs (user_key, config_json, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_key) DO UPDATE SET config_json = excluded.config_json, updated_at = CURRENT_TIMESTAMP`,
		userKey, string(data),
	)
	return err
}

// LoadConfig returns the cached config for userKey, or nil when none is
// stored.
func (s *Store) LoadConfig(ctx context.Context, userKey string) (*domain.AutomationConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT config_json FROM automation_configs WHERE user_key = ?`, userKey,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg domain.AutomationConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse cached automation config: %w", err)
	}
	return &cfg, nil
}

// InsertDecision appends to the decision audit trail.
func (s *Store) InsertDecision(ctx context.Context, proposalID string, d domain.VotingDecision, strategy string) error {
	requiresApproval := 0
	if d.RequiresApproval {
		requiresApproval = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_history (proposal_id, vote, confidence, strategy, requires_approval, reasoning)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		proposalID, d.Vote, d.Confidence, strategy, requiresApproval, d.Reasoning,
	)
	return err
}

type DecisionRecord struct {
	ID               int64
	ProposalID       string
	Vote             domain.VoteChoice
	Confidence       int
	Strategy         string
	RequiresApproval bool
	Reasoning        string
	DecidedAt        time.Time
}

// GetDecisions returns the most recent audit entries, newest first.
func (s *Store) GetDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, proposal_id, vote, confidence, strategy, requires_approval, reasoning, decided_at
		 FROM decision_history ORDER BY decided_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var requiresApproval int
		if err := rows.Scan(&r.ID, &r.ProposalID, &r.Vote, &r.Confidence,
			&r.Strategy, &requiresApproval, &r.Reasoning, &r.DecidedAt); err != nil {
			return nil, err
		}
		r.RequiresApproval = requiresApproval != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
