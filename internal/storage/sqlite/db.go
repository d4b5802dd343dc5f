package sqlite

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS vote_records (
		id           TEXT PRIMARY KEY,
		proposal_id  TEXT NOT NULL,
		user_address TEXT NOT NULL,
		choice       TEXT NOT NULL,
		category     TEXT DEFAULT '',
		reason       TEXT DEFAULT '',
		automated    INTEGER NOT NULL DEFAULT 0,
		tx_hash      TEXT DEFAULT '',
		voted_at     DATETIME NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(proposal_id, user_address)
	);
	CREATE INDEX IF NOT EXISTS idx_vote_records_user_category ON vote_records(user_address, category);
	CREATE INDEX IF NOT EXISTS idx_vote_records_voted_at ON vote_records(voted_at);

	CREATE TABLE IF NOT EXISTS proposals_seen (
		proposal_id TEXT PRIMARY KEY,
		dao_id      TEXT DEFAULT '',
		category    TEXT DEFAULT '',
		seen_at     DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS automation_configs (
		user_key    TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS decision_history (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		proposal_id       TEXT NOT NULL,
		vote              TEXT NOT NULL,
		confidence        INTEGER NOT NULL,
		strategy          TEXT DEFAULT '',
		requires_approval INTEGER NOT NULL DEFAULT 0,
		reasoning         TEXT DEFAULT '',
		decided_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_dh_proposal ON decision_history(proposal_id);
	CREATE INDEX IF NOT EXISTS idx_dh_date ON decision_history(decided_at);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}
