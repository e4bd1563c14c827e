package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/alice2025ai/alice-ai-server/internal/model"
	"github.com/alice2025ai/alice-ai-server/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; concurrent transactions would
	// otherwise surface SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS agents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_name TEXT NOT NULL,
	chain_type TEXT NOT NULL,
	subject_address TEXT NOT NULL,
	bot_token TEXT NOT NULL,
	chat_group_id TEXT NOT NULL,
	invite_url TEXT NOT NULL,
	bio TEXT,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name ON agents(agent_name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_subject ON agents(chain_type, subject_address);
CREATE INDEX IF NOT EXISTS idx_agents_chat_group ON agents(chat_group_id);
CREATE INDEX IF NOT EXISTS idx_agents_created_at ON agents(created_at DESC);

CREATE TABLE IF NOT EXISTS challenges (
	value TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	user_address TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	consumed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_challenges_expires_at ON challenges(expires_at);

CREATE TABLE IF NOT EXISTS trades (
	trader TEXT NOT NULL,
	subject TEXT NOT NULL,
	chain_type TEXT NOT NULL,
	share_amount TEXT NOT NULL,
	PRIMARY KEY (trader, subject, chain_type)
);
CREATE INDEX IF NOT EXISTS idx_trades_trader ON trades(trader, chain_type);

CREATE TABLE IF NOT EXISTS user_mappings (
	address TEXT NOT NULL,
	chain_type TEXT NOT NULL,
	chat_user_id TEXT NOT NULL,
	is_banned INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (address, chain_type)
);

CREATE TABLE IF NOT EXISTS sync_status (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chain_type TEXT NOT NULL,
	last_synced_block INTEGER NOT NULL,
	metadata TEXT,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_status_chain ON sync_status(chain_type);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *model.Agent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO agents (agent_name, chain_type, subject_address, bot_token, chat_group_id, invite_url, bio, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, agent.AgentName, agent.ChainType, agent.SubjectAddress, agent.BotToken, agent.ChatGroupID, agent.InviteURL, nullIfEmpty(agent.Bio), agent.CreatedAt.Unix())
	if err != nil {
		switch {
		case isUniqueViolation(err, "agents.agent_name"):
			return 0, store.ErrDuplicateName
		case isUniqueViolation(err, "agents.chain_type"):
			return 0, store.ErrDuplicateSubject
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetAgentByName(ctx context.Context, agentName string) (model.Agent, error) {
	row := s.db.QueryRowContext(ctx, agentSelect+`WHERE agent_name = ? LIMIT 1`, agentName)
	return scanAgent(row)
}

func (s *Store) GetAgentByChatGroup(ctx context.Context, chatGroupID string) (model.Agent, error) {
	row := s.db.QueryRowContext(ctx, agentSelect+`WHERE chat_group_id = ? LIMIT 1`, chatGroupID)
	return scanAgent(row)
}

func (s *Store) GetAgentBySubject(ctx context.Context, chainType, subjectAddress string) (model.Agent, error) {
	row := s.db.QueryRowContext(ctx, agentSelect+`WHERE chain_type = ? AND subject_address = ? LIMIT 1`, chainType, subjectAddress)
	return scanAgent(row)
}

func (s *Store) ListAgents(ctx context.Context, page, pageSize int) ([]model.Agent, int64, error) {
	if page < 1 {
		page = 1
	}
	pageSize = clamp(pageSize, 1, 100)
	offset := (page - 1) * pageSize

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, agentSelect+`
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, agent)
	}
	return agents, total, rows.Err()
}

const agentSelect = `
SELECT id, agent_name, chain_type, subject_address, bot_token, chat_group_id, invite_url, bio, created_at
FROM agents
`

func scanAgent(scanner interface{ Scan(dest ...any) error }) (model.Agent, error) {
	var a model.Agent
	var bio sql.NullString
	var created int64
	if err := scanner.Scan(&a.ID, &a.AgentName, &a.ChainType, &a.SubjectAddress, &a.BotToken, &a.ChatGroupID, &a.InviteURL, &bio, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Agent{}, store.ErrNotFound
		}
		return model.Agent{}, err
	}
	if bio.Valid {
		a.Bio = bio.String
	}
	a.CreatedAt = time.Unix(created, 0).UTC()
	return a, nil
}

func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO challenges (value, chat_id, user_address, expires_at, consumed, created_at)
VALUES (?, ?, ?, ?, 0, ?)
`, c.Value, c.ChatID, c.UserAddress, c.ExpiresAt.Unix(), time.Now().Unix())
	return err
}

func (s *Store) ConsumeChallenge(ctx context.Context, value, chatID, userAddress string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
SELECT chat_id, user_address, expires_at, consumed
FROM challenges
WHERE value = ?
`, value)
	var gotChat, gotUser string
	var expires int64
	var consumed int
	if err = row.Scan(&gotChat, &gotUser, &expires, &consumed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = store.ErrChallengeNotFound
		}
		return err
	}
	if consumed != 0 {
		err = store.ErrChallengeUsed
		return err
	}
	if time.Now().Unix() > expires {
		err = store.ErrChallengeExpired
		return err
	}
	if gotChat != chatID || !strings.EqualFold(gotUser, userAddress) {
		err = store.ErrChallengeMismatch
		return err
	}

	// The WHERE consumed = 0 guard makes the mark atomic: two racing
	// consumers see exactly one success.
	res, err := tx.ExecContext(ctx, `UPDATE challenges SET consumed = 1 WHERE value = ? AND consumed = 0`, value)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = store.ErrChallengeUsed
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) ApplyBuy(ctx context.Context, trader, subject, chainType string, amount *big.Int) error {
	_, err := s.adjustBalance(ctx, trader, subject, chainType, amount, true)
	return err
}

func (s *Store) ApplySell(ctx context.Context, trader, subject, chainType string, amount *big.Int) (*big.Int, error) {
	return s.adjustBalance(ctx, trader, subject, chainType, amount, false)
}

// adjustBalance applies a signed delta inside a transaction. Balances are
// stored as decimal strings because share amounts are uint256 on chain.
func (s *Store) adjustBalance(ctx context.Context, trader, subject, chainType string, amount *big.Int, isBuy bool) (balance *big.Int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current string
	row := tx.QueryRowContext(ctx, `
SELECT share_amount FROM trades WHERE trader = ? AND subject = ? AND chain_type = ?
`, trader, subject, chainType)
	switch err = row.Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		if !isBuy {
			err = store.ErrNotFound
			return nil, err
		}
		current, err = "0", nil
	case err != nil:
		return nil, err
	}

	balance, ok := new(big.Int).SetString(current, 10)
	if !ok {
		err = fmt.Errorf("corrupt share_amount %q for trader %s", current, trader)
		return nil, err
	}
	if isBuy {
		balance.Add(balance, amount)
	} else {
		balance.Sub(balance, amount)
		if balance.Sign() < 0 {
			balance.SetInt64(0)
		}
	}

	if _, err = tx.ExecContext(ctx, `
INSERT INTO trades (trader, subject, chain_type, share_amount)
VALUES (?, ?, ?, ?)
ON CONFLICT (trader, subject, chain_type) DO UPDATE SET share_amount = excluded.share_amount
`, trader, subject, chainType, balance.String()); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return balance, nil
}

func (s *Store) GetUserShares(ctx context.Context, trader, chainType string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trader, subject, chain_type, share_amount
FROM trades
WHERE trader = ? AND chain_type = ?
ORDER BY subject ASC
`, trader, chainType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var amount string
		if err := rows.Scan(&t.Trader, &t.Subject, &t.ChainType, &amount); err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt share_amount %q for trader %s", amount, t.Trader)
		}
		t.ShareAmount = n
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) UpsertUserMapping(ctx context.Context, m model.UserMapping) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_mappings (address, chain_type, chat_user_id, is_banned)
VALUES (?, ?, ?, ?)
ON CONFLICT (address, chain_type) DO UPDATE SET chat_user_id = excluded.chat_user_id, is_banned = excluded.is_banned
`, m.Address, m.ChainType, m.ChatUserID, boolToInt(m.IsBanned))
	return err
}

func (s *Store) GetUserMapping(ctx context.Context, address, chainType string) (model.UserMapping, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT address, chain_type, chat_user_id, is_banned
FROM user_mappings
WHERE address = ? AND chain_type = ?
`, address, chainType)
	var m model.UserMapping
	var banned int
	if err := row.Scan(&m.Address, &m.ChainType, &m.ChatUserID, &banned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserMapping{}, store.ErrNotFound
		}
		return model.UserMapping{}, err
	}
	m.IsBanned = banned == 1
	return m, nil
}

func (s *Store) SetUserBanned(ctx context.Context, address, chainType string, banned bool) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE user_mappings SET is_banned = ? WHERE address = ? AND chain_type = ?
`, boolToInt(banned), address, chainType)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSyncStatus(ctx context.Context, chainType string) (model.SyncStatus, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT chain_type, last_synced_block, metadata, updated_at
FROM sync_status
WHERE chain_type = ?
`, chainType)
	var st model.SyncStatus
	var block int64
	var metadata sql.NullString
	var updated int64
	if err := row.Scan(&st.ChainType, &block, &metadata, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.SyncStatus{}, store.ErrNotFound
		}
		return model.SyncStatus{}, err
	}
	st.LastSyncedBlock = uint64(block)
	if metadata.Valid {
		st.Metadata = metadata.String
	}
	st.UpdatedAt = time.Unix(updated, 0).UTC()
	return st, nil
}

func (s *Store) UpsertSyncStatus(ctx context.Context, st model.SyncStatus) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_status (chain_type, last_synced_block, metadata, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (chain_type) DO UPDATE SET last_synced_block = excluded.last_synced_block, metadata = excluded.metadata, updated_at = excluded.updated_at
`, st.ChainType, int64(st.LastSyncedBlock), nullIfEmpty(st.Metadata), time.Now().Unix())
	return err
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	return strings.Contains(msg, constraint)
}
