package sqlite

import (
	"autosave/internal/repository"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	_ repository.RuleRepository    = (*RuleRepository)(nil)
	_ repository.RoundUpRepository = (*RoundUpRepository)(nil)
	_ repository.GoalRepository    = (*GoalRepository)(nil)
	_ repository.AccountRepository = (*AccountRepository)(nil)
)

// Store persists rules, round-ups, goals and savings accounts in a single
// SQLite file. Decimal amounts are kept as TEXT so no precision is lost.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, now: time.Now, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("SQLite store opened", slog.String("path", path))
	return s, nil
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Rules() *RuleRepository       { return &RuleRepository{s: s} }
func (s *Store) RoundUps() *RoundUpRepository { return &RoundUpRepository{s: s} }
func (s *Store) Goals() *GoalRepository       { return &GoalRepository{s: s} }
func (s *Store) Accounts() *AccountRepository { return &AccountRepository{s: s} }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auto_save_rules (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			name              TEXT NOT NULL,
			description       TEXT,
			is_active         INTEGER NOT NULL,
			trigger_type      TEXT NOT NULL,
			trigger_settings  TEXT NOT NULL,
			destination_type  TEXT NOT NULL,
			destination_id    TEXT NOT NULL,
			priority          INTEGER NOT NULL,
			total_saved       TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			last_triggered    INTEGER,
			created_at        INTEGER NOT NULL,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_user ON auto_save_rules(user_id)`,

		`CREATE TABLE IF NOT EXISTS round_up_transactions (
			id                      TEXT PRIMARY KEY,
			user_id                 TEXT NOT NULL,
			original_transaction_id TEXT NOT NULL,
			original_amount         TEXT NOT NULL,
			round_up_amount         TEXT NOT NULL,
			total_amount            TEXT NOT NULL,
			rule_id                 TEXT NOT NULL,
			destination_type        TEXT NOT NULL,
			destination_id          TEXT NOT NULL,
			status                  TEXT NOT NULL,
			failure_reason          TEXT,
			metadata                TEXT,
			created_at              INTEGER NOT NULL,
			completed_at            INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_roundups_user ON round_up_transactions(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_roundups_rule ON round_up_transactions(rule_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS savings_goals (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			name            TEXT NOT NULL,
			description     TEXT,
			target_amount   TEXT NOT NULL,
			current_amount  TEXT NOT NULL,
			target_date     INTEGER NOT NULL,
			category        TEXT,
			priority        TEXT,
			progress        REAL NOT NULL,
			is_active       INTEGER NOT NULL,
			is_completed    INTEGER NOT NULL,
			completed_at    INTEGER,
			auto_save_rules TEXT,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_user ON savings_goals(user_id)`,

		`CREATE TABLE IF NOT EXISTS goal_contributions (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			goal_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			amount     TEXT NOT NULL,
			source     TEXT NOT NULL,
			source_id  TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_goal ON goal_contributions(goal_id)`,

		`CREATE TABLE IF NOT EXISTS savings_accounts (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL,
			name              TEXT,
			balance           TEXT NOT NULL,
			total_deposits    TEXT NOT NULL,
			total_withdrawals TEXT NOT NULL,
			total_interest    TEXT NOT NULL,
			interest_rate     TEXT NOT NULL,
			settings          TEXT NOT NULL,
			is_active         INTEGER NOT NULL,
			created_at        INTEGER NOT NULL,
			last_activity     INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS account_credits (
			idempotency_key TEXT PRIMARY KEY,
			account_id      TEXT NOT NULL,
			amount          TEXT NOT NULL,
			applied_at      INTEGER NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction while holding the write lock.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Close() error {
	s.logger.Info("Closing SQLite store")
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func nullUnixNano(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n)
}

func fromNullUnixNano(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func decodeJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
