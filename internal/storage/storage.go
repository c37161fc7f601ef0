package storage

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Storage handles all database operations. SQLite is used for single-node
// deployments; a postgres:// DSN lets several service instances share one database.
type Storage struct {
	db       *sql.DB
	postgres bool
}

// New opens the database named by dsn and creates the schema
func New(dsn string) (*Storage, error) {
	var (
		db       *sql.DB
		err      error
		postgres = strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	)

	if postgres {
		db, err = sql.Open("pgx", dsn)
	} else {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		// _txlock=immediate takes the write lock at BEGIN so concurrent settlements queue on busy_timeout
		db, err = sql.Open("sqlite3", dsn+sep+"_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	}
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db, postgres: postgres}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS creators (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			wallet_address TEXT NOT NULL,
			telegram_chat_id BIGINT,
			total_unlocks BIGINT NOT NULL DEFAULT 0,
			total_revenue BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL REFERENCES creators(id),
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			price BIGINT NOT NULL,
			content_ref TEXT,
			unlock_count BIGINT NOT NULL DEFAULT 0,
			revenue_amount BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_creator_id ON posts(creator_id)`,

		`CREATE TABLE IF NOT EXISTS unlocks (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL REFERENCES posts(id),
			tx_ref TEXT NOT NULL,
			buyer_wallet TEXT,
			amount BIGINT NOT NULL,
			platform_fee BIGINT NOT NULL,
			creator_payout BIGINT NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_unlocks_tx_ref ON unlocks(tx_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_unlocks_post_id ON unlocks(post_id)`,

		`CREATE TABLE IF NOT EXISTS notification_outbox (
			id TEXT PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			unlock_id TEXT NOT NULL,
			post_id TEXT NOT NULL,
			post_title TEXT NOT NULL,
			payout BIGINT NOT NULL,
			buyer_wallet TEXT NOT NULL,
			attempts BIGINT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at BIGINT NOT NULL,
			sent_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending ON notification_outbox(sent_at, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $n for postgres
func (s *Storage) rebind(query string) string {
	if !s.postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
