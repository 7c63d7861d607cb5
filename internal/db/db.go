package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

// New opens a Postgres connection pool and verifies it with a ping.
func New(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		kind VARCHAR(32) NOT NULL CHECK (kind IN ('regular_user', 'business_client')),
		email VARCHAR(255) UNIQUE NOT NULL,
		username VARCHAR(50) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		tax_id VARCHAR(32),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		id UUID PRIMARY KEY,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		token_hash VARCHAR(64) UNIQUE NOT NULL,
		expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_account_id ON refresh_tokens(account_id);
	CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires_at ON refresh_tokens(expires_at);

	CREATE TABLE IF NOT EXISTS hobbies (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(64) UNIQUE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS account_hobbies (
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		hobby_id BIGINT NOT NULL REFERENCES hobbies(id) ON DELETE CASCADE,
		PRIMARY KEY (account_id, hobby_id)
	);

	CREATE TABLE IF NOT EXISTS venues (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		name VARCHAR(120) NOT NULL,
		address VARCHAR(255) NOT NULL,
		city VARCHAR(120) NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		photo_key VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_venues_owner_id ON venues(owner_id);
	CREATE INDEX IF NOT EXISTS idx_venues_city ON venues(LOWER(city));

	CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		organizer_id UUID REFERENCES accounts(id) ON DELETE SET NULL,
		venue_id UUID REFERENCES venues(id) ON DELETE SET NULL,
		title VARCHAR(120) NOT NULL,
		slug VARCHAR(140) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMP WITH TIME ZONE NOT NULL,
		ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		cover_key VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		CHECK (starts_at < ends_at)
	);

	CREATE INDEX IF NOT EXISTS idx_events_organizer_id ON events(organizer_id);
	CREATE INDEX IF NOT EXISTS idx_events_venue_id ON events(venue_id);
	CREATE INDEX IF NOT EXISTS idx_events_starts_at ON events(starts_at);

	CREATE TABLE IF NOT EXISTS event_signups (
		event_id UUID NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		PRIMARY KEY (event_id, account_id)
	);

	CREATE INDEX IF NOT EXISTS idx_event_signups_account_id ON event_signups(account_id);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Foreign keys as Postgres names the inline REFERENCES clauses in Migrate.
const (
	fkEventOrganizer = "events_organizer_id_fkey"
	fkSignupAccount  = "event_signups_account_id_fkey"
)

// foreignKeyViolation reports whether err is a foreign key violation and
// which constraint it names.
func foreignKeyViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return pqErr.Constraint, true
	}
	return "", false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching s anywhere, with s taken literally.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
