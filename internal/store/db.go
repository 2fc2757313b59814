package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Migrate creates the schema when it does not exist yet. The unique index on
// (user_id, session_token) is load-bearing: it is what makes duplicate
// check-ins safe across devices.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			token          TEXT PRIMARY KEY,
			class_id       TEXT NOT NULL,
			class_name     TEXT NOT NULL DEFAULT '',
			issuer_id      TEXT NOT NULL,
			issued_at      TIMESTAMPTZ NOT NULL,
			expires_at     TIMESTAMPTZ NOT NULL,
			fence_lat      DOUBLE PRECISION,
			fence_lng      DOUBLE PRECISION,
			fence_radius_m DOUBLE PRECISION,
			swept          BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (expires_at > issued_at)
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_class_issued_idx ON sessions (class_id, issued_at DESC)`,
		`CREATE INDEX IF NOT EXISTS sessions_sweep_idx ON sessions (expires_at) WHERE swept = FALSE`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			class_id      TEXT NOT NULL,
			class_name    TEXT NOT NULL DEFAULT '',
			session_token TEXT NOT NULL,
			recorded_at   TIMESTAMPTZ NOT NULL,
			outcome       TEXT NOT NULL CHECK (outcome IN ('present', 'late', 'absent')),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, session_token)
		)`,
		`CREATE INDEX IF NOT EXISTS attendance_user_idx ON attendance_records (user_id, recorded_at DESC)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			class_id TEXT NOT NULL,
			user_id  TEXT NOT NULL,
			PRIMARY KEY (class_id, user_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
