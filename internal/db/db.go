// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect opens a postgres pool and pings it.
func Connect(ctx context.Context, dsn string, maxOpen int, log zerolog.Logger) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
		conn.SetMaxIdleConns(maxOpen / 2)
	}
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log.Info().Msg("connected to database")
	return conn, nil
}

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS audience_filters (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		expression  JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		subject     TEXT NOT NULL,
		content     TEXT NOT NULL,
		test_email  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id                      TEXT PRIMARY KEY,
		name                    TEXT NOT NULL,
		type                    TEXT NOT NULL,
		audience_filter_id      TEXT REFERENCES audience_filters(id) ON DELETE SET NULL,
		template_id             TEXT REFERENCES templates(id) ON DELETE SET NULL,
		status                  TEXT NOT NULL DEFAULT 'Draft',
		execution_phase         TEXT NOT NULL DEFAULT 'none',
		audience_snapshot_hash  TEXT,
		schedule_frequency      TEXT,
		schedule_time           TEXT,
		start_date              TIMESTAMPTZ,
		end_date                TIMESTAMPTZ,
		open_rate               DOUBLE PRECISION NOT NULL DEFAULT 0,
		ctr                     DOUBLE PRECISION NOT NULL DEFAULT 0,
		delivered               INTEGER NOT NULL DEFAULT 0,
		published_date          TIMESTAMPTZ,
		created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at              TIMESTAMPTZ,
		CONSTRAINT campaigns_phase_check CHECK (execution_phase IN ('none', 'snapshotting', 'snapshotted', 'enqueued'))
	)`,
	`CREATE INDEX IF NOT EXISTS campaigns_status_idx ON campaigns (status)`,
	// databases created before the snapshotting phase existed
	`ALTER TABLE campaigns DROP CONSTRAINT IF EXISTS campaigns_phase_check`,
	`ALTER TABLE campaigns ADD CONSTRAINT campaigns_phase_check
		CHECK (execution_phase IN ('none', 'snapshotting', 'snapshotted', 'enqueued'))`,
	`CREATE TABLE IF NOT EXISTS campaign_recipients (
		id                   TEXT PRIMARY KEY,
		campaign_id          TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
		email                TEXT NOT NULL,
		status               TEXT NOT NULL DEFAULT 'PENDING',
		provider_message_id  TEXT,
		error                TEXT,
		sent_at              TIMESTAMPTZ,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (campaign_id, email)
	)`,
	`CREATE INDEX IF NOT EXISTS campaign_recipients_status_idx ON campaign_recipients (campaign_id, status)`,
	`CREATE TABLE IF NOT EXISTS audience_members (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		age         INTEGER,
		location    JSONB NOT NULL DEFAULT '{}',
		tags        TEXT[] NOT NULL DEFAULT '{}',
		attributes  JSONB NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS criteria_blocks (
		id          TEXT PRIMARY KEY,
		key         TEXT NOT NULL,
		label       TEXT NOT NULL,
		type        TEXT NOT NULL,
		category    TEXT NOT NULL,
		operators   TEXT[] NOT NULL DEFAULT '{}',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS criteria_blocks_label_idx ON criteria_blocks (category, lower(label))`,
}

// Migrate creates the tables the service needs inside one transaction.
func Migrate(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
