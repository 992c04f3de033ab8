package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id             UUID PRIMARY KEY,
		aggregate_id   TEXT        NOT NULL,
		aggregate_type TEXT        NOT NULL,
		event_type     TEXT        NOT NULL,
		data           JSONB       NOT NULL,
		version        INTEGER     NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (aggregate_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type_created ON events (aggregate_type, created_at)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		aggregate_id   TEXT PRIMARY KEY,
		aggregate_type TEXT        NOT NULL,
		version        INTEGER     NOT NULL,
		state          JSONB       NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS read_orders (
		id                 TEXT PRIMARY KEY,
		order_number       TEXT UNIQUE NOT NULL,
		customer_email     TEXT        NOT NULL,
		customer_phone     TEXT        NOT NULL DEFAULT '',
		currency           TEXT        NOT NULL,
		items              JSONB       NOT NULL,
		subtotal           NUMERIC     NOT NULL,
		shipping_cost      NUMERIC     NOT NULL,
		total              NUMERIC     NOT NULL,
		status             TEXT        NOT NULL,
		payment_status     TEXT        NOT NULL,
		tracking_number    TEXT        NOT NULL DEFAULT '',
		tracking_url       TEXT        NOT NULL DEFAULT '',
		carrier            TEXT        NOT NULL DEFAULT '',
		estimated_delivery TIMESTAMPTZ,
		version            INTEGER     NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_read_orders_status ON read_orders (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         UUID PRIMARY KEY,
		type       TEXT        NOT NULL,
		recipient  TEXT        NOT NULL,
		subject    TEXT        NOT NULL DEFAULT '',
		message    TEXT        NOT NULL,
		status     TEXT        NOT NULL,
		provider   TEXT        NOT NULL DEFAULT '',
		message_id TEXT        NOT NULL DEFAULT '',
		metadata   JSONB       NOT NULL DEFAULT '{}',
		error      TEXT        NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		sent_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications (created_at)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id         UUID PRIMARY KEY,
		type       TEXT        NOT NULL,
		subject_id TEXT        NOT NULL DEFAULT '',
		payload    JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_type_created ON activities (type, created_at)`,
}

// Migrate creates the tables used by the Postgres stores.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
