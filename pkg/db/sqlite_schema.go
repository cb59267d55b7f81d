package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// sqliteSchema mirrors the goose migrations for local runs and tests. Partial
// unique indexes carry the same invariants as on Postgres.
var sqliteSchema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		primary_image TEXT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS image_blobs (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		size_class TEXT NOT NULL,
		object_key TEXT NOT NULL,
		url TEXT NOT NULL,
		digest TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'ready',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_image_blobs_object_key ON image_blobs (object_key)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_image_blobs_ready_variant ON image_blobs (scope, content_hash, size_class) WHERE status = 'ready'`,
	`CREATE TABLE IF NOT EXISTS image_assets (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		blob_id TEXT NOT NULL REFERENCES image_blobs(id),
		content_hash TEXT NOT NULL,
		size_class TEXT NOT NULL,
		image_index INTEGER NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT 0,
		url TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_image_assets_slot ON image_assets (product_id, size_class, image_index)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_image_assets_hash ON image_assets (product_id, content_hash, size_class)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_image_assets_primary ON image_assets (product_id) WHERE is_primary`,
	`CREATE TABLE IF NOT EXISTS carousel_entries (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		image_asset_id TEXT NULL REFERENCES image_assets(id) ON DELETE SET NULL,
		active BOOLEAN NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0,
		activated_at DATETIME NULL,
		deactivated_at DATETIME NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_carousel_entries_active_order ON carousel_entries (display_order) WHERE active`,
	`CREATE TABLE IF NOT EXISTS product_occasion_links (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		occasion_id TEXT NOT NULL,
		created_at DATETIME,
		PRIMARY KEY (product_id, occasion_id)
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_dlq_event_id ON outbox_dlq (event_id)`,
}

// EnsureSQLiteSchema creates the image pipeline tables on a sqlite connection.
func EnsureSQLiteSchema(ctx context.Context, conn *gorm.DB) error {
	if name := conn.Dialector.Name(); name != "sqlite" {
		return fmt.Errorf("sqlite schema requested on %s", name)
	}
	for _, stmt := range sqliteSchema {
		if err := conn.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
