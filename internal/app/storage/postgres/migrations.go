package postgres

import "context"

// migrations holds the schema DDL in apply order. Statements are idempotent
// so Migrate can run on every startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		balance       BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		token         TEXT NOT NULL DEFAULT '',
		terminal      TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id         TEXT PRIMARY KEY,
		owner_id   TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stores_owner ON stores (owner_id)`,
	`CREATE TABLE IF NOT EXISTS listings (
		store_id   TEXT NOT NULL REFERENCES stores(id),
		book_id    TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		author     TEXT NOT NULL DEFAULT '',
		price      BIGINT NOT NULL DEFAULT 0,
		stock      INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (store_id, book_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		buyer_id    TEXT NOT NULL,
		store_id    TEXT NOT NULL,
		status      TEXT NOT NULL,
		total_price BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders (buyer_id)`,
	`CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		book_id  TEXT NOT NULL,
		quantity INT NOT NULL,
		price    BIGINT NOT NULL,
		PRIMARY KEY (order_id, book_id)
	)`,
}

// Migrate creates the bookstore schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
