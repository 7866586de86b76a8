package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is applied by Migrate on startup and by tests. Holds are never
// deleted; the partial index keeps the sweep scan cheap as the table grows.
const Schema = `
CREATE TABLE IF NOT EXISTS capacity_pools (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL CHECK (kind IN ('ticket_tier', 'instance_capacity', 'resource')),
	capacity INT,
	confirmed_count INT NOT NULL DEFAULT 0 CHECK (confirmed_count >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS holds (
	id UUID PRIMARY KEY,
	pool_id UUID NOT NULL REFERENCES capacity_pools (id),
	owner_ref TEXT NOT NULL DEFAULT '',
	quantity INT NOT NULL CHECK (quantity > 0),
	status TEXT NOT NULL CHECK (status IN ('active', 'released', 'confirmed')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL,
	released_at TIMESTAMPTZ,
	confirmed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS holds_active_expiry_idx
	ON holds (expires_at) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS holds_pool_status_idx
	ON holds (pool_id, status);
CREATE INDEX IF NOT EXISTS holds_owner_idx
	ON holds (owner_ref);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	dedupe_key TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS outbox_new_idx
	ON outbox (created_at) WHERE status = 'NEW';
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
