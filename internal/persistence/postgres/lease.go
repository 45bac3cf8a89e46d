package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weave-hq/weave/internal/core"
)

// Lease implements advisory ownership over shared keys with a leases table.
// Expired leases are stolen on the next Acquire; a live lease owned by
// another process yields core.ErrLeaseHeld.
type Lease struct {
	pool  *pgxpool.Pool
	owner string
	clock core.Clock
}

var _ core.Lease = (*Lease)(nil)

// NewLease creates a lease handle with a fresh owner identity.
func NewLease(pool *pgxpool.Pool) *Lease {
	return &Lease{pool: pool, owner: uuid.NewString(), clock: time.Now}
}

// Lease returns a lease handle bound to this client's pool.
func (c *Client) Lease() *Lease { return NewLease(c.pool) }

// Acquire takes or renews the lease. The conditional upsert is the whole
// protocol: it wins only against ourselves or an expired owner.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	expires := l.clock().UTC().Add(ttl)
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO leases (key, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE leases.owner = EXCLUDED.owner OR leases.expires_at < now()`,
		key, l.owner, expires)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrLeaseHeld
	}
	return nil
}

// Renew extends a lease this owner already holds.
func (l *Lease) Renew(ctx context.Context, key string, ttl time.Duration) error {
	expires := l.clock().UTC().Add(ttl)
	tag, err := l.pool.Exec(ctx,
		`UPDATE leases SET expires_at = $3 WHERE key = $1 AND owner = $2`,
		key, l.owner, expires)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrLeaseHeld
	}
	return nil
}

// Release drops the lease if this owner holds it.
func (l *Lease) Release(ctx context.Context, key string) error {
	_, err := l.pool.Exec(ctx,
		`DELETE FROM leases WHERE key = $1 AND owner = $2`,
		key, l.owner)
	return err
}
