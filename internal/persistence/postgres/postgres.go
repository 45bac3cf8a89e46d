// Package postgres implements the persistence interfaces on PostgreSQL via
// pgx. Schema migrations are embedded and applied with goose at startup.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Client wraps a pgx pool and hands out the store implementations.
type Client struct {
	pool *pgxpool.Pool
}

// Connect opens and verifies a connection pool.
func Connect(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Migrate applies all pending schema migrations.
func (c *Client) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(c.pool)
	defer db.Close()
	return goose.UpContext(ctx, db, "migrations")
}

// Close releases the pool.
func (c *Client) Close() { c.pool.Close() }

// Workflows returns the workflow store.
func (c *Client) Workflows() *WorkflowStore { return &WorkflowStore{pool: c.pool} }

// Bindings returns the trigger binding store.
func (c *Client) Bindings() *TriggerBindingStore { return &TriggerBindingStore{pool: c.pool} }

// Schedules returns the schedule store.
func (c *Client) Schedules() *ScheduleStore { return &ScheduleStore{pool: c.pool} }

// Runs returns the run store.
func (c *Client) Runs() *RunStore { return &RunStore{pool: c.pool} }

// Artifacts returns the artifact store.
func (c *Client) Artifacts() *ArtifactStore { return &ArtifactStore{pool: c.pool} }

// isDuplicate reports a unique constraint violation.
func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
