package backup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend implements Backend on PostgreSQL: one JSONB row per
// notebook path. Intended for clients pointed at a shared workspace
// database rather than per-machine storage.
type PostgresBackend struct {
	config    *PostgresConfig
	pool      *pgxpool.Pool
	connected bool
}

// PostgresConfig holds configuration for the Postgres backend.
type PostgresConfig struct {
	ConnectionString  string
	PoolMinConns      int32
	PoolMaxConns      int32
	ConnectionTimeout time.Duration
}

// DefaultPostgresConfig returns sensible defaults
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		PoolMinConns:      2,
		PoolMaxConns:      10,
		ConnectionTimeout: 5 * time.Second,
	}
}

// NewPostgresBackend creates a new PostgreSQL backend.
func NewPostgresBackend(config *PostgresConfig) *PostgresBackend {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	return &PostgresBackend{config: config}
}

// Connect establishes the connection pool and ensures the schema exists.
func (p *PostgresBackend) Connect(ctx context.Context) error {
	poolConfig, err := pgxpool.ParseConfig(p.config.ConnectionString)
	if err != nil {
		return NewConnectionError("failed to parse connection string", err)
	}

	poolConfig.MinConns = p.config.PoolMinConns
	poolConfig.MaxConns = p.config.PoolMaxConns
	poolConfig.ConnConfig.ConnectTimeout = p.config.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return NewConnectionError("failed to connect to PostgreSQL", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return NewConnectionError("failed to ping PostgreSQL", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS notebook_backups (
			path       TEXT PRIMARY KEY,
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return NewQueryError("failed to ensure schema", err)
	}

	p.pool = pool
	p.connected = true
	return nil
}

// IsConnected returns connection status
func (p *PostgresBackend) IsConnected() bool {
	return p.connected && p.pool != nil
}

// HealthCheck verifies database connectivity
func (p *PostgresBackend) HealthCheck(ctx context.Context) (bool, error) {
	if !p.IsConnected() {
		return false, ErrNotConnected
	}
	err := p.pool.Ping(ctx)
	return err == nil, err
}

// Load retrieves the backups for a path.
func (p *PostgresBackend) Load(ctx context.Context, path string) (*Backups, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	query := `SELECT data FROM notebook_backups WHERE path = $1`
	row := p.pool.QueryRow(ctx, query, path)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, NewQueryError("failed to get backups", err)
	}

	var bs Backups
	if err := json.Unmarshal(raw, &bs); err != nil {
		return nil, NewQueryError("failed to unmarshal backups", err)
	}
	return &bs, nil
}

// Save upserts the backups for a path.
func (p *PostgresBackend) Save(ctx context.Context, path string, backups *Backups) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	raw, err := json.Marshal(backups)
	if err != nil {
		return NewQueryError("failed to marshal backups", err)
	}

	query := `
		INSERT INTO notebook_backups (path, data)
		VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE
		SET data = $2, updated_at = NOW()
	`
	if _, err := p.pool.Exec(ctx, query, path, raw); err != nil {
		return NewQueryError("failed to save backups", err)
	}
	return nil
}

// Paths lists every tracked notebook path.
func (p *PostgresBackend) Paths(ctx context.Context) ([]string, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}

	rows, err := p.pool.Query(ctx, `SELECT path FROM notebook_backups ORDER BY path`)
	if err != nil {
		return nil, NewQueryError("failed to list paths", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, NewQueryError("failed to scan path", err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// DeleteAll wipes the table.
func (p *PostgresBackend) DeleteAll(ctx context.Context) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}

	if _, err := p.pool.Exec(ctx, `DELETE FROM notebook_backups`); err != nil {
		return NewQueryError("failed to delete backups", err)
	}
	return nil
}

// Close shuts down the connection pool.
func (p *PostgresBackend) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.connected = false
	}
	return nil
}
