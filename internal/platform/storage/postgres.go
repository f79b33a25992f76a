package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// NewPool opens and pings a pgx connection pool.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Querier is the subset of *pgxpool.Pool the Postgres gateway uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const createCollectionsTable = `CREATE TABLE IF NOT EXISTS hms_collections (
    name TEXT PRIMARY KEY,
    body JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresGateway keeps each collection as one JSONB document in the
// hms_collections table.
type PostgresGateway struct {
	db Querier
}

// NewPostgresGateway returns a gateway over db.
func NewPostgresGateway(db Querier) *PostgresGateway {
	return &PostgresGateway{db: db}
}

func (g *PostgresGateway) Read(ctx context.Context, c Collection) ([]byte, error) {
	var body string
	err := g.db.QueryRow(ctx, `SELECT body::text FROM hms_collections WHERE name = $1`, string(c)).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", c, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("select collection %s: %w", c, err)
	}
	return []byte(body), nil
}

func (g *PostgresGateway) Write(ctx context.Context, c Collection, data []byte) error {
	_, err := g.db.Exec(ctx, `INSERT INTO hms_collections (name, body, updated_at)
VALUES ($1, $2::jsonb, NOW())
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		string(c), string(data))
	if err != nil {
		return fmt.Errorf("upsert collection %s: %w", c, err)
	}
	return nil
}

func (g *PostgresGateway) Ensure(ctx context.Context, c Collection) error {
	if _, err := g.db.Exec(ctx, createCollectionsTable); err != nil {
		return fmt.Errorf("create hms_collections: %w", err)
	}
	_, err := g.db.Exec(ctx, `INSERT INTO hms_collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, string(c))
	if err != nil {
		return fmt.Errorf("seed collection %s: %w", c, err)
	}
	return nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the database answers a ping.
func HealthHandler(db Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
		})
	}
}
