package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ad-traffic-router/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS hash_fields (
	map_name   TEXT        NOT NULL,
	field      TEXT        NOT NULL,
	value      TEXT        NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (map_name, field)
)`

type PostgresGateway struct {
	pool *pgxpool.Pool
}

func NewPostgresGateway(ctx context.Context, cfg config.Config) (*PostgresGateway, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	g := &PostgresGateway{pool: pool}
	if err := connect(ctx, "postgres", cfg.Store.ConnectAttempts, cfg.Store.ConnectBackoff, g.migrate); err != nil {
		pool.Close()
		return nil, err
	}
	return g, nil
}

func (g *PostgresGateway) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := g.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create hash_fields: %w", err)
	}
	return nil
}

func (g *PostgresGateway) FieldGet(ctx context.Context, mapName, field string) (string, bool, error) {
	var v string
	err := g.pool.QueryRow(ctx,
		`SELECT value FROM hash_fields WHERE map_name = $1 AND field = $2`,
		mapName, field,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("select field", err)
	}
	return v, true, nil
}

func (g *PostgresGateway) FieldGetAll(ctx context.Context, mapName string) (map[string]string, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT field, value FROM hash_fields WHERE map_name = $1`,
		mapName,
	)
	if err != nil {
		return nil, unavailable("query map", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, unavailable("scan row", err)
		}
		out[field] = value
	}
	if rows.Err() != nil {
		return nil, unavailable("query map", rows.Err())
	}
	return out, nil
}

func (g *PostgresGateway) FieldSet(ctx context.Context, mapName, field, value string) error {
	_, err := g.pool.Exec(ctx, `
		INSERT INTO hash_fields (map_name, field, value) VALUES ($1, $2, $3)
		ON CONFLICT (map_name, field) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		mapName, field, value,
	)
	if err != nil {
		return unavailable("upsert field", err)
	}
	return nil
}

func (g *PostgresGateway) FieldSetIfAbsent(ctx context.Context, mapName, field, value string) (bool, error) {
	tag, err := g.pool.Exec(ctx, `
		INSERT INTO hash_fields (map_name, field, value) VALUES ($1, $2, $3)
		ON CONFLICT (map_name, field) DO NOTHING`,
		mapName, field, value,
	)
	if err != nil {
		return false, unavailable("insert field", err)
	}
	return tag.RowsAffected() == 1, nil
}

// IncrementWithCeiling makes sure the row exists, then reads and rewrites
// it under FOR UPDATE, so concurrent callers queue on the row lock.
func (g *PostgresGateway) IncrementWithCeiling(ctx context.Context, mapName, field string, ceiling int64) (int64, bool, error) {
	if ceiling <= 0 {
		return g.currentCount(ctx, mapName, field)
	}

	var (
		n  int64
		ok bool
	)
	err := pgx.BeginFunc(ctx, g.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO hash_fields (map_name, field, value) VALUES ($1, $2, '0')
			ON CONFLICT (map_name, field) DO NOTHING`,
			mapName, field,
		); err != nil {
			return err
		}
		var raw string
		if err := tx.QueryRow(ctx,
			`SELECT value FROM hash_fields WHERE map_name = $1 AND field = $2 FOR UPDATE`,
			mapName, field,
		).Scan(&raw); err != nil {
			return err
		}
		cur, err := ParseCount(raw)
		if err != nil {
			return err
		}
		if cur >= ceiling {
			n = cur
			return nil
		}
		n, ok = cur+1, true
		_, err = tx.Exec(ctx,
			`UPDATE hash_fields SET value = $3, updated_at = now() WHERE map_name = $1 AND field = $2`,
			mapName, field, strconv.FormatInt(n, 10),
		)
		return err
	})
	if errors.Is(err, ErrCorrupt) {
		return 0, false, fmt.Errorf("field %s/%s: %w", mapName, field, err)
	}
	if err != nil {
		return 0, false, unavailable("increment field", err)
	}
	return n, ok, nil
}

func (g *PostgresGateway) currentCount(ctx context.Context, mapName, field string) (int64, bool, error) {
	v, ok, err := g.FieldGet(ctx, mapName, field)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := ParseCount(v)
	if err != nil {
		return 0, false, fmt.Errorf("field %s/%s: %w", mapName, field, err)
	}
	return n, false, nil
}

func (g *PostgresGateway) Ping(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (g *PostgresGateway) Close() error {
	if g.pool != nil {
		g.pool.Close()
	}
	return nil
}
