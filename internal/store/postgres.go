/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package store

import (
    "context"
    "errors"
    "time"

    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/rs/zerolog"
)

// Postgres keeps the whole keyspace in one kv table. Schema:
//
//   CREATE TABLE IF NOT EXISTS kv (
//       key        text PRIMARY KEY,
//       value      bytea NOT NULL,
//       updated_at timestamptz NOT NULL DEFAULT now()
//   );
type Postgres struct {
    pool *pgxpool.Pool
    log  zerolog.Logger
}

func MustOpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) *Postgres {
    pool, err := pgxpool.New(ctx, dsn)
    if err != nil { log.Fatal().Err(err).Msg("db connect failed") }
    ctx2, cancel := context.WithTimeout(ctx, 10*time.Second); defer cancel()
    if err := pool.Ping(ctx2); err != nil { log.Fatal().Err(err).Msg("db ping failed") }
    const ddl = `CREATE TABLE IF NOT EXISTS kv (
        key text PRIMARY KEY,
        value bytea NOT NULL,
        updated_at timestamptz NOT NULL DEFAULT now())`
    if _, err := pool.Exec(ctx2, ddl); err != nil { log.Fatal().Err(err).Msg("kv table create failed") }
    return &Postgres{pool: pool, log: log}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
    var value []byte
    err := p.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&value)
    if err != nil {
        if errors.Is(err, pgx.ErrNoRows) { return nil, false, nil }
        return nil, false, err
    }
    return value, true, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
    const q = `INSERT INTO kv(key, value, updated_at) VALUES($1,$2,now())
        ON CONFLICT(key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`
    _, err := p.pool.Exec(ctx, q, key, value)
    return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
    _, err := p.pool.Exec(ctx, `DELETE FROM kv WHERE key=$1`, key)
    return err
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]Entry, error) {
    const q = `SELECT key, octet_length(value), updated_at FROM kv
        WHERE key LIKE $1 || '%' ORDER BY key`
    rows, err := p.pool.Query(ctx, q, prefix)
    if err != nil { return nil, err }
    defer rows.Close()
    var out []Entry
    for rows.Next() {
        var e Entry
        if err := rows.Scan(&e.Key, &e.SizeBytes, &e.UpdatedAt); err != nil { return nil, err }
        out = append(out, e)
    }
    return out, rows.Err()
}

func (p *Postgres) Close() error { p.pool.Close(); return nil }
