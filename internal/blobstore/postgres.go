package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"mlreg/pkg/db"
)

// PostgresStore keeps documents in the blobs table created by the db migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a store over pool. The schema must already be migrated.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("db pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := db.Exec(ctx, p.pool, `
		INSERT INTO blobs (key, value, created_at, updated_at)
		VALUES ($1, $2::jsonb, now(), now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, string(value))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := db.Get(ctx, p.pool, &value, `SELECT value::text FROM blobs WHERE key = $1`, key)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return []byte(value), nil
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := db.Exec(ctx, p.pool, `DELETE FROM blobs WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := db.Select(ctx, p.pool, &keys,
		`SELECT key FROM blobs WHERE key LIKE $1 ESCAPE '\' ORDER BY key`,
		likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
