package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the same append-only log semantics as JSONLStore in a
// single jsonb-record table, one logical store per name. It exists so the
// engine can be swapped in without touching callers.
type PostgresStore[T any] struct {
	pool *pgxpool.Pool
	name string
	key  KeyFunc[T]
}

func NewPostgresStore[T any](pool *pgxpool.Pool, name string, key KeyFunc[T]) *PostgresStore[T] {
	return &PostgresStore[T]{pool: pool, name: name, key: key}
}

// EnsureSchema creates the shared records table.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			seq BIGSERIAL PRIMARY KEY,
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			data JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_store_key ON records (store, key, seq);
	`)
	return err
}

func (s *PostgresStore[T]) Append(ctx context.Context, rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO records (store, key, data) VALUES ($1, $2, $3)`,
		s.name, s.key(rec), data)
	return err
}

func (s *PostgresStore[T]) readAll(ctx context.Context) ([]T, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM records WHERE store = $1 ORDER BY seq`, s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec T
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("corrupt record in store %s: %w", s.name, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dedupeByKey(recs, s.key), nil
}

func (s *PostgresStore[T]) ReadAll(ctx context.Context) ([]T, error) {
	return s.readAll(ctx)
}

func (s *PostgresStore[T]) Filter(ctx context.Context, pred func(T) bool) ([]T, error) {
	recs, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	for _, r := range recs {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *PostgresStore[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	var zero T
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE store = $1 AND key = $2 ORDER BY seq DESC LIMIT 1`,
		s.name, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return zero, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore[T]) Upsert(ctx context.Context, rec T) error {
	return s.Append(ctx, rec)
}

func (s *PostgresStore[T]) DeleteWhere(ctx context.Context, pred func(T) bool) (int, error) {
	recs, err := s.readAll(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, r := range recs {
		if !pred(r) {
			continue
		}
		if _, err := s.pool.Exec(ctx, `DELETE FROM records WHERE store = $1 AND key = $2`,
			s.name, s.key(r)); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Compact removes superseded versions, keeping only the latest row per key.
func (s *PostgresStore[T]) Compact(ctx context.Context) (int64, error) {
	var reclaimed int64
	err := s.pool.QueryRow(ctx, `
		WITH del AS (
			DELETE FROM records r
			WHERE r.store = $1
			  AND r.seq < (SELECT max(seq) FROM records m WHERE m.store = r.store AND m.key = r.key)
			RETURNING pg_column_size(r.data) AS bytes
		)
		SELECT COALESCE(SUM(bytes), 0) FROM del
	`, s.name).Scan(&reclaimed)
	return reclaimed, err
}
