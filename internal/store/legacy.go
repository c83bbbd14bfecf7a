package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// sqliteKV keeps legacy keys next to the rest of the learner state.
type sqliteKV struct {
	db  *sql.DB
	now func() time.Time
}

func (k *sqliteKV) Get(ctx context.Context, key string) (string, bool, error) {
	q, args := dialectBuilder().
		Select("value").
		From(entsql.Table(tableLegacyKey)).
		Where(entsql.EQ("key", key)).
		Query()
	var v string
	err := k.db.QueryRowContext(ctx, q, args...).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get legacy key: %w", err)
	}
	return v, true, nil
}

func (k *sqliteKV) Set(ctx context.Context, key, value string) error {
	q, args := dialectBuilder().
		Insert(tableLegacyKey).
		Columns("key", "value", "updated_at").
		Values(key, value, millis(k.now())).
		OnConflict(entsql.ConflictColumns("key"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := k.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("set legacy key: %w", err)
	}
	return nil
}

func (k *sqliteKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	vals := make([]any, len(keys))
	for i, key := range keys {
		vals[i] = key
	}
	q, args := dialectBuilder().
		Delete(tableLegacyKey).
		Where(entsql.In("key", vals...)).
		Query()
	if _, err := k.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete legacy keys: %w", err)
	}
	return nil
}

func (k *sqliteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	sel := dialectBuilder().
		Select("key").
		From(entsql.Table(tableLegacyKey)).
		OrderBy("key")
	if prefix != "" {
		sel.Where(entsql.HasPrefix("key", prefix))
	}
	q, args := sel.Query()

	rows, err := k.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list legacy keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan legacy key: %w", err)
		}
		// LIKE treats '_' as a wildcard and legacy keys are full of them.
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
