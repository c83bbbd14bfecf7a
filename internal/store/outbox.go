package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

type outboxRepo struct {
	db *sql.DB
}

var outboxColumns = []string{
	"id", "learner_id", "kind", "idempotency_key", "payload",
	"attempts", "next_attempt_at", "last_error", "created_at", "delivered_at",
}

func (r *outboxRepo) Enqueue(ctx context.Context, msgs ...OutboxMessage) error {
	return enqueue(ctx, r.db, time.Now(), msgs)
}

func enqueue(ctx context.Context, x execer, now time.Time, msgs []OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	ins := dialectBuilder().
		Insert(tableOutbox).
		Columns("learner_id", "kind", "idempotency_key", "payload",
			"attempts", "next_attempt_at", "last_error", "created_at", "delivered_at")
	for _, m := range msgs {
		ins.Values(m.LearnerID, m.Kind, m.IdempotencyKey, string(m.Payload), 0, millis(now), "", millis(now), 0)
	}
	q, args := ins.OnConflict(entsql.ConflictColumns("idempotency_key"), entsql.DoNothing()).Query()
	if _, err := x.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

func (r *outboxRepo) Due(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error) {
	sel := dialectBuilder().
		Select(outboxColumns...).
		From(entsql.Table(tableOutbox)).
		Where(entsql.And(
			entsql.EQ("delivered_at", 0),
			entsql.LTE("next_attempt_at", millis(now)),
		)).
		OrderBy("id")
	if limit > 0 {
		sel.Limit(limit)
	}
	q, args := sel.Query()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var (
			e                        OutboxEntry
			payload                  string
			next, created, delivered int64
		)
		if err := rows.Scan(&e.ID, &e.LearnerID, &e.Kind, &e.IdempotencyKey, &payload,
			&e.Attempts, &next, &e.LastError, &created, &delivered); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		e.Payload = []byte(payload)
		e.NextAttemptAt = fromMillis(next)
		e.CreatedAt = fromMillis(created)
		e.DeliveredAt = fromMillis(delivered)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *outboxRepo) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	q, args := dialectBuilder().
		Update(tableOutbox).
		Set("delivered_at", millis(at)).
		Add("attempts", 1).
		Set("last_error", "").
		Where(entsql.EQ("id", id)).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, id int64, errMsg string, next time.Time) error {
	q, args := dialectBuilder().
		Update(tableOutbox).
		Add("attempts", 1).
		Set("last_error", errMsg).
		Set("next_attempt_at", millis(next)).
		Where(entsql.EQ("id", id)).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *outboxRepo) Undelivered(ctx context.Context) (int, error) {
	q, args := dialectBuilder().
		Select(entsql.Count("*")).
		From(entsql.Table(tableOutbox)).
		Where(entsql.EQ("delivered_at", 0)).
		Query()
	var n int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}
