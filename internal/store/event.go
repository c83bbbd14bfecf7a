package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// sequenceCounter hands out one global, gap-free ordering across event
// tables. It lives outside the ent-managed schema because the increment
// has to be a single atomic UPDATE ... RETURNING.
type sequenceCounter struct {
	mu sync.Mutex
	db *sql.DB
}

func newSequenceCounter(db *sql.DB) (*sequenceCounter, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS global_sequence (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		next_val INTEGER NOT NULL DEFAULT 1
	)`)
	if err != nil {
		return nil, fmt.Errorf("create sequence table: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO global_sequence (id, next_val) VALUES (1, 1)`); err != nil {
		return nil, fmt.Errorf("seed sequence: %w", err)
	}
	return &sequenceCounter{db: db}, nil
}

// Next returns the next sequence number.
func (sc *sequenceCounter) Next(ctx context.Context) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var seq int64
	err := sc.db.QueryRowContext(ctx,
		`UPDATE global_sequence SET next_val = next_val + 1 WHERE id = 1 RETURNING next_val - 1`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

type eventRepo struct {
	db  *sql.DB
	seq *sequenceCounter
	now func() time.Time
}

var gradingColumns = []string{
	"sequence", "timestamp", "backend", "model", "purpose", "task_id",
	"input_tokens", "output_tokens", "latency_ms", "success", "error_message",
	"request_body", "response_body",
}

func (r *eventRepo) AppendGradingEvent(ctx context.Context, d GradingEventData) error {
	seqNum, err := r.seq.Next(ctx)
	if err != nil {
		return err
	}
	q, args := dialectBuilder().
		Insert(tableGradingEvent).
		Columns(gradingColumns...).
		Values(seqNum, millis(r.now()), d.Backend, d.Model, d.Purpose, d.TaskID,
			d.InputTokens, d.OutputTokens, d.LatencyMs, d.Success, d.ErrorMessage,
			d.RequestBody, d.ResponseBody).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("save grading event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryGradingEvents(ctx context.Context, opts QueryOpts) ([]GradingEvent, error) {
	var preds []*entsql.Predicate
	if opts.After > 0 {
		preds = append(preds, entsql.GT("sequence", opts.After))
	}
	if opts.Before > 0 {
		preds = append(preds, entsql.LT("sequence", opts.Before))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("timestamp", millis(opts.From)))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("timestamp", millis(opts.To)))
	}

	sel := dialectBuilder().
		Select(gradingColumns...).
		From(entsql.Table(tableGradingEvent)).
		OrderBy(entsql.Desc("sequence"))
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}
	q, args := sel.Query()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query grading events: %w", err)
	}
	defer rows.Close()

	var out []GradingEvent
	for rows.Next() {
		e, err := scanGradingEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *eventRepo) GetGradingEvent(ctx context.Context, seq int64) (*GradingEvent, error) {
	q, args := dialectBuilder().
		Select(gradingColumns...).
		From(entsql.Table(tableGradingEvent)).
		Where(entsql.EQ("sequence", seq)).
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get grading event: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, nil
	}
	return scanGradingEvent(rows)
}

func scanGradingEvent(rows *sql.Rows) (*GradingEvent, error) {
	var (
		e  GradingEvent
		ts int64
	)
	err := rows.Scan(&e.Sequence, &ts, &e.Backend, &e.Model, &e.Purpose, &e.TaskID,
		&e.InputTokens, &e.OutputTokens, &e.LatencyMs, &e.Success, &e.ErrorMessage,
		&e.RequestBody, &e.ResponseBody)
	if err != nil {
		return nil, fmt.Errorf("scan grading event: %w", err)
	}
	e.Timestamp = fromMillis(ts)
	return &e, nil
}
