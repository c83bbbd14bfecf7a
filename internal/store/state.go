package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

type stateRepo struct {
	db  *sql.DB
	now func() time.Time
}

var learnerColumns = []string{"learner_id", "node_key", "level", "visit", "visit_id", "updated_at"}

func (r *stateRepo) LoadLearner(ctx context.Context, learnerID string) (*LearnerRecord, error) {
	q, args := dialectBuilder().
		Select(learnerColumns...).
		From(entsql.Table(tableLearnerState)).
		Where(entsql.EQ("learner_id", learnerID)).
		Query()

	var (
		rec            LearnerRecord
		nodeKey, level string
		updated        int64
	)
	err := r.db.QueryRowContext(ctx, q, args...).
		Scan(&rec.LearnerID, &nodeKey, &level, &rec.Visit, &rec.VisitID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load learner: %w", err)
	}

	if rec.Node, err = curriculum.ParseNodeKey(nodeKey); err != nil {
		return nil, fmt.Errorf("load learner: %w", err)
	}
	if rec.Level, err = curriculum.ParseLevel(level); err != nil {
		return nil, fmt.Errorf("load learner: %w", err)
	}
	rec.UpdatedAt = fromMillis(updated)
	return &rec, nil
}

func (r *stateRepo) SaveLearner(ctx context.Context, rec LearnerRecord) error {
	return saveLearner(ctx, r.db, r.stamp(rec))
}

func (r *stateRepo) stamp(rec LearnerRecord) LearnerRecord {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = r.now()
	}
	return rec
}

func saveLearner(ctx context.Context, x execer, rec LearnerRecord) error {
	q, args := dialectBuilder().
		Insert(tableLearnerState).
		Columns(learnerColumns...).
		Values(rec.LearnerID, rec.Node.Key(), string(rec.Level), rec.Visit, rec.VisitID, millis(rec.UpdatedAt)).
		OnConflict(entsql.ConflictColumns("learner_id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := x.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("save learner: %w", err)
	}
	return nil
}

func (r *stateRepo) PutPending(ctx context.Context, a learner.Attempt) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode attempt: %w", err)
	}
	q, args := dialectBuilder().
		Insert(tablePendingAttempt).
		Columns("learner_id", "visit_id", "task_id", "attempt_id", "step_id", "payload", "created_at").
		Values(a.LearnerID, a.VisitID, a.TaskID, a.AttemptID, a.StepID, string(payload), millis(r.now())).
		OnConflict(entsql.ConflictColumns("learner_id", "visit_id", "task_id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("put pending attempt: %w", err)
	}
	return nil
}

func (r *stateRepo) PendingAttempts(ctx context.Context, learnerID, visitID string) ([]learner.Attempt, error) {
	q, args := dialectBuilder().
		Select("payload").
		From(entsql.Table(tablePendingAttempt)).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("visit_id", visitID),
		)).
		OrderBy("task_id").
		Query()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending attempts: %w", err)
	}
	defer rows.Close()

	var out []learner.Attempt
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan pending attempt: %w", err)
		}
		var a learner.Attempt
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("decode pending attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *stateRepo) DiscardStalePending(ctx context.Context, learnerID, keepVisitID string) (int, error) {
	q, args := dialectBuilder().
		Delete(tablePendingAttempt).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.NEQ("visit_id", keepVisitID),
		)).
		Query()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("discard stale pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *stateRepo) DiscardPendingTask(ctx context.Context, learnerID, visitID, taskID string) error {
	q, args := dialectBuilder().
		Delete(tablePendingAttempt).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("visit_id", visitID),
			entsql.EQ("task_id", taskID),
		)).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("discard pending task: %w", err)
	}
	return nil
}

func (r *stateRepo) ConfirmStep(ctx context.Context, c Confirmation) error {
	node, err := c.Result.Node()
	if err != nil {
		return fmt.Errorf("confirm step: %w", err)
	}
	level := c.Result.Level
	if node.Track == curriculum.TrackRemedial {
		level = node.Level
	}
	payload, err := json.Marshal(c.Result)
	if err != nil {
		return fmt.Errorf("encode step result: %w", err)
	}
	learnerID := c.Next.LearnerID
	now := r.now()
	decided := c.Result.DecidedAt
	if decided.IsZero() {
		decided = now
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		q, args := dialectBuilder().
			Insert(tableStepResult).
			Columns("learner_id", "step_id", "visit_id", "node_key", "track", "level",
				"total_score", "max_score", "bonus_score", "threshold", "passed", "payload", "decided_at").
			Values(learnerID, c.Result.StepID, c.Result.VisitID, c.Result.NodeKey, string(node.Track), string(level),
				c.Result.TotalScore, c.Result.MaxScore, c.Result.BonusScore, c.Result.Threshold, c.Result.Passed,
				string(payload), millis(decided)).
			OnConflict(entsql.ConflictColumns("learner_id", "step_id", "visit_id"), entsql.ResolveWithNewValues()).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert step result: %w", err)
		}

		if c.ClearRemedial != "" {
			if _, err := clearRemedial(ctx, tx, learnerID, c.ClearRemedial); err != nil {
				return err
			}
		}

		q, args = dialectBuilder().
			Delete(tablePendingAttempt).
			Where(entsql.EQ("learner_id", learnerID)).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}

		next := c.Next
		next.UpdatedAt = now
		if err := saveLearner(ctx, tx, next); err != nil {
			return err
		}
		return enqueue(ctx, tx, now, c.Outbox)
	})
}

func (r *stateRepo) StepResults(ctx context.Context, learnerID string) ([]learner.StepResult, error) {
	q, args := dialectBuilder().
		Select("payload").
		From(entsql.Table(tableStepResult)).
		Where(entsql.EQ("learner_id", learnerID)).
		OrderBy("decided_at", "id").
		Query()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query step results: %w", err)
	}
	defer rows.Close()

	var out []learner.StepResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan step result: %w", err)
		}
		var res learner.StepResult
		if err := json.Unmarshal([]byte(payload), &res); err != nil {
			return nil, fmt.Errorf("decode step result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *stateRepo) ClearRemedialResults(ctx context.Context, learnerID string, level curriculum.Level) (int, error) {
	return clearRemedial(ctx, r.db, learnerID, level)
}

func clearRemedial(ctx context.Context, x execer, learnerID string, level curriculum.Level) (int, error) {
	q, args := dialectBuilder().
		Delete(tableStepResult).
		Where(entsql.And(
			entsql.EQ("learner_id", learnerID),
			entsql.EQ("track", string(curriculum.TrackRemedial)),
			entsql.EQ("level", string(level)),
		)).
		Query()
	res, err := x.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("clear remedial results: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *stateRepo) ResetLearner(ctx context.Context, learnerID string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, table := range []string{tableLearnerState, tablePendingAttempt, tableStepResult, tableOutbox} {
			q, args := dialectBuilder().
				Delete(table).
				Where(entsql.EQ("learner_id", learnerID)).
				Query()
			if _, err := tx.ExecContext(ctx, q, args...); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}
