package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)
	db := s.DB()

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"synchronous", "1"}, // NORMAL = 1
	}
	for _, tt := range tests {
		var got string
		if err := db.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Errorf("PRAGMA %s: %v", tt.pragma, err)
			continue
		}
		if got != tt.want {
			t.Errorf("PRAGMA %s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestAutoMigrationCreatesTables(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{
		tableLearnerState, tablePendingAttempt, tableStepResult,
		tableOutbox, tableLegacyKey, tableGradingEvent,
	} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestMigratedColumnsFollowSchema(t *testing.T) {
	s := openTestStore(t)
	for _, want := range tables() {
		rows, err := s.DB().Query("SELECT name, \"notnull\" FROM pragma_table_info(?)", want.Name)
		if err != nil {
			t.Fatalf("table_info %s: %v", want.Name, err)
		}
		got := make(map[string]bool)
		for rows.Next() {
			var (
				name    string
				notNull bool
			)
			if err := rows.Scan(&name, &notNull); err != nil {
				t.Fatalf("scan %s: %v", want.Name, err)
			}
			got[name] = notNull
		}
		rows.Close()

		if len(got) != len(want.Columns) {
			t.Errorf("%s has %d columns, schema has %d", want.Name, len(got), len(want.Columns))
		}
		for _, c := range want.Columns {
			notNull, ok := got[c.Name]
			if !ok {
				t.Errorf("%s.%s missing", want.Name, c.Name)
				continue
			}
			if c.Name != "id" && notNull == c.Nullable {
				t.Errorf("%s.%s not null = %v, schema nullable = %v", want.Name, c.Name, notNull, c.Nullable)
			}
		}
	}

	var unique int
	err := s.DB().QueryRow(
		`SELECT "unique" FROM pragma_index_list(?) WHERE name = ?`,
		tablePendingAttempt, tablePendingAttempt+"_learner_id_visit_id_task_id",
	).Scan(&unique)
	if err != nil {
		t.Fatalf("pending attempt index: %v", err)
	}
	if unique != 1 {
		t.Errorf("pending attempt index unique = %d, want 1", unique)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

func TestSequenceCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seq, err := s.seq.Next(ctx)
		if err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if seq != int64(i) {
			t.Errorf("seq = %d, want %d", seq, i)
		}
	}
}

func TestLearnerSaveLoad(t *testing.T) {
	s := openTestStore(t)
	repo := s.StateRepo()
	ctx := context.Background()

	got, err := repo.LoadLearner(ctx, "nobody")
	if err != nil || got != nil {
		t.Fatalf("LoadLearner(missing) = %v, %v; want nil, nil", got, err)
	}

	rec := LearnerRecord{
		LearnerID: "l1",
		Node:      curriculum.Remedial(curriculum.B1, 2),
		Level:     curriculum.B1,
		Visit:     7,
		VisitID:   "v7",
	}
	if err := repo.SaveLearner(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec.Visit = 8
	rec.VisitID = "v8"
	if err := repo.SaveLearner(ctx, rec); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err = repo.LoadLearner(ctx, "l1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Node != rec.Node || got.Level != curriculum.B1 || got.Visit != 8 || got.VisitID != "v8" {
		t.Errorf("loaded %+v, want %+v", got, rec)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be stamped")
	}
}

func attempt(taskID, visitID string, score int) learner.Attempt {
	return learner.Attempt{
		AttemptID: taskID + "-" + visitID,
		LearnerID: "l1",
		TaskID:    taskID,
		StepID:    "s1",
		NodeKey:   curriculum.Main(1, 1).Key(),
		VisitID:   visitID,
		RawScore:  score,
		MaxScore:  4,
		ScoredBy:  learner.ScoredByLocal,
		Timestamp: time.Now().UTC(),
	}
}

func TestPendingUpsertReplacesByTask(t *testing.T) {
	s := openTestStore(t)
	repo := s.StateRepo()
	ctx := context.Background()

	for _, a := range []learner.Attempt{
		attempt("t1", "v1", 1),
		attempt("t2", "v1", 2),
		attempt("t1", "v1", 4), // resubmission replaces
	} {
		if err := repo.PutPending(ctx, a); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	got, err := repo.PendingAttempts(ctx, "l1", "v1")
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("pending = %d, want 2", len(got))
	}
	if got[0].TaskID != "t1" || got[0].RawScore != 4 {
		t.Errorf("t1 = %+v, want replaced score 4", got[0])
	}
}

func TestDiscardStalePending(t *testing.T) {
	s := openTestStore(t)
	repo := s.StateRepo()
	ctx := context.Background()

	repo.PutPending(ctx, attempt("t1", "old", 3))
	repo.PutPending(ctx, attempt("t2", "old", 3))
	repo.PutPending(ctx, attempt("t1", "cur", 1))

	n, err := repo.DiscardStalePending(ctx, "l1", "cur")
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if n != 2 {
		t.Errorf("discarded = %d, want 2", n)
	}
	cur, _ := repo.PendingAttempts(ctx, "l1", "cur")
	if len(cur) != 1 {
		t.Errorf("current visit pending = %d, want 1", len(cur))
	}

	if err := repo.DiscardPendingTask(ctx, "l1", "cur", "t1"); err != nil {
		t.Fatalf("discard task: %v", err)
	}
	cur, _ = repo.PendingAttempts(ctx, "l1", "cur")
	if len(cur) != 0 {
		t.Errorf("pending after task discard = %d, want 0", len(cur))
	}
}

func remedialResult(level curriculum.Level, step int, visit string, passed bool) learner.StepResult {
	return learner.StepResult{
		StepID:    "r-" + string(level) + "-" + visit,
		NodeKey:   curriculum.Remedial(level, step).Key(),
		Level:     level,
		VisitID:   visit,
		MaxScore:  5,
		Threshold: 4,
		Passed:    passed,
	}
}

func TestConfirmStepIsAtomic(t *testing.T) {
	s := openTestStore(t)
	repo := s.StateRepo()
	outbox := s.OutboxRepo()
	ctx := context.Background()

	repo.PutPending(ctx, attempt("t1", "v1", 3))

	res := learner.StepResult{
		StepID:     "s1",
		NodeKey:    curriculum.Main(1, 1).Key(),
		Level:      curriculum.A2,
		VisitID:    "v1",
		TotalScore: 6,
		MaxScore:   8,
		Threshold:  6,
		Passed:     true,
	}
	next := LearnerRecord{LearnerID: "l1", Node: curriculum.Main(1, 2), Level: curriculum.A2, Visit: 2, VisitID: "v2"}
	msg := OutboxMessage{LearnerID: "l1", Kind: OutboxStep, IdempotencyKey: "step/l1/s1/v1", Payload: []byte(`{}`)}

	if err := repo.ConfirmStep(ctx, Confirmation{Result: res, Next: next, Outbox: []OutboxMessage{msg}}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// Replaying the same confirmation is harmless.
	if err := repo.ConfirmStep(ctx, Confirmation{Result: res, Next: next, Outbox: []OutboxMessage{msg}}); err != nil {
		t.Fatalf("confirm replay: %v", err)
	}

	results, err := repo.StepResults(ctx, "l1")
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 || !results[0].Passed || results[0].TotalScore != 6 {
		t.Fatalf("results = %+v", results)
	}

	rec, _ := repo.LoadLearner(ctx, "l1")
	if rec == nil || rec.Node != curriculum.Main(1, 2) || rec.VisitID != "v2" {
		t.Fatalf("learner = %+v", rec)
	}

	pending, _ := repo.PendingAttempts(ctx, "l1", "v1")
	if len(pending) != 0 {
		t.Errorf("pending after confirm = %d, want 0", len(pending))
	}

	n, _ := outbox.Undelivered(ctx)
	if n != 1 {
		t.Errorf("outbox = %d, want 1 (idempotent enqueue)", n)
	}
}

func TestConfirmStepClearsRemedialLevel(t *testing.T) {
	s := openTestStore(t)
	repo := s.StateRepo()
	ctx := context.Background()
	next := LearnerRecord{LearnerID: "l1", Node: curriculum.Remedial(curriculum.B1, 1), Level: curriculum.B1, Visit: 1, VisitID: "x"}

	for _, r := range []learner.StepResult{
		remedialResult(curriculum.B1, 1, "a", true),
		remedialResult(curriculum.A2, 1, "b", true),
	} {
		if err := repo.ConfirmStep(ctx, Confirmation{Result: r, Next: next}); err != nil {
			t.Fatalf("confirm: %v", err)
		}
	}

	failed := remedialResult(curriculum.B1, 2, "c", false)
	if err := repo.ConfirmStep(ctx, Confirmation{Result: failed, Next: next, ClearRemedial: curriculum.B1}); err != nil {
		t.Fatalf("confirm fail: %v", err)
	}

	results, _ := repo.StepResults(ctx, "l1")
	if len(results) != 1 || results[0].Level != curriculum.A2 {
		t.Fatalf("results = %+v, want only the A2 result", results)
	}
}

func TestResetLearner(t *testing.T) {
	s := openTestStore(t)
	repo := s.StateRepo()
	ctx := context.Background()

	repo.SaveLearner(ctx, LearnerRecord{LearnerID: "l1", Node: curriculum.Main(1, 1), Level: curriculum.A1, Visit: 1, VisitID: "v1"})
	repo.SaveLearner(ctx, LearnerRecord{LearnerID: "l2", Node: curriculum.Main(1, 1), Level: curriculum.A1, Visit: 1, VisitID: "v1"})
	repo.PutPending(ctx, attempt("t1", "v1", 1))

	if err := repo.ResetLearner(ctx, "l1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if rec, _ := repo.LoadLearner(ctx, "l1"); rec != nil {
		t.Error("expected l1 to be gone")
	}
	if rec, _ := repo.LoadLearner(ctx, "l2"); rec == nil {
		t.Error("expected l2 to survive")
	}
	if p, _ := repo.PendingAttempts(ctx, "l1", "v1"); len(p) != 0 {
		t.Error("expected pending attempts to be gone")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := openTestStore(t)
	repo := s.OutboxRepo()
	ctx := context.Background()

	err := repo.Enqueue(ctx,
		OutboxMessage{LearnerID: "l1", Kind: OutboxAttempt, IdempotencyKey: "a1", Payload: []byte(`{"n":1}`)},
		OutboxMessage{LearnerID: "l1", Kind: OutboxAttempt, IdempotencyKey: "a2", Payload: []byte(`{"n":2}`)},
	)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	repo.Enqueue(ctx, OutboxMessage{LearnerID: "l1", Kind: OutboxAttempt, IdempotencyKey: "a1", Payload: []byte(`{"n":9}`)})

	now := time.Now().Add(time.Second)
	due, err := repo.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 2 || string(due[0].Payload) != `{"n":1}` {
		t.Fatalf("due = %+v", due)
	}

	if err := repo.MarkDelivered(ctx, due[0].ID, now); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if err := repo.MarkFailed(ctx, due[1].ID, "503", now.Add(time.Hour)); err != nil {
		t.Fatalf("failed: %v", err)
	}

	due, _ = repo.Due(ctx, now, 10)
	if len(due) != 0 {
		t.Errorf("due after backoff = %d, want 0", len(due))
	}
	due, _ = repo.Due(ctx, now.Add(2*time.Hour), 10)
	if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "503" {
		t.Errorf("due later = %+v", due)
	}
	if n, _ := repo.Undelivered(ctx); n != 1 {
		t.Errorf("undelivered = %d, want 1", n)
	}
}

func TestGradingEvents(t *testing.T) {
	s := openTestStore(t)
	repo := s.EventRepo()
	ctx := context.Background()

	for i, ok := range []bool{true, false, true} {
		err := repo.AppendGradingEvent(ctx, GradingEventData{
			Backend:   "http",
			Purpose:   "grading",
			TaskID:    "t",
			LatencyMs: int64(10 * (i + 1)),
			Success:   ok,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := repo.QueryGradingEvents(ctx, QueryOpts{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 || all[0].Sequence != 3 {
		t.Fatalf("events = %+v, want newest first", all)
	}
	if all[1].Success {
		t.Error("expected second event to be a failure")
	}

	page, _ := repo.QueryGradingEvents(ctx, QueryOpts{Limit: 1, Before: 3})
	if len(page) != 1 || page[0].Sequence != 2 {
		t.Errorf("page = %+v", page)
	}

	ev, err := repo.GetGradingEvent(ctx, 1)
	if err != nil || ev == nil || ev.LatencyMs != 10 {
		t.Fatalf("get = %+v, %v", ev, err)
	}
	if ev, _ := repo.GetGradingEvent(ctx, 99); ev != nil {
		t.Error("expected nil for missing event")
	}
}

func TestLegacyKV(t *testing.T) {
	s := openTestStore(t)
	kv := s.LegacyKV()
	ctx := context.Background()

	kv.Set(ctx, "phase1_step1_task1_score", "3")
	kv.Set(ctx, "phase1_step1_task2_score", "4")
	kv.Set(ctx, "phase1_step10_task1_score", "1")
	kv.Set(ctx, "phase1_step1_task1_score", "5")

	v, ok, err := kv.Get(ctx, "phase1_step1_task1_score")
	if err != nil || !ok || v != "5" {
		t.Fatalf("get = %q, %v, %v", v, ok, err)
	}
	if _, ok, _ := kv.Get(ctx, "missing"); ok {
		t.Error("expected missing key")
	}

	keys, err := kv.Keys(ctx, "phase1_step1_")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want the two step1 keys", keys)
	}

	if err := kv.Delete(ctx, keys...); err != nil {
		t.Fatalf("delete: %v", err)
	}
	keys, _ = kv.Keys(ctx, "")
	if len(keys) != 1 || keys[0] != "phase1_step10_task1_score" {
		t.Errorf("remaining = %v", keys)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("cq:a*b?[c]"); got != `cq:a\*b\?\[c\]` {
		t.Errorf("escapeGlob = %q", got)
	}
}
