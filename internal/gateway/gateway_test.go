package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/metrics"
	"github.com/abhisek/cefrquest/internal/store"
)

func testConfig() Config {
	return Config{
		MaxAttempts:  2,
		InitialWait:  5 * time.Millisecond,
		MaxWait:      20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
	}
}

func openOutbox(t *testing.T) store.OutboxRepo {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.OutboxRepo()
}

func stepResult(passed bool) learner.StepResult {
	return learner.StepResult{
		StepID:  "p1-greetings",
		NodeKey: curriculum.Main(1, 1).Key(),
		Level:   curriculum.B1,
		VisitID: "v1",
		Attempts: []learner.Attempt{
			{AttemptID: "a1", LearnerID: "ana", TaskID: "greet-match", StepID: "p1-greetings", RawScore: 3, MaxScore: 4, Duration: 42 * time.Second},
			{AttemptID: "a2", LearnerID: "ana", TaskID: "greet-blanks", StepID: "p1-greetings", RawScore: 4, MaxScore: 4, Partial: true},
		},
		TotalScore: 7,
		MaxScore:   8,
		Threshold:  6,
		Passed:     passed,
	}
}

type recorded struct {
	path    string
	learner string
	key     string
	body    map[string]any
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	status   atomic.Int32
	passed   bool
}

func newFakeBackend(t *testing.T, passed bool) (*fakeBackend, *httptest.Server) {
	t.Helper()
	fb := &fakeBackend{passed: passed}
	fb.status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		fb.mu.Lock()
		fb.requests = append(fb.requests, recorded{
			path:    r.URL.Path,
			learner: r.Header.Get(HeaderLearnerID),
			key:     r.Header.Get(HeaderIdempotencyKey),
			body:    body,
		})
		fb.mu.Unlock()

		status := int(fb.status.Load())
		if status != http.StatusOK {
			http.Error(w, "nope", status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == pathSteps {
			json.NewEncoder(w).Encode(StepResponse{Passed: fb.passed, TotalScore: 7, Threshold: 6})
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return fb, srv
}

func (fb *fakeBackend) calls() []recorded {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]recorded(nil), fb.requests...)
}

func TestClientLogAttempt(t *testing.T) {
	fb, srv := newFakeBackend(t, true)
	c := NewClient(srv.URL+"/", time.Second)

	secs := int64(12)
	err := c.LogAttempt(context.Background(), "ana", "attempt/a1", AttemptPayload{
		Level: "A2", Task: "greet-match", Step: "p1-greetings", Score: 3, MaxScore: 4, Completed: true, TimeTaken: &secs,
	})
	require.NoError(t, err)

	calls := fb.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, pathAttempts, calls[0].path)
	assert.Equal(t, "ana", calls[0].learner)
	assert.Equal(t, "attempt/a1", calls[0].key)
	assert.Equal(t, "greet-match", calls[0].body["task"])
	assert.EqualValues(t, 4, calls[0].body["max_score"])
	assert.EqualValues(t, 12, calls[0].body["time_taken"])
	assert.Equal(t, true, calls[0].body["completed"])
}

func TestClientSubmitStep(t *testing.T) {
	_, srv := newFakeBackend(t, true)
	c := NewClient(srv.URL, time.Second)

	resp, err := c.SubmitStep(context.Background(), "ana", "", StepPayload{
		Step: "p1-greetings", Level: "A1", Scores: map[string]int{"greet-match": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, &StepResponse{Passed: true, TotalScore: 7, Threshold: 6}, resp)
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		status      int
		unavailable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusConflict, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			fb, srv := newFakeBackend(t, true)
			fb.status.Store(int32(tt.status))
			c := NewClient(srv.URL, time.Second)

			err := c.LogAttempt(context.Background(), "ana", "k", AttemptPayload{})
			require.Error(t, err)
			assert.Equal(t, tt.unavailable, IsUnavailable(err))
			assert.Equal(t, tt.unavailable, Retryable(err))
			if !tt.unavailable {
				var rej *ErrRejected
				require.True(t, errors.As(err, &rej))
				assert.Equal(t, tt.status, rej.Status)
			}
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url, time.Second).LogAttempt(context.Background(), "ana", "k", AttemptPayload{})
	var pu *ErrPersistenceUnavailable
	require.True(t, errors.As(err, &pu), "got %T: %v", err, err)
	assert.Zero(t, pu.Status)
}

func TestRetryableIgnoresContextErrors(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("connection reset")))
}

func TestConfirmationMessages(t *testing.T) {
	msgs, err := ConfirmationMessages("ana", stepResult(true))
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, store.OutboxAttempt, msgs[0].Kind)
	assert.Equal(t, "attempt/a1", msgs[0].IdempotencyKey)
	assert.Equal(t, "ana", msgs[0].LearnerID)

	var first AttemptPayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &first))
	assert.Equal(t, "B1", first.Level)
	assert.True(t, first.Completed)
	require.NotNil(t, first.TimeTaken)
	assert.EqualValues(t, 42, *first.TimeTaken)

	var second AttemptPayload
	require.NoError(t, json.Unmarshal(msgs[1].Payload, &second))
	assert.False(t, second.Completed)
	assert.Nil(t, second.TimeTaken)

	step := msgs[2]
	assert.Equal(t, store.OutboxStep, step.Kind)
	assert.Equal(t, "step/ana/p1-greetings/v1", step.IdempotencyKey)
	var env stepEnvelope
	require.NoError(t, json.Unmarshal(step.Payload, &env))
	assert.Equal(t, map[string]int{"greet-match": 3, "greet-blanks": 4}, env.Request.Scores)
	assert.True(t, env.Passed)
	assert.Equal(t, 6, env.Threshold)
}

func TestDrainDeliversEverything(t *testing.T) {
	ctx := context.Background()
	outbox := openOutbox(t)
	fb, srv := newFakeBackend(t, true)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	msgs, err := ConfirmationMessages("ana", stepResult(true))
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(ctx, msgs...))

	d := NewDispatcher(outbox, NewClient(srv.URL, time.Second), testConfig(), zaptest.NewLogger(t), m)
	rep, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Delivered: 3}, rep)

	calls := fb.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, pathAttempts, calls[0].path)
	assert.Equal(t, pathSteps, calls[2].path)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OutboxDeliveredTotal.WithLabelValues(store.OutboxAttempt)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxDeliveredTotal.WithLabelValues(store.OutboxStep)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutboxPending))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CrossCheckMismatches))

	// Nothing left to send.
	rep, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
	assert.Len(t, fb.calls(), 3)
}

func TestDrainFailureBacksOff(t *testing.T) {
	ctx := context.Background()
	outbox := openOutbox(t)
	fb, srv := newFakeBackend(t, true)
	fb.status.Store(http.StatusServiceUnavailable)
	m := metrics.New(prometheus.NewRegistry())

	msg, err := StepMessage("ana", stepResult(true))
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(ctx, msg))

	base := time.Now().Add(time.Second)
	d := NewDispatcher(outbox, NewClient(srv.URL, time.Second), testConfig(), zaptest.NewLogger(t), m)
	d.now = func() time.Time { return base }

	rep, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Failed: 1, Remaining: 1}, rep)
	assert.Len(t, fb.calls(), 2, "in-process retries")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxFailedTotal.WithLabelValues(store.OutboxStep)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutboxPending))

	due, err := outbox.Due(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "entry waits for its backoff")

	due, err = outbox.Due(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Contains(t, due[0].LastError, "503")

	// Backend recovers.
	fb.status.Store(http.StatusOK)
	d.now = func() time.Time { return base.Add(time.Minute) }
	rep, err = d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Delivered: 1}, rep)
}

func TestDrainRejectedIsNotRetried(t *testing.T) {
	ctx := context.Background()
	outbox := openOutbox(t)
	fb, srv := newFakeBackend(t, true)
	fb.status.Store(http.StatusBadRequest)

	msg, err := AttemptMessage(curriculum.A1, stepResult(true).Attempts[0])
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(ctx, msg))

	d := NewDispatcher(outbox, NewClient(srv.URL, time.Second), testConfig(), zaptest.NewLogger(t), nil)
	rep, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Len(t, fb.calls(), 1)
}

func TestCrossCheckMismatchIsCounted(t *testing.T) {
	ctx := context.Background()
	outbox := openOutbox(t)
	_, srv := newFakeBackend(t, false)
	m := metrics.New(prometheus.NewRegistry())

	msg, err := StepMessage("ana", stepResult(true))
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(ctx, msg))

	d := NewDispatcher(outbox, NewClient(srv.URL, time.Second), testConfig(), zaptest.NewLogger(t), m)
	rep, err := d.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Delivered, "a disagreement is still a delivery")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CrossCheckMismatches))
}

func TestRunStopsOnCancel(t *testing.T) {
	outbox := openOutbox(t)
	fb, srv := newFakeBackend(t, true)
	d := NewDispatcher(outbox, NewClient(srv.URL, time.Second), testConfig(), zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	msg, err := StepMessage("ana", stepResult(true))
	require.NoError(t, err)
	require.NoError(t, outbox.Enqueue(context.Background(), msg))
	d.Notify()

	require.Eventually(t, func() bool { return len(fb.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBackoffIsCapped(t *testing.T) {
	d := NewDispatcher(nil, nil, testConfig(), nil, nil)
	assert.Equal(t, 5*time.Millisecond, d.backoff(1))
	assert.Equal(t, 10*time.Millisecond, d.backoff(2))
	assert.Equal(t, 20*time.Millisecond, d.backoff(3))
	assert.Equal(t, 20*time.Millisecond, d.backoff(10))
}

func TestBreakerGauge(t *testing.T) {
	assert.Equal(t, 0, breakerGauge("closed"))
	assert.Equal(t, 1, breakerGauge("half-open"))
	assert.Equal(t, 2, breakerGauge("open"))
}
