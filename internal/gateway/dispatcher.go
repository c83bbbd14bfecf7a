package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/abhisek/cefrquest/internal/metrics"
	"github.com/abhisek/cefrquest/internal/store"
)

// Config tunes outbox delivery.
type Config struct {
	// MaxAttempts bounds the in-process retries of one delivery. The
	// outbox itself retries forever with backoff.
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration

	PollInterval time.Duration
	BatchSize    int

	// RatePerSecond paces requests to the backend. Zero disables pacing.
	RatePerSecond float64

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
}

// DefaultConfig returns production delivery settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialWait:    500 * time.Millisecond,
		MaxWait:        30 * time.Second,
		PollInterval:   5 * time.Second,
		BatchSize:      50,
		RatePerSecond:  10,
		BreakerTimeout: 60 * time.Second,
	}
}

// Report summarizes one drain pass.
type Report struct {
	Delivered int
	Failed    int
	Remaining int
}

// Dispatcher drains the outbox to the backend.
type Dispatcher struct {
	outbox  store.OutboxRepo
	client  *Client
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	limiter *rate.Limiter

	breaker circuitbreaker.CircuitBreaker[*StepResponse]
	retrier retry.Retry[*StepResponse]

	mu   sync.Mutex // serializes drains
	wake chan struct{}
}

// NewDispatcher wires a dispatcher. log and m may be nil.
func NewDispatcher(outbox store.OutboxRepo, client *Client, cfg Config, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = def.InitialWait
	}
	if cfg.MaxWait < cfg.InitialWait {
		cfg.MaxWait = cfg.InitialWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		outbox:  outbox,
		client:  client,
		cfg:     cfg,
		log:     log.Named("gateway"),
		metrics: m,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond)))
	}

	d.breaker = circuitbreaker.New[*StepResponse](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			d.log.Warn("gateway breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			d.metrics.SetBreakerState(breakerGauge(to.String()))
		},
	})
	d.retrier = retry.New[*StepResponse](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  cfg.InitialWait,
		MaxDelay:      cfg.MaxWait,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   Retryable,
	})
	return d
}

// Notify asks a running dispatcher to drain without waiting for the next
// poll.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DrainOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("drain outbox", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

// DrainOnce delivers every entry that is due. Delivery failures are
// recorded on the entry; only store errors are returned.
func (d *Dispatcher) DrainOnce(ctx context.Context) (Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rep Report
	entries, err := d.outbox.Due(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return rep, err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				break
			}
		}

		delivered, err := d.deliverEntry(ctx, e)
		if err != nil {
			return rep, err
		}
		if delivered {
			rep.Delivered++
		} else {
			rep.Failed++
		}
	}

	n, err := d.outbox.Undelivered(ctx)
	if err != nil {
		return rep, err
	}
	rep.Remaining = n
	d.metrics.SetOutboxPending(n)
	return rep, nil
}

func (d *Dispatcher) deliverEntry(ctx context.Context, e store.OutboxEntry) (bool, error) {
	log := d.log.With(
		zap.Int64("outbox_id", e.ID),
		zap.String("kind", e.Kind),
		zap.String("key", e.IdempotencyKey),
	)

	resp, err := d.breaker.Execute(ctx, func(ctx context.Context) (*StepResponse, error) {
		return d.retrier.Do(ctx, func(ctx context.Context) (*StepResponse, error) {
			return d.deliver(ctx, e)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		d.metrics.RecordDelivery(e.Kind, false)
		next := d.now().Add(d.backoff(e.Attempts + 1))
		if !Retryable(err) {
			log.Error("backend rejected outbox entry", zap.Error(err))
		} else {
			log.Warn("outbox delivery failed", zap.Error(err), zap.Time("next_attempt", next))
		}
		if mErr := d.outbox.MarkFailed(context.WithoutCancel(ctx), e.ID, err.Error(), next); mErr != nil {
			return false, mErr
		}
		return false, nil
	}

	if err := d.outbox.MarkDelivered(context.WithoutCancel(ctx), e.ID, d.now()); err != nil {
		return false, err
	}
	d.metrics.RecordDelivery(e.Kind, true)
	if resp != nil {
		d.crossCheck(log, e, resp)
	}
	log.Debug("outbox entry delivered")
	return true, nil
}

func (d *Dispatcher) deliver(ctx context.Context, e store.OutboxEntry) (*StepResponse, error) {
	switch e.Kind {
	case store.OutboxAttempt:
		var p AttemptPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, &ErrRejected{Op: "decode attempt", Body: err.Error()}
		}
		return nil, d.client.LogAttempt(ctx, e.LearnerID, e.IdempotencyKey, p)
	case store.OutboxStep:
		var env stepEnvelope
		if err := json.Unmarshal(e.Payload, &env); err != nil {
			return nil, &ErrRejected{Op: "decode step", Body: err.Error()}
		}
		return d.client.SubmitStep(ctx, e.LearnerID, e.IdempotencyKey, env.Request)
	default:
		return nil, &ErrRejected{Op: "deliver", Body: fmt.Sprintf("unknown outbox kind %q", e.Kind)}
	}
}

// crossCheck compares the backend's verdict with the routed one. The
// local decision stands either way.
func (d *Dispatcher) crossCheck(log *zap.Logger, e store.OutboxEntry, resp *StepResponse) {
	var env stepEnvelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return
	}
	if env.Passed == resp.Passed {
		return
	}
	d.metrics.RecordMismatch()
	log.Warn("backend disagrees with local step decision",
		zap.String("learner_id", e.LearnerID),
		zap.String("step", env.Request.Step),
		zap.Bool("local_passed", env.Passed),
		zap.Bool("server_passed", resp.Passed),
		zap.Int("local_total", env.TotalScore),
		zap.Int("server_total", resp.TotalScore),
		zap.Int("local_threshold", env.Threshold),
		zap.Int("server_threshold", resp.Threshold))
}

// backoff is the outbox-level wait before attempt n (1-based).
func (d *Dispatcher) backoff(n int) time.Duration {
	wait := d.cfg.InitialWait
	for i := 1; i < n && wait < d.cfg.MaxWait; i++ {
		wait *= 2
	}
	return min(wait, d.cfg.MaxWait)
}

func breakerGauge(state string) int {
	s := strings.ToLower(state)
	switch {
	case strings.Contains(s, "half"):
		return 1
	case strings.Contains(s, "open"):
		return 2
	default:
		return 0
	}
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	var pu *ErrPersistenceUnavailable
	return errors.As(err, &pu)
}
