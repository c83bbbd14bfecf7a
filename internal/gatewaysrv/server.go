// Package gatewaysrv is a reference results backend for local
// development. It keeps everything in memory and computes step verdicts
// from the same curriculum the engine uses.
package gatewaysrv

import (
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/gateway"
)

// Options configures a Server.
type Options struct {
	// RatePerLearner caps requests per second for one learner. Zero
	// disables the limit.
	RatePerLearner int

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer

	RequestTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	cur     *curriculum.Curriculum
	data    *memory
	log     *zap.Logger
	limiter ratelimit.RateLimiter
	router  *chi.Mux
	opts    Options
}

// New builds a server over cur.
func New(cur *curriculum.Curriculum, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cur:  cur,
		data: newMemory(),
		log:  log.Named("gatewaysrv"),
		opts: opts,
	}
	if opts.RatePerLearner > 0 {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     opts.RatePerLearner,
			Burst:    opts.RatePerLearner * 3,
			Interval: time.Second,
		})
	}
	s.setupRouter()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the rate limiter.
func (s *Server) Close() error {
	if s.limiter != nil {
		return s.limiter.Close()
	}
	return nil
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", gateway.HeaderLearnerID, gateway.HeaderIdempotencyKey},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireLearner)
		r.Post("/attempts", s.handleLogAttempt)
		r.Post("/steps", s.handleSubmitStep)
		r.Get("/attempts", s.handleListAttempts)
		r.Get("/steps", s.handleListSteps)
	})

	s.router = r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("learner_id", r.Header.Get(gateway.HeaderLearnerID)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// requireLearner rejects requests without a learner header and applies
// the per-learner rate limit.
func (s *Server) requireLearner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(gateway.HeaderLearnerID)
		if id == "" {
			respondError(w, http.StatusBadRequest, "missing_learner", gateway.HeaderLearnerID+" header is required")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(r.Context(), id) {
			respondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
