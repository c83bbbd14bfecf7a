package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/compat"
	"github.com/abhisek/cefrquest/internal/config"
	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/gateway"
	"github.com/abhisek/cefrquest/internal/llm"
	"github.com/abhisek/cefrquest/internal/logging"
	"github.com/abhisek/cefrquest/internal/metrics"
	"github.com/abhisek/cefrquest/internal/progression"
	"github.com/abhisek/cefrquest/internal/scoring"
	"github.com/abhisek/cefrquest/internal/session"
	"github.com/abhisek/cefrquest/internal/store"
)

// env holds what every subcommand opens: configuration, logger, store and
// curriculum. Optional pieces are built on demand.
type env struct {
	cfg       *config.Config
	log       *zap.Logger
	dbPath    string
	store     *store.Store
	cur       *curriculum.Curriculum
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	learnerID string

	closers []func()
}

type envOptions struct {
	// tui sends logs to a file so they do not draw over the screen.
	tui bool
}

func openEnv(cmd *cobra.Command, opts envOptions) (*env, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	dbPath, err := resolveDBPath(cmd, cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	if opts.tui && cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(filepath.Dir(dbPath), "cefrquest.log")
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, log: log, dbPath: dbPath, learnerID: cfg.Learner.ID}
	if id, _ := cmd.Flags().GetString("learner"); id != "" {
		e.learnerID = id
	}
	e.closers = append(e.closers, func() { _ = logging.Sync(log) })

	if e.cur, err = loadCurriculum(cfg.Curriculum.Path); err != nil {
		e.Close()
		return nil, err
	}

	st, err := store.Open(dbPath)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	e.store = st
	e.closers = append(e.closers, func() { st.Close() })

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	e.metrics = metrics.New(e.registry)
	return e, nil
}

// Close releases everything in reverse order of opening.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// resolveDBPath returns the database path using --db (highest priority),
// then store.path from config, then CEFRQUEST_DB or the default XDG path.
func resolveDBPath(cmd *cobra.Command, cfg *config.Config) (string, error) {
	p, _ := cmd.Flags().GetString("db")
	if p == "" {
		p = cfg.Store.Path
	}
	if p == "" {
		return store.DefaultDBPath()
	}
	return p, os.MkdirAll(filepath.Dir(p), 0o755)
}

func loadCurriculum(path string) (*curriculum.Curriculum, error) {
	if path == "" {
		return curriculum.Default()
	}
	return curriculum.Load(path)
}

// scorer builds the scoring policy for the configured grader backend. A
// grader that cannot be built leaves scoring local.
func (e *env) scorer(ctx context.Context) *scoring.Policy {
	var remote scoring.BatchScorer
	switch e.cfg.Grader.Backend {
	case config.GraderHTTP:
		g := scoring.NewHTTPGrader(e.cfg.Grader.URL, e.cfg.Grader.Timeout, e.store.EventRepo(), e.log.Named("grader"))
		remote = scoring.NewRemoteScorer(g, e.metrics)
	case config.GraderLLM:
		provider, err := e.llmProvider(ctx)
		if err != nil {
			e.log.Warn("LLM grader not configured, scoring locally", zap.Error(err))
			break
		}
		cfg := scoring.DefaultLLMGraderConfig()
		remote = scoring.NewRemoteScorer(scoring.NewLLMGrader(provider, cfg), e.metrics)
	}
	return scoring.NewPolicy(remote, e.log.Named("scoring"), e.metrics)
}

func (e *env) llmProvider(ctx context.Context) (llm.Provider, error) {
	cfg := llm.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		discovered, ok := llm.DiscoverConfig()
		if !ok {
			return nil, err
		}
		cfg = discovered
	}
	return llm.NewProvider(ctx, cfg, e.store.EventRepo(), e.log.Named("llm"))
}

// legacy returns the mirror for the learner, or nil when disabled.
func (e *env) legacy(ctx context.Context) (*compat.Legacy, error) {
	var kv store.KV
	switch e.cfg.Legacy.Backend {
	case config.LegacyNone:
		return nil, nil
	case config.LegacyRedis:
		r, err := store.NewRedisKV(ctx, store.RedisOptions{
			Addr:      e.cfg.Legacy.RedisAddr,
			Password:  e.cfg.Legacy.RedisPassword,
			DB:        e.cfg.Legacy.RedisDB,
			Namespace: e.cfg.Legacy.Prefix,
		})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { r.Close() })
		kv = r
	default:
		kv = e.store.LegacyKV()
	}
	return compat.New(kv, e.cur, e.learnerID), nil
}

// dispatcher returns nil when no results backend is configured.
func (e *env) dispatcher() *gateway.Dispatcher {
	if e.cfg.Gateway.URL == "" {
		return nil
	}
	client := gateway.NewClient(e.cfg.Gateway.URL, e.cfg.Gateway.Timeout)
	return gateway.NewDispatcher(e.store.OutboxRepo(), client, e.cfg.Gateway.Dispatcher(), e.log.Named("outbox"), e.metrics)
}

type engineOptions struct {
	notify  func()
	onEvent func(session.Event)
}

// engine builds and loads the learner's engine. A brand-new learner is
// placed at the configured level.
func (e *env) engine(ctx context.Context, opts engineOptions) (*session.Engine, error) {
	legacy, err := e.legacy(ctx)
	if err != nil {
		return nil, err
	}
	router := progression.NewGuard(progression.NewRouter(e.cur), e.cfg.Router.Strict, e.log.Named("router"), e.metrics)
	eng, err := session.New(session.Options{
		Curriculum: e.cur,
		LearnerID:  e.learnerID,
		State:      e.store.StateRepo(),
		Scorer:     e.scorer(ctx),
		Router:     router,
		Legacy:     legacy,
		Log:        e.log,
		Metrics:    e.metrics,
		Notify:     opts.notify,
		OnEvent:    opts.onEvent,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.Load(ctx); err != nil {
		return nil, err
	}
	e.closers = append(e.closers, eng.Close)

	st, err := eng.Snapshot()
	if err != nil {
		return nil, err
	}
	if want := e.cfg.Level(); st.Level != want && st.Visit == 1 && len(st.Confirmed) == 0 && len(st.Pending) == 0 {
		if err := eng.SetLevel(ctx, want); err != nil {
			return nil, err
		}
	}
	return eng, nil
}
