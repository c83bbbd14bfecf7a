package progression

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/metrics"
)

// ErrRouterInconsistency means the router produced a different decision
// for an input it had already decided.
type ErrRouterInconsistency struct {
	Key      string
	Previous string
	Current  string
}

func (e *ErrRouterInconsistency) Error() string {
	return fmt.Sprintf("router inconsistency for %s: previously %s, now %s", e.Key[:12], e.Previous, e.Current)
}

// Decider is satisfied by *Router.
type Decider interface {
	Route(from curriculum.Node, res learner.StepResult) (Decision, error)
}

const guardCapacity = 1024

// Guard memoizes decisions by input and reports any that change. In
// strict mode a change panics; otherwise the first decision stands.
type Guard struct {
	inner   Decider
	strict  bool
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	seen  map[string]Decision
	order []string
}

// NewGuard wraps d.
func NewGuard(d Decider, strict bool, log *zap.Logger, m *metrics.Metrics) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	return &Guard{inner: d, strict: strict, log: log, metrics: m, seen: make(map[string]Decision)}
}

// InputKey hashes the parts of a routing input that determine its
// decision.
func InputKey(from curriculum.Node, res learner.StepResult) string {
	parts := []string{
		from.Key(),
		res.StepID,
		res.VisitID,
		string(res.Level),
		strconv.Itoa(res.TotalScore),
		strconv.Itoa(res.Threshold),
		strconv.FormatBool(res.Passed),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func decisionKey(d Decision) string {
	return d.Next.Key() + "/clear=" + string(d.ClearRemedial)
}

func (g *Guard) Route(from curriculum.Node, res learner.StepResult) (Decision, error) {
	d, err := g.inner.Route(from, res)
	if err != nil {
		return Decision{}, err
	}

	key := InputKey(from, res)

	g.mu.Lock()
	defer g.mu.Unlock()
	if first, ok := g.seen[key]; ok {
		prev, current := decisionKey(first), decisionKey(d)
		if prev == current {
			return d, nil
		}
		g.metrics.RecordInconsistency()
		g.log.Error("router inconsistency",
			zap.String("from", from.Key()), zap.String("previous", prev), zap.String("current", current))
		if g.strict {
			panic(&ErrRouterInconsistency{Key: key, Previous: prev, Current: current})
		}
		return first, nil
	}

	g.seen[key] = d
	g.order = append(g.order, key)
	if len(g.order) > guardCapacity {
		delete(g.seen, g.order[0])
		g.order = g.order[1:]
	}
	return d, nil
}
