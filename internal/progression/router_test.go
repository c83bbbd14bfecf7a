package progression

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/metrics"
)

func router(t *testing.T) *Router {
	t.Helper()
	c, err := curriculum.Default()
	require.NoError(t, err)
	return NewRouter(c)
}

func result(n curriculum.Node, level curriculum.Level, passed bool) learner.StepResult {
	return learner.StepResult{StepID: "s", NodeKey: n.Key(), Level: level, VisitID: "v", Passed: passed}
}

func TestRoute(t *testing.T) {
	r := router(t)
	tests := []struct {
		name      string
		from      curriculum.Node
		level     curriculum.Level
		passed    bool
		want      curriculum.Node
		wantClear curriculum.Level
	}{
		{"main pass next step", curriculum.Main(1, 1), curriculum.A1, true, curriculum.Main(1, 2), ""},
		{"main pass next phase", curriculum.Main(1, 2), curriculum.A1, true, curriculum.Main(2, 1), ""},
		{"main pass last step", curriculum.Main(2, 1), curriculum.A1, true, curriculum.Complete(), ""},
		{"main fail to level track", curriculum.Main(1, 2), curriculum.B1, false, curriculum.Remedial(curriculum.B1, 1), ""},
		{"remedial pass next", curriculum.Remedial(curriculum.B1, 1), curriculum.B1, true, curriculum.Remedial(curriculum.B1, 2), ""},
		{"remedial pass last", curriculum.Remedial(curriculum.B1, 2), curriculum.B1, true, curriculum.Complete(), ""},
		{"remedial fail restarts", curriculum.Remedial(curriculum.A2, 2), curriculum.A2, false, curriculum.Remedial(curriculum.A2, 1), curriculum.A2},
		{"remedial fail step one", curriculum.Remedial(curriculum.C1, 1), curriculum.C1, false, curriculum.Remedial(curriculum.C1, 1), curriculum.C1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Route(tt.from, result(tt.from, tt.level, tt.passed))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Next)
			assert.Equal(t, tt.wantClear, d.ClearRemedial)
			assert.Equal(t, tt.passed, d.Passed)
		})
	}
}

func TestRouteErrors(t *testing.T) {
	r := router(t)

	_, err := r.Route(curriculum.Complete(), result(curriculum.Complete(), curriculum.A1, true))
	assert.ErrorIs(t, err, ErrTerminal)

	_, err = r.Route(curriculum.Main(1, 1), result(curriculum.Main(1, 2), curriculum.A1, true))
	assert.Error(t, err, "result from another node")

	_, err = r.Route(curriculum.Main(9, 9), result(curriculum.Main(9, 9), curriculum.A1, true))
	assert.ErrorIs(t, err, curriculum.ErrUnknownNode)

	_, err = r.Route(curriculum.Main(1, 1), result(curriculum.Main(1, 1), "Z9", false))
	assert.Error(t, err, "invalid level")
}

func TestRouteIsDeterministic(t *testing.T) {
	r := router(t)
	for _, n := range r.cur.Nodes() {
		for _, passed := range []bool{true, false} {
			res := result(n, curriculum.B2, passed)
			first, err := r.Route(n, res)
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				again, err := r.Route(n, res)
				require.NoError(t, err)
				require.Equal(t, first, again)
			}
		}
	}
}

// flipDecider alternates its answer to provoke the guard.
type flipDecider struct{ n int }

func (f *flipDecider) Route(from curriculum.Node, res learner.StepResult) (Decision, error) {
	f.n++
	if f.n%2 == 0 {
		return Decision{From: from, Next: curriculum.Complete()}, nil
	}
	return Decision{From: from, Next: curriculum.Main(1, 2)}, nil
}

func TestGuardPassesConsistentDecisions(t *testing.T) {
	g := NewGuard(router(t), true, zaptest.NewLogger(t), nil)
	res := result(curriculum.Main(1, 1), curriculum.A1, true)
	for i := 0; i < 3; i++ {
		d, err := g.Route(curriculum.Main(1, 1), res)
		require.NoError(t, err)
		assert.Equal(t, curriculum.Main(1, 2), d.Next)
	}
}

func TestGuardKeepsFirstDecisionWhenLenient(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	g := NewGuard(&flipDecider{}, false, zaptest.NewLogger(t), m)
	res := result(curriculum.Main(1, 1), curriculum.A1, true)

	first, err := g.Route(curriculum.Main(1, 1), res)
	require.NoError(t, err)
	require.Equal(t, curriculum.Main(1, 2), first.Next)

	again, err := g.Route(curriculum.Main(1, 1), res)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RouterInconsistencies))
}

func TestGuardStrictPanics(t *testing.T) {
	g := NewGuard(&flipDecider{}, true, zaptest.NewLogger(t), nil)
	res := result(curriculum.Main(1, 1), curriculum.A1, true)
	_, _ = g.Route(curriculum.Main(1, 1), res)

	defer func() {
		ierr, ok := recover().(*ErrRouterInconsistency)
		require.True(t, ok, "expected a router inconsistency panic")
		assert.Equal(t, "main/p1/s2/clear=", ierr.Previous)
		assert.Equal(t, "complete/clear=", ierr.Current)
	}()
	g.Route(curriculum.Main(1, 1), res)
}

func TestGuardDistinctInputs(t *testing.T) {
	g := NewGuard(&flipDecider{}, true, zaptest.NewLogger(t), nil)
	a := result(curriculum.Main(1, 1), curriculum.A1, true)
	b := a
	b.VisitID = "v2"
	_, err := g.Route(curriculum.Main(1, 1), a)
	require.NoError(t, err)
	_, err = g.Route(curriculum.Main(1, 1), b)
	require.NoError(t, err, "a new visit is a new input")
}

func TestInputKeyStable(t *testing.T) {
	res := result(curriculum.Main(1, 1), curriculum.A1, true)
	assert.Equal(t, InputKey(curriculum.Main(1, 1), res), InputKey(curriculum.Main(1, 1), res))
	res.TotalScore = 1
	assert.NotEqual(t, InputKey(curriculum.Main(1, 1), result(curriculum.Main(1, 1), curriculum.A1, true)), InputKey(curriculum.Main(1, 1), res))
}
