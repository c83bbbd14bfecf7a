package app

import (
	"context"
	"path/filepath"
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/router"
	"github.com/abhisek/cefrquest/internal/scoring"
	"github.com/abhisek/cefrquest/internal/screens/play"
	"github.com/abhisek/cefrquest/internal/session"
	"github.com/abhisek/cefrquest/internal/store"
)

func newEngine(t *testing.T) *session.Engine {
	t.Helper()
	cur, err := curriculum.Default()
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eng, err := session.New(session.Options{
		Curriculum: cur,
		LearnerID:  "ana",
		State:      st.StateRepo(),
		Scorer:     scoring.NewPolicy(nil, nil, nil),
		Log:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	require.NoError(t, eng.Load(context.Background()))
	t.Cleanup(eng.Close)
	return eng
}

func TestStatusShowsLearnerPosition(t *testing.T) {
	m := newAppModel(Options{Engine: newEngine(t), LearnerID: "ana"})
	assert.Equal(t, "ana", m.status.Learner)
	assert.Equal(t, string(curriculum.DefaultLevel), m.status.Level)
	assert.Equal(t, curriculum.Initial().String(), m.status.Node)
}

func TestEscPopsUnlessScreenHandlesIt(t *testing.T) {
	eng := newEngine(t)
	m := newAppModel(Options{Engine: eng})
	m.router.Push(play.New(context.Background(), eng))

	_, cmd := m.Update(tea.KeyPressMsg{Code: tea.KeyEscape})
	require.NotNil(t, cmd)
	assert.Equal(t, router.PopScreenMsg{}, cmd())
}

func TestEventsAreForwardedAndRearmed(t *testing.T) {
	events := make(chan session.Event, 2)
	m := newAppModel(Options{Engine: newEngine(t), Events: events})

	events <- session.Event{Kind: session.EventTaskExpired}
	msg := waitForEvent(events)()
	assert.IsType(t, play.EventMsg{}, msg)

	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd, "listener is re-armed")

	close(events)
	assert.Nil(t, waitForEvent(events)())
	assert.Nil(t, waitForEvent(nil))
}
