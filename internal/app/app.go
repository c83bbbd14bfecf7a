package app

import (
	"context"
	"fmt"
	"os"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/router"
	"github.com/abhisek/cefrquest/internal/screen"
	"github.com/abhisek/cefrquest/internal/screens/home"
	"github.com/abhisek/cefrquest/internal/screens/play"
	"github.com/abhisek/cefrquest/internal/session"
	"github.com/abhisek/cefrquest/internal/ui/layout"
)

// Options configures the TUI.
type Options struct {
	Context context.Context
	Engine  *session.Engine

	// Events delivers timer-driven engine events. It may be nil.
	Events <-chan session.Event

	LearnerID string
}

// AppModel is the root Bubble Tea model.
type AppModel struct {
	opts   Options
	router *router.Router
	status layout.Status
	width  int
	height int
}

func newAppModel(opts Options) AppModel {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	m := AppModel{
		opts:   opts,
		router: router.New(home.New(opts.Context, opts.Engine)),
	}
	m.refreshStatus()
	return m
}

func (m AppModel) Init() tea.Cmd {
	return tea.Batch(m.router.Active().Init(), waitForEvent(m.opts.Events))
}

// waitForEvent blocks on the next engine event. Update re-arms it after
// each delivery.
func waitForEvent(events <-chan session.Event) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return play.EventMsg{Event: ev}
	}
}

func (m *AppModel) refreshStatus() {
	m.status = layout.Status{Learner: m.opts.LearnerID}
	if st, err := m.opts.Engine.Snapshot(); err == nil {
		m.status.Level = string(st.Level)
		m.status.Node = st.Node.String()
	}
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case play.EventMsg:
		cmd := m.router.Update(msg)
		m.refreshStatus()
		return m, tea.Batch(cmd, waitForEvent(m.opts.Events))

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			if h, ok := m.router.Active().(screen.EscapeHandler); ok && h.HandlesEscape() {
				break
			}
			if m.router.Depth() > 1 {
				return m, func() tea.Msg { return router.PopScreenMsg{} }
			}
			return m, nil
		}
	}

	cmd := m.router.Update(msg)
	m.refreshStatus()
	return m, cmd
}

func (m AppModel) View() tea.View {
	v := tea.NewView("")
	v.AltScreen = true

	if m.width == 0 || m.height == 0 {
		return v
	}
	if layout.IsTooSmall(m.width, m.height) {
		v.SetContent(layout.RenderMinSizeMessage(m.width, m.height))
		return v
	}

	active := m.router.Active()
	header := layout.RenderHeader(active.Title(), m.status, m.width)

	hints := []layout.KeyHint{
		{Key: "↑↓", Description: "Navigate"},
		{Key: "Enter", Description: "Select"},
		{Key: "Ctrl+C", Description: "Quit"},
	}
	if p, ok := active.(screen.KeyHintProvider); ok {
		hints = p.KeyHints()
	} else if m.router.Depth() > 1 {
		hints = []layout.KeyHint{
			{Key: "Esc", Description: "Back"},
			{Key: "Ctrl+C", Description: "Quit"},
		}
	}
	footer := layout.RenderFooter(hints, m.width)

	contentHeight := max(m.height-lipgloss.Height(header)-lipgloss.Height(footer), 0)
	content := m.router.View(m.width, contentHeight)
	v.SetContent(layout.RenderFrame(header, content, footer, m.width, m.height))
	return v
}

// Run starts the Bubble Tea program and blocks until it exits.
func Run(opts Options) error {
	if opts.Engine == nil {
		return fmt.Errorf("app: engine is required")
	}
	p := tea.NewProgram(newAppModel(opts), tea.WithContext(opts.Context))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error running program:", err)
		return err
	}
	return nil
}
