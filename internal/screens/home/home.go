// Package home is the landing screen: where the learner stands and a way
// into the current step.
package home

import (
	"context"
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/learner"
	"github.com/abhisek/cefrquest/internal/router"
	"github.com/abhisek/cefrquest/internal/screen"
	"github.com/abhisek/cefrquest/internal/screens/play"
	"github.com/abhisek/cefrquest/internal/session"
	"github.com/abhisek/cefrquest/internal/ui/components"
	"github.com/abhisek/cefrquest/internal/ui/theme"
)

// Screen is the home screen.
type Screen struct {
	ctx  context.Context
	eng  *session.Engine
	menu components.Menu

	state  learner.State
	step   *curriculum.StepDefinition
	errMsg string
}

var _ screen.Screen = (*Screen)(nil)

// New returns the home screen for eng.
func New(ctx context.Context, eng *session.Engine) *Screen {
	return &Screen{ctx: ctx, eng: eng}
}

// Init refreshes the summary. It runs again each time a screen above is
// popped.
func (h *Screen) Init() tea.Cmd {
	h.refresh()
	return nil
}

func (h *Screen) refresh() {
	h.errMsg = ""
	st, err := h.eng.Snapshot()
	if err != nil {
		h.errMsg = err.Error()
		return
	}
	h.state = st
	h.step = nil
	if !st.Node.IsTerminal() {
		if step, _, err := h.eng.Step(); err == nil {
			h.step = step
		}
	}

	label := "Continue"
	if len(st.Confirmed) == 0 && len(st.Pending) == 0 {
		label = "Start"
	}
	ctx, eng := h.ctx, h.eng
	h.menu = components.NewMenu([]components.MenuItem{
		{
			Label:    label,
			Hint:     h.stepHint(),
			Disabled: st.Node.IsTerminal(),
			Action: func() tea.Cmd {
				return func() tea.Msg { return router.PushScreenMsg{Screen: play.New(ctx, eng)} }
			},
		},
		{Label: "Quit", Action: func() tea.Cmd { return tea.Quit }},
	})
}

func (h *Screen) stepHint() string {
	if h.step == nil {
		return ""
	}
	if h.step.Title != "" {
		return h.step.Title
	}
	return h.step.ID
}

func (h *Screen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	var cmd tea.Cmd
	h.menu, cmd = h.menu.Update(msg)
	return h, cmd
}

func (h *Screen) Title() string {
	return "Home"
}

func (h *Screen) View(width, height int) string {
	cw := components.ContentWidth(width)
	if h.errMsg != "" {
		return components.Centered(components.Panel(theme.Incorrect.Render(h.errMsg), cw), width, height)
	}

	cur := h.eng.Curriculum()
	var b strings.Builder
	b.WriteString(theme.Title.Render(cur.Title))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s  %s\n", theme.Subtitle.Render("Learner "), theme.Body.Render(h.state.LearnerID))
	fmt.Fprintf(&b, "%s  %s\n", theme.Subtitle.Render("Level   "), theme.Level(string(h.state.Level)))
	fmt.Fprintf(&b, "%s  %s\n", theme.Subtitle.Render("Position"), theme.Body.Render(h.state.Node.String()))
	if pending := len(h.state.Pending); pending > 0 {
		fmt.Fprintf(&b, "%s  %s\n", theme.Subtitle.Render("Open    "), theme.Body.Render(fmt.Sprintf("%d task(s) answered in this step", pending)))
	}
	b.WriteString("\n")
	b.WriteString(renderPhases(cur, h.state))
	b.WriteString("\n")
	b.WriteString(h.menu.View())

	return components.Centered(components.Panel(b.String(), cw), width, height)
}

// renderPhases draws one row per phase with a cell per step: passed,
// current or ahead.
func renderPhases(cur *curriculum.Curriculum, st learner.State) string {
	passed := make(map[string]bool)
	for _, r := range st.Confirmed {
		if r.Passed {
			passed[r.NodeKey] = true
		}
	}
	var b strings.Builder
	for pi, p := range cur.Phases {
		fmt.Fprintf(&b, "%s ", theme.Subtitle.Render(fmt.Sprintf("P%d", pi+1)))
		for si := range p.Steps {
			n := curriculum.Main(pi+1, si+1)
			cell := lipgloss.NewStyle().Foreground(theme.Border).Render("○")
			switch {
			case passed[n.Key()] || st.Node.IsTerminal():
				cell = theme.Correct.Render("●")
			case n == st.Node:
				cell = lipgloss.NewStyle().Foreground(theme.Accent).Bold(true).Render("◉")
			}
			b.WriteString(cell + " ")
		}
		b.WriteString(theme.Subtitle.Render(p.Title))
		b.WriteString("\n")
	}
	if st.Node.Track == curriculum.TrackRemedial {
		b.WriteString(lipgloss.NewStyle().Foreground(theme.Warning).Render(
			fmt.Sprintf("Remediation %s, step %d", st.Node.Level, st.Node.Step)))
		b.WriteString("\n")
	}
	return b.String()
}
