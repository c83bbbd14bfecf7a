package components

import (
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/ui/theme"
)

// AnswerInput wraps bubbles/textinput for single-line answers.
type AnswerInput struct {
	Model textinput.Model
}

// NewAnswerInput returns a focused input prefilled with value.
func NewAnswerInput(placeholder, value string, width int) AnswerInput {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 2000
	if width > 0 {
		ti.SetWidth(width)
	}
	ti.SetValue(value)
	ti.CursorEnd()
	ti.Focus()
	return AnswerInput{Model: ti}
}

// Init returns the cursor blink command.
func (a AnswerInput) Init() tea.Cmd {
	return a.Model.Focus()
}

// Update handles messages.
func (a AnswerInput) Update(msg tea.Msg) (AnswerInput, tea.Cmd) {
	var cmd tea.Cmd
	a.Model, cmd = a.Model.Update(msg)
	return a, cmd
}

// View renders the input.
func (a AnswerInput) View() string {
	return lipgloss.NewStyle().Foreground(theme.Text).Render(a.Model.View())
}

// Value returns the current input value.
func (a AnswerInput) Value() string {
	return a.Model.Value()
}
