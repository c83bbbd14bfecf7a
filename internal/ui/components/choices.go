package components

import (
	"fmt"
	"strconv"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/ui/theme"
)

// ChoiceList picks one of a fixed set of options. Digits jump straight to
// an option.
type ChoiceList struct {
	Options  []string
	Selected int
}

// NewChoiceList preselects the option matching current, which may be an
// option's text or its 1-based index.
func NewChoiceList(options []string, current string) ChoiceList {
	c := ChoiceList{Options: options}
	for i, o := range options {
		if o == current || strconv.Itoa(i+1) == current {
			c.Selected = i
		}
	}
	return c
}

// Update moves the selection. It reports true when a digit key picked an
// option outright.
func (c ChoiceList) Update(msg tea.Msg) (ChoiceList, bool) {
	kmsg, ok := msg.(tea.KeyPressMsg)
	if !ok {
		return c, false
	}
	key := kmsg.String()
	switch key {
	case "up", "k":
		if c.Selected > 0 {
			c.Selected--
		}
	case "down", "j":
		if c.Selected < len(c.Options)-1 {
			c.Selected++
		}
	default:
		if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= len(c.Options) {
			c.Selected = n - 1
			return c, true
		}
	}
	return c, false
}

// Value returns the selected option as its 1-based index.
func (c ChoiceList) Value() string {
	if len(c.Options) == 0 {
		return ""
	}
	return strconv.Itoa(c.Selected + 1)
}

// View renders the options.
func (c ChoiceList) View() string {
	var s string
	for i, opt := range c.Options {
		line := fmt.Sprintf("    %d) %s", i+1, opt)
		style := lipgloss.NewStyle().Foreground(theme.Text)
		if i == c.Selected {
			line = fmt.Sprintf("  › %d) %s", i+1, opt)
			style = theme.Selected
		}
		s += style.Render(line) + "\n"
	}
	return s
}
