package components

import (
	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/ui/theme"
)

// ContentWidth returns the inner width shared by stacked panels so they
// line up.
func ContentWidth(frameWidth int) int {
	return min(max(frameWidth-6, 20), 76)
}

// Centered places content in the middle of a width x height area.
func Centered(content string, width, height int) string {
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

// Panel wraps content in a rounded card of the given inner width.
func Panel(content string, cw int) string {
	return theme.Card.Width(cw).Render(content)
}
