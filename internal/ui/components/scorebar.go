package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/cefrquest/internal/ui/theme"
)

// ScoreBar draws a score against its maximum with a tick at the pass
// mark.
type ScoreBar struct {
	Score     int
	Max       int
	Threshold int
	Width     int
}

// View renders the bar followed by "score/max".
func (b ScoreBar) View() string {
	label := fmt.Sprintf("  %d/%d", b.Score, b.Max)
	barWidth := max(b.Width-len(label), 4)

	filled, mark := 0, -1
	if b.Max > 0 {
		filled = min(max(barWidth*b.Score/b.Max, 0), barWidth)
		if b.Threshold > 0 && b.Threshold <= b.Max {
			mark = min(barWidth*b.Threshold/b.Max, barWidth-1)
		}
	}

	fill := theme.Error
	if b.Threshold > 0 && b.Score >= b.Threshold {
		fill = theme.Success
	}

	var sb strings.Builder
	for i := range barWidth {
		cell := " "
		if i == mark {
			cell = "│"
		}
		bg := theme.Border
		if i < filled {
			bg = fill
		}
		sb.WriteString(lipgloss.NewStyle().Background(bg).Foreground(theme.Text).Render(cell))
	}
	return sb.String() + lipgloss.NewStyle().Foreground(theme.TextDim).Render(label)
}
