package theme

import (
	"charm.land/lipgloss/v2"
)

// Palette. Levels get their own hue so the header tells them apart.
var (
	Primary   = lipgloss.Color("#6366F1") // Indigo
	Secondary = lipgloss.Color("#0EA5E9") // Sky
	Accent    = lipgloss.Color("#F59E0B") // Amber
	Success   = lipgloss.Color("#10B981") // Emerald
	Error     = lipgloss.Color("#EF4444") // Red
	Warning   = lipgloss.Color("#F97316") // Orange
	Text      = lipgloss.Color("#F1F5F9")
	TextDim   = lipgloss.Color("#94A3B8")
	BgDark    = lipgloss.Color("#0B1120")
	BgCard    = lipgloss.Color("#1E293B")
	Border    = lipgloss.Color("#334155")
)

var levelColors = map[string]lipgloss.Style{
	"A1": lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")),
	"A2": lipgloss.NewStyle().Foreground(lipgloss.Color("#84CC16")),
	"B1": lipgloss.NewStyle().Foreground(lipgloss.Color("#0EA5E9")),
	"B2": lipgloss.NewStyle().Foreground(lipgloss.Color("#6366F1")),
	"C1": lipgloss.NewStyle().Foreground(lipgloss.Color("#D946EF")),
}

// Level renders a CEFR level badge.
func Level(level string) string {
	s, ok := levelColors[level]
	if !ok {
		s = lipgloss.NewStyle().Foreground(Text)
	}
	return s.Bold(true).Render(level)
}

// Typography
var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary)

	Subtitle = lipgloss.NewStyle().
			Foreground(TextDim)

	Body = lipgloss.NewStyle().
		Foreground(Text)

	Hint = lipgloss.NewStyle().
		Foreground(TextDim).
		Italic(true)
)

// Containers
var (
	Card = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Border).
		Padding(1, 2)

	Banner = lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		Padding(0, 2)
)

// States
var (
	Selected = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	Unselected = lipgloss.NewStyle().
			Foreground(Text)

	Correct = lipgloss.NewStyle().
		Foreground(Success).
		Bold(true)

	Incorrect = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	Timer = lipgloss.NewStyle().
		Foreground(Accent).
		Bold(true)

	TimerLow = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)
)
