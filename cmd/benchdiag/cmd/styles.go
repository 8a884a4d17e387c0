package cmd

import "github.com/charmbracelet/lipgloss"

// Status palette
var (
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#9CA3AF") // Muted gray
	colorHeading = lipgloss.Color("#7C3AED") // Purple
)

type statusStyles struct {
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	muted   lipgloss.Style
	heading lipgloss.Style
}

func newStatusStyles(plain bool) statusStyles {
	if plain {
		s := lipgloss.NewStyle()
		return statusStyles{ok: s, warn: s, fail: s, muted: s, heading: s}
	}
	return statusStyles{
		ok:      lipgloss.NewStyle().Foreground(colorSuccess),
		warn:    lipgloss.NewStyle().Foreground(colorWarning),
		fail:    lipgloss.NewStyle().Foreground(colorError).Bold(true),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		heading: lipgloss.NewStyle().Foreground(colorHeading).Bold(true),
	}
}
