package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Pane borders
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Execution state styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusPaused = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214"))

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleWarning = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
)

// paneStyle returns the border for a pane.
func paneStyle(focused bool) lipgloss.Style {
	if focused {
		return StyleFocusedBorder
	}
	return StyleUnfocusedBorder
}

// statusIcons maps execution state names to their indicator.
var statusIcons = map[string]struct {
	icon  string
	style lipgloss.Style
}{
	"running":   {"●", StyleStatusRunning},
	"paused":    {"‖", StyleStatusPaused},
	"completed": {"✓", StyleStatusComplete},
	"failed":    {"✗", StyleStatusFailed},
	"timeout":   {"⌛", StyleStatusFailed},
	"cancelled": {"-", StyleStatusPending},
}

// StatusIcon returns a styled indicator for an execution state name.
// Queued and unknown states render as an open circle.
func StatusIcon(status string) string {
	if s, ok := statusIcons[status]; ok {
		return s.style.Render(s.icon)
	}
	return StyleStatusPending.Render("○")
}
