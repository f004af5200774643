package main

import "github.com/charmbracelet/lipgloss"

// Nord palette
// https://www.nordtheme.com/
var (
	colorSubtle  = lipgloss.Color("#4C566A")
	colorPrimary = lipgloss.Color("#88C0D0")
	colorInfo    = lipgloss.Color("#5E81AC")
	colorSuccess = lipgloss.Color("#A3BE8C")
	colorWarning = lipgloss.Color("#EBCB8B")
	colorError   = lipgloss.Color("#BF616A")
)

// styles for terminal output
type styles struct {
	Header   lipgloss.Style
	Subtle   lipgloss.Style
	Locked   lipgloss.Style
	Unlocked lipgloss.Style
	Ready    lipgloss.Style
	Pending  lipgloss.Style
	TaskDone lipgloss.Style
	Overdue  lipgloss.Style
	Section  lipgloss.Style
	Panel    lipgloss.Style
}

func newStyles() styles {
	return styles{
		Header: lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true),

		Subtle: lipgloss.NewStyle().
			Foreground(colorSubtle),

		Locked: lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true),

		Unlocked: lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true),

		Ready: lipgloss.NewStyle().
			Foreground(colorSuccess),

		Pending: lipgloss.NewStyle().
			Foreground(colorWarning),

		TaskDone: lipgloss.NewStyle().
			Foreground(colorSubtle).
			Strikethrough(true),

		Overdue: lipgloss.NewStyle().
			Foreground(colorError),

		Section: lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true),

		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle).
			Padding(0, 1),
	}
}
