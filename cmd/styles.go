package cmd

import "github.com/charmbracelet/lipgloss"

var (
	colorIce   = lipgloss.Color("#A8D8EA")
	colorDeep  = lipgloss.Color("#596E79")
	colorAlert = lipgloss.Color("#FF6B6B")
	colorGood  = lipgloss.Color("#4ECDC4")
	colorMuted = lipgloss.Color("#6c757d")

	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorIce).
			MarginBottom(1)

	styleLabel = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(14)

	styleGood = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	styleBad  = lipgloss.NewStyle().Foreground(colorAlert).Bold(true)

	styleCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDeep).
			Padding(0, 1)
)
