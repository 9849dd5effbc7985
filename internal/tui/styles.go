package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/harvest-downloader/harvest/internal/config"
)

var (
	// Colors (Dracula on dark terminals)
	ColorNeonPurple = lipgloss.AdaptiveColor{Light: "#7c3aed", Dark: "#bd93f9"}
	ColorNeonPink   = lipgloss.AdaptiveColor{Light: "#db2777", Dark: "#ff79c6"}
	ColorNeonCyan   = lipgloss.AdaptiveColor{Light: "#0e7490", Dark: "#8be9fd"}
	ColorSuccess    = lipgloss.AdaptiveColor{Light: "#15803d", Dark: "#50fa7b"}
	ColorError      = lipgloss.AdaptiveColor{Light: "#b91c1c", Dark: "#ff5555"}
	ColorWarning    = lipgloss.AdaptiveColor{Light: "#c2410c", Dark: "#ffb86c"}
	ColorText       = lipgloss.AdaptiveColor{Light: "#1f2937", Dark: "#f8f8f2"}
	ColorLightGray  = lipgloss.AdaptiveColor{Light: "#4b5563", Dark: "#bfbfbf"}
	ColorGray       = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#6272a4"}
	ColorBorder     = lipgloss.AdaptiveColor{Light: "#d1d5db", Dark: "#44475a"}

	AppStyle = lipgloss.NewStyle().
			Padding(DefaultPaddingY, DefaultPaddingX).
			Foreground(ColorText)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPurple).
			Bold(true)

	StatsStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Padding(DefaultPaddingY, DefaultPaddingX)

	HeaderRowStyle = lipgloss.NewStyle().
			Foreground(ColorNeonCyan).
			Bold(true)

	CursorRowStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPink).
			Bold(true)

	RowStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	SelectedMarkStyle = lipgloss.NewStyle().
				Foreground(ColorSuccess).
				Bold(true)

	CompleteStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle    = lipgloss.NewStyle().Foreground(ColorError)
	PausedStyle   = lipgloss.NewStyle().Foreground(ColorWarning)

	StatusStyle = lipgloss.NewStyle().
			Foreground(ColorLightGray).
			Italic(true)

	ActiveTabStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPink).
			Bold(true).
			Padding(0, 1)

	TabStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Padding(0, 1)
)

// ApplyTheme picks the light or dark variant of the palette. The adaptive
// theme asks the terminal for its background.
func ApplyTheme(theme int) {
	dark := true
	switch theme {
	case config.ThemeLight:
		dark = false
	case config.ThemeAdaptive:
		dark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(dark)
}
