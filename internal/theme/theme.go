// Package theme holds the terminal styles used by command output.
package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section titles.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle is used for the left column of key/value tables.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	PaddingRight(2)

// ValueStyle is used for the right column of key/value tables.
var ValueStyle = lipgloss.NewStyle().
	Bold(true).
	Align(lipgloss.Right)

// BorderStyle is the table border.
var BorderStyle = lipgloss.NewStyle().
	Foreground(ColorBorder)

// HelpStyle is used for hints below command output.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// LedgerStyle returns a color-coded style for a ledger or bounce kind.
func LedgerStyle(kind string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch kind {
	case "sent", "followed_up":
		return base.Foreground(ColorBlue)
	case "replied":
		return base.Foreground(ColorGreen)
	case "hard":
		return base.Foreground(ColorRed)
	case "soft":
		return base.Foreground(ColorOrange)
	case "unknown", "bounced":
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}
