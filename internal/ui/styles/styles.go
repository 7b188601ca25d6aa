// Package styles provides centralized Lipgloss styling for the grantly UI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette for the grantly UI.
var (
	ColorBorder  = lipgloss.Color("240") // Gray - all borders
	ColorAccent  = lipgloss.Color("6")   // Cyan - titles, highlights
	ColorMuted   = lipgloss.Color("8")   // Dark gray - secondary text
	ColorSuccess = lipgloss.Color("10")  // Green - success messages
	ColorError   = lipgloss.Color("9")   // Red - error messages
	ColorWarning = lipgloss.Color("11")  // Yellow - warnings
	ColorTextDim = lipgloss.Color("240") // Dim text for empty states

	ColorSelectedFg = lipgloss.Color("229") // Light yellow text
	ColorSelectedBg = lipgloss.Color("57")  // Purple background
)

var (
	// TitleStyle is for view titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	// AccentStyle highlights focused labels and cursors.
	AccentStyle = lipgloss.NewStyle().
			Foreground(ColorAccent)

	// MutedStyle is for secondary text and key hints.
	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// ErrorStyle is for error messages.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	// SuccessStyle is for success messages.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// WarningStyle is for warnings.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// SelectedStyle is for the selected list row.
	SelectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSelectedFg).
			Background(ColorSelectedBg)

	// StatusBarStyle wraps the status bar.
	StatusBarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(ColorBorder)

	// StatusTitleStyle is for the object name in the status bar.
	StatusTitleStyle = lipgloss.NewStyle().
				Foreground(ColorAccent).
				Bold(true)

	// FooterStyle wraps the footer.
	FooterStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(ColorBorder)

	// FooterHintStyle is for keyboard hints.
	FooterHintStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// DialogStyle wraps modal dialogs.
	DialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorAccent).
			Padding(1, 2)
)
