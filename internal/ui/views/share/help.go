package share

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/mitchellh/go-wordwrap"

	"github.com/trowan/grantly/internal/ui/styles"
)

// helpIntro explains the dialog's model of the world.
const helpIntro = "Grants are grouped by access type: view lets a user or group " +
	"open the object, modify lets them change it. The author always holds both " +
	"and cannot be removed. Every change is confirmed against the server and " +
	"the whole list is reloaded, so what you see is what the server has."

// renderHelp renders the help overlay.
func (v *ShareView) renderHelp() string {
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("Sharing Settings - Help"))
	b.WriteString("\n\n")

	wrapWidth := uint(min(70, max(30, v.width-10)))
	b.WriteString(wordwrap.WrapString(helpIntro, wrapWidth))
	b.WriteString("\n\n")

	bindings := []struct {
		key  string
		desc string
	}{
		{"tab / v / m", "switch between view and modify"},
		{"j/k, ↑/↓", "move selection"},
		{"a", "grant access to a user (searchable)"},
		{"A", "grant access to a group"},
		{"x / d", "revoke the selected grant"},
		{"y", "copy the selected grantee's email"},
		{"r", "reload from the server"},
		{"h / ?", "toggle this help"},
		{"q / esc", "close"},
	}
	for _, bind := range bindings {
		b.WriteString(styles.AccentStyle.Render(padRight(bind.key, 14)))
		b.WriteString(bind.desc)
		b.WriteString("\n")
	}

	dialog := styles.DialogStyle.Render(b.String())
	return lipgloss.Place(v.width, v.height, lipgloss.Center, lipgloss.Center, dialog)
}

// padRight pads to the given display width; arrows and other wide runes
// count by cell, not by byte.
func padRight(s string, width int) string {
	w := runewidth.StringWidth(s)
	if w >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-w)
}
