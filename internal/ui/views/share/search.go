package share

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/grants"
	"github.com/trowan/grantly/internal/logger"
	"github.com/trowan/grantly/internal/ui/styles"
)

// Search messages. Both carry the generation that produced them so results
// from superseded keystrokes can be discarded.
type (
	searchTickMsg struct {
		Seq int
	}

	searchResultsMsg struct {
		Seq   int
		Users []api.User
		Err   error
	}
)

// searchState holds the grant-user search form.
type searchState struct {
	input     textinput.Model
	target    api.AccessType
	seq       int // generation of the latest keystroke
	searching bool
	results   []api.User
	selected  int
}

// openUserSearch enters the grant-user mode for the active category.
func (v *ShareView) openUserSearch() tea.Cmd {
	ti := textinput.New()
	ti.Placeholder = "Search users by name or email..."
	ti.CharLimit = 100
	ti.Width = 40
	ti.Focus()

	v.search = searchState{
		input:     ti,
		target:    v.active,
		searching: true,
	}
	v.mode = ModeGrantUser

	// Immediate empty-term search so the list is populated before typing.
	return v.searchUsers(v.search.seq, "")
}

// handleSearchKey handles input while the user search is open.
func (v *ShareView) handleSearchKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "esc":
		v.mode = ModeNormal
		return nil
	case "up", "ctrl+k":
		if v.search.selected > 0 {
			v.search.selected--
		}
		return nil
	case "down", "ctrl+j":
		if v.search.selected < len(v.grantableResults())-1 {
			v.search.selected++
		}
		return nil
	case "enter":
		return v.grantSelectedUser()
	}

	before := v.search.input.Value()
	var cmd tea.Cmd
	v.search.input, cmd = v.search.input.Update(msg)

	if v.search.input.Value() != before {
		// Every keystroke supersedes the pending search. Only the tick that
		// still carries the latest generation fires a request.
		v.search.seq++
		v.search.searching = true
		v.search.selected = 0
		seq := v.search.seq
		return tea.Batch(cmd, tea.Tick(v.debounce, func(time.Time) tea.Msg {
			return searchTickMsg{Seq: seq}
		}))
	}
	return cmd
}

// handleSearchTick fires the search once the quiet interval elapsed.
func (v *ShareView) handleSearchTick(msg searchTickMsg) tea.Cmd {
	if v.mode != ModeGrantUser || msg.Seq != v.search.seq {
		return nil
	}
	return v.searchUsers(msg.Seq, v.search.input.Value())
}

// searchUsers issues one directory search tagged with its generation.
func (v *ShareView) searchUsers(seq int, term string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		users, err := v.client.SearchUsers(ctx, term)
		return searchResultsMsg{Seq: seq, Users: users, Err: err}
	}
}

// handleSearchResults applies results unless a newer keystroke superseded them.
func (v *ShareView) handleSearchResults(msg searchResultsMsg) {
	if v.mode != ModeGrantUser || msg.Seq != v.search.seq {
		return
	}
	v.search.searching = false
	if msg.Err != nil {
		// Fail soft: an empty candidate list, not an error screen.
		logger.Warn("user search failed", "error", msg.Err)
		v.search.results = nil
		return
	}
	v.search.results = msg.Users
}

// grantableResults filters the raw results down to users the active category
// can still be granted to.
func (v *ShareView) grantableResults() []api.User {
	return grants.FilterGrantableUsers(v.search.results, v.search.target, v.object.User.ID, v.snap.Grants)
}

// grantSelectedUser grants the highlighted candidate and leaves the form.
func (v *ShareView) grantSelectedUser() tea.Cmd {
	candidates := v.grantableResults()
	if v.search.selected < 0 || v.search.selected >= len(candidates) {
		return nil
	}
	user := candidates[v.search.selected]
	v.mode = ModeNormal
	return v.executeGrantUser(v.search.target, user)
}

// renderUserSearch renders the grant-user dialog.
func (v *ShareView) renderUserSearch() string {
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render(fmt.Sprintf("Grant %s access to a user", v.search.target)))
	b.WriteString("\n\n")
	b.WriteString(v.search.input.View())
	b.WriteString("\n\n")

	switch candidates := v.grantableResults(); {
	case v.search.searching:
		b.WriteString(styles.MutedStyle.Render(v.spinner.View() + " Searching..."))
	case len(candidates) == 0:
		b.WriteString(styles.MutedStyle.Render("No matching users"))
	default:
		shown := candidates
		if len(shown) > 8 {
			shown = shown[:8]
		}
		for i, u := range shown {
			name := u.Name
			if runewidth.StringWidth(name) > 24 {
				name = runewidth.Truncate(name, 21, "...")
			}
			line := fmt.Sprintf("%-24s %s", name, styles.MutedStyle.Render(u.Email))
			if i == v.search.selected {
				b.WriteString(styles.AccentStyle.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\n")
	b.WriteString(styles.MutedStyle.Render("[↑/↓] select  [enter] grant  [esc] cancel"))

	dialog := styles.DialogStyle.Render(b.String())
	return lipgloss.Place(v.width, v.height, lipgloss.Center, lipgloss.Center, dialog)
}
