// Package share provides the sharing-settings dialog for editing view and
// modify grants on a query or dashboard.
package share

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/grants"
	"github.com/trowan/grantly/internal/history"
	"github.com/trowan/grantly/internal/logger"
	"github.com/trowan/grantly/internal/ui"
	"github.com/trowan/grantly/internal/ui/styles"
)

// Client is the API surface the share view consumes. *api.Client satisfies it.
type Client interface {
	grants.Service
	Object(ctx context.Context, kind string, id int) (api.Object, error)
	SearchUsers(ctx context.Context, term string) ([]api.User, error)
}

// Message types for the share view.
type (
	// GrantsLoadedMsg contains a refreshed snapshot.
	GrantsLoadedMsg struct {
		Snap grants.Snapshot
		Err  error
	}

	// ObjectLoadedMsg contains the object summary with its author.
	ObjectLoadedMsg struct {
		Object api.Object
		Err    error
	}

	// RefreshMsg triggers a full reload.
	RefreshMsg struct{}
)

// Mode represents the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeHelp
	ModeGrantUser
	ModeGrantGroup
	ModeRevokeConfirm
)

// row is one selectable grantee entry in the active category.
type row struct {
	user     *api.User
	group    *api.Group
	isAuthor bool
}

// label returns the display name for the row.
func (r row) label() string {
	switch {
	case r.user != nil && r.user.Name != "":
		return r.user.Name
	case r.user != nil:
		return r.user.Email
	case r.group != nil:
		return r.group.Name
	default:
		return ""
	}
}

// ShareView is the sharing-settings dialog for one object.
type ShareView struct {
	width  int
	height int

	// State
	mode       Mode
	loading    bool
	refreshing bool
	mutating   bool
	closed     bool
	lastUpdate time.Time

	// Bound object
	kind   string
	id     int
	object api.Object

	// Data
	client Client
	rec    *grants.Reconciler
	snap   grants.Snapshot

	// Active category and list state
	active       api.AccessType
	selectedIdx  int
	scrollOffset int

	// Grant-user search state (search.go)
	search searchState

	// Grant-group picker state
	groupIdx int

	// Revoke confirmation
	revokeTarget *row

	// Timing
	debounce time.Duration

	// UI components
	spinner   spinner.Model
	clipboard *ui.ClipboardWriter

	// Toast
	toastMessage string
	toastError   bool
	toastTime    time.Time

	// Audit trail, optional
	hist *history.Store
}

// Options configures a ShareView.
type Options struct {
	// Debounce is the search quiet interval (default 200ms).
	Debounce time.Duration

	// History receives an audit entry per mutation when non-nil.
	History *history.Store
}

// New creates the sharing dialog for one object.
func New(client Client, kind string, id int, opts Options) *ShareView {
	if opts.Debounce == 0 {
		opts.Debounce = 200 * time.Millisecond
	}

	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &ShareView{
		mode:      ModeNormal,
		loading:   true,
		kind:      kind,
		id:        id,
		client:    client,
		rec:       grants.NewReconciler(client, kind, id),
		active:    api.AccessView,
		debounce:  opts.Debounce,
		spinner:   s,
		clipboard: ui.NewClipboardWriter(),
		hist:      opts.History,
	}
}

// Init starts the spinner and the initial load.
func (v *ShareView) Init() tea.Cmd {
	return tea.Batch(v.spinner.Tick, v.fetchObject(), v.loadAll())
}

// SetSize sets the dimensions of the view.
func (v *ShareView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// fetchObject loads the object summary; the author drives the grant filters.
func (v *ShareView) fetchObject() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		obj, err := v.client.Object(ctx, v.kind, v.id)
		return ObjectLoadedMsg{Object: obj, Err: err}
	}
}

// loadAll performs a full reload of grants and groups.
func (v *ShareView) loadAll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		snap, err := v.rec.LoadAll(ctx)
		return GrantsLoadedMsg{Snap: snap, Err: err}
	}
}

// Update handles messages for the share view.
func (v *ShareView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// After close, in-flight results must not touch state.
	if v.closed {
		return v, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return v, v.handleKeyPress(msg)

	case ObjectLoadedMsg:
		if msg.Err != nil {
			logger.Warn("object fetch failed", "kind", v.kind, "id", v.id, "error", msg.Err)
			v.showToast("Could not load object details", true)
		} else {
			v.object = msg.Object
		}
		return v, nil

	case GrantsLoadedMsg:
		v.loading = false
		v.refreshing = false
		v.snap = msg.Snap
		v.lastUpdate = time.Now()
		v.clampSelection()
		if msg.Err != nil {
			v.showToast("Could not load permissions", true)
		}
		return v, nil

	case RefreshMsg:
		if !v.refreshing {
			v.refreshing = true
			return v, v.loadAll()
		}

	case mutationDoneMsg:
		return v, v.handleMutationDone(msg)

	case searchTickMsg:
		return v, v.handleSearchTick(msg)

	case searchResultsMsg:
		v.handleSearchResults(msg)
		return v, nil

	case spinner.TickMsg:
		if v.loading || v.mutating || v.refreshing {
			var cmd tea.Cmd
			v.spinner, cmd = v.spinner.Update(msg)
			return v, cmd
		}

	case tea.WindowSizeMsg:
		v.SetSize(msg.Width, msg.Height)
	}

	return v, nil
}

// handleKeyPress handles keyboard input.
func (v *ShareView) handleKeyPress(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()

	switch v.mode {
	case ModeHelp:
		switch key {
		case "h", "?", "esc", "q":
			v.mode = ModeNormal
		}
		return nil

	case ModeGrantUser:
		return v.handleSearchKey(msg)

	case ModeGrantGroup:
		return v.handleGroupKey(key)

	case ModeRevokeConfirm:
		return v.handleRevokeConfirmKey(key)
	}

	// Normal mode
	switch key {
	case "esc", "q", "ctrl+c":
		v.closed = true
		return tea.Quit
	case "tab", "v", "m":
		v.toggleCategory(key)
	case "j", "down":
		v.moveSelection(1)
	case "k", "up":
		v.moveSelection(-1)
	case "g", "home":
		v.selectedIdx = 0
		v.scrollOffset = 0
	case "G", "end":
		v.selectedIdx = max(0, len(v.rows())-1)
		v.ensureVisible()
	case "a", "+":
		return v.openUserSearch()
	case "A":
		return v.openGroupPicker()
	case "x", "d", "-", "delete", "backspace":
		v.promptRevoke()
	case "r", "R":
		if !v.refreshing {
			v.refreshing = true
			return v.loadAll()
		}
	case "y":
		v.copySelected()
	case "h", "?":
		v.mode = ModeHelp
	}

	return nil
}

// toggleCategory switches the active access category.
func (v *ShareView) toggleCategory(key string) {
	switch key {
	case "v":
		v.active = api.AccessView
	case "m":
		v.active = api.AccessModify
	default:
		if v.active == api.AccessView {
			v.active = api.AccessModify
		} else {
			v.active = api.AccessView
		}
	}
	v.selectedIdx = 0
	v.scrollOffset = 0
}

// rows flattens the active category into selectable entries: the author
// first, then granted users, then granted groups.
func (v *ShareView) rows() []row {
	var rows []row
	if v.object.User.ID != 0 {
		author := v.object.User
		rows = append(rows, row{user: &author, isAuthor: true})
	}
	list := v.snap.Grants.List(v.active)
	for i := range list.Users {
		if list.Users[i].ID == v.object.User.ID {
			continue // author already listed, cannot be revoked anyway
		}
		rows = append(rows, row{user: &list.Users[i]})
	}
	for i := range list.Groups {
		rows = append(rows, row{group: &list.Groups[i]})
	}
	return rows
}

// selectedRow returns the row under the cursor, if any.
func (v *ShareView) selectedRow() *row {
	rows := v.rows()
	if v.selectedIdx < 0 || v.selectedIdx >= len(rows) {
		return nil
	}
	r := rows[v.selectedIdx]
	return &r
}

// promptRevoke opens the confirmation for the selected row. The author
// entry carries no revoke action.
func (v *ShareView) promptRevoke() {
	r := v.selectedRow()
	if r == nil || r.isAuthor {
		return
	}
	v.revokeTarget = r
	v.mode = ModeRevokeConfirm
}

// copySelected copies the selected grantee's email or name.
func (v *ShareView) copySelected() {
	r := v.selectedRow()
	if r == nil {
		return
	}
	text := r.label()
	if r.user != nil && r.user.Email != "" {
		text = r.user.Email
	}
	if err := v.clipboard.Write(text); err == nil {
		v.showToast("Copied to clipboard", false)
	}
}

// moveSelection moves the selection by delta rows.
func (v *ShareView) moveSelection(delta int) {
	v.selectedIdx += delta
	v.clampSelection()
}

func (v *ShareView) clampSelection() {
	if v.selectedIdx < 0 {
		v.selectedIdx = 0
	}
	if n := len(v.rows()); v.selectedIdx >= n {
		v.selectedIdx = max(0, n-1)
	}
	v.ensureVisible()
}

// ensureVisible adjusts scroll offset to keep selection visible.
func (v *ShareView) ensureVisible() {
	visibleHeight := v.listHeight()
	if visibleHeight <= 0 {
		return
	}
	if v.selectedIdx < v.scrollOffset {
		v.scrollOffset = v.selectedIdx
	}
	if v.selectedIdx >= v.scrollOffset+visibleHeight {
		v.scrollOffset = v.selectedIdx - visibleHeight + 1
	}
}

// listHeight returns the visible grantee list height.
func (v *ShareView) listHeight() int {
	// status bar(2) + title(1) + category tabs(2) + footer(3 with border)
	return max(1, v.height-8)
}

// showToast displays a footer message for a few seconds.
func (v *ShareView) showToast(message string, isError bool) {
	v.toastMessage = message
	v.toastError = isError
	v.toastTime = time.Now()
}

// View renders the share view.
func (v *ShareView) View() string {
	switch v.mode {
	case ModeHelp:
		return v.renderHelp()
	case ModeGrantUser:
		return v.renderUserSearch()
	case ModeGrantGroup:
		return v.renderGroupPicker()
	case ModeRevokeConfirm:
		return v.renderRevokeConfirm()
	default:
		return v.renderMainView()
	}
}

// renderMainView renders the grantee list for the active category.
func (v *ShareView) renderMainView() string {
	var b strings.Builder
	b.WriteString(v.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(styles.TitleStyle.Render("Sharing Settings"))
	b.WriteString("\n")
	b.WriteString(v.renderTabs())
	b.WriteString("\n")

	if v.loading {
		b.WriteString(v.spinner.View())
		b.WriteString(" Loading permissions...")
		b.WriteString("\n")
		b.WriteString(v.renderFooter())
		return b.String()
	}

	b.WriteString(v.renderList())
	b.WriteString("\n")
	b.WriteString(v.renderFooter())
	return b.String()
}

// renderStatusBar renders the object identity and freshness line.
func (v *ShareView) renderStatusBar() string {
	name := v.object.Name
	if name == "" {
		name = fmt.Sprintf("%s/%d", v.kind, v.id)
	}
	kindLabel := "query"
	if v.kind == "dashboards" {
		kindLabel = "dashboard"
	}
	title := styles.StatusTitleStyle.Render(name)
	kindInfo := styles.MutedStyle.Render(fmt.Sprintf(" %s #%d", kindLabel, v.id))

	var right string
	switch {
	case v.mutating:
		right = styles.WarningStyle.Render(v.spinner.View() + " Applying...")
	case v.refreshing:
		right = styles.WarningStyle.Render("Refreshing...")
	case !v.lastUpdate.IsZero():
		right = styles.MutedStyle.Render("Updated " + humanize.Time(v.lastUpdate))
	}

	left := title + kindInfo
	gap := v.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return styles.StatusBarStyle.Width(max(0, v.width-2)).Render(left + strings.Repeat(" ", gap) + right)
}

// renderTabs renders the two access categories with the active one marked.
func (v *ShareView) renderTabs() string {
	render := func(t api.AccessType, label string) string {
		list := v.snap.Grants.List(t)
		count := len(list.Users) + len(list.Groups)
		text := fmt.Sprintf(" %s (%d) ", label, count)
		if t == v.active {
			return styles.SelectedStyle.Render(text)
		}
		return styles.MutedStyle.Render(text)
	}
	return render(api.AccessView, "View") + " " + render(api.AccessModify, "Modify")
}

// renderList renders the grantee rows of the active category.
func (v *ShareView) renderList() string {
	rows := v.rows()
	if len(rows) == 0 {
		empty := lipgloss.NewStyle().Foreground(styles.ColorTextDim).
			Render("  No grants yet. [a] grant to a user, [A] grant to a group")
		return empty + strings.Repeat("\n", max(0, v.listHeight()-1))
	}

	height := v.listHeight()
	var lines []string
	endIdx := min(v.scrollOffset+height, len(rows))
	for i := v.scrollOffset; i < endIdx; i++ {
		lines = append(lines, v.renderRow(rows[i], i == v.selectedIdx))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// renderRow renders one grantee entry.
func (v *ShareView) renderRow(r row, selected bool) string {
	nameWidth := 28
	detailWidth := max(10, v.width-nameWidth-16)

	var kind, name, detail string
	switch {
	case r.user != nil:
		kind = "user "
		name = r.user.Name
		detail = r.user.Email
	case r.group != nil:
		kind = "group"
		name = r.group.Name
		detail = ""
	}
	if r.isAuthor {
		detail = strings.TrimSpace(detail + "  (author)")
	}

	if runewidth.StringWidth(name) > nameWidth {
		name = runewidth.Truncate(name, nameWidth-3, "...")
	}
	if runewidth.StringWidth(detail) > detailWidth {
		detail = runewidth.Truncate(detail, detailWidth-3, "...")
	}

	line := fmt.Sprintf("  %-5s  %-*s %-*s", kind, nameWidth, name, detailWidth, detail)
	if selected {
		return styles.SelectedStyle.Width(max(0, v.width)).Render(line)
	}
	if r.isAuthor {
		return styles.MutedStyle.Render(line)
	}
	return line
}

// renderFooter renders hints, or the current toast.
func (v *ShareView) renderFooter() string {
	var hints string
	if v.toastMessage != "" && time.Since(v.toastTime) < 3*time.Second {
		if v.toastError {
			hints = styles.ErrorStyle.Render(v.toastMessage)
		} else {
			hints = styles.SuccessStyle.Render(v.toastMessage)
		}
	} else {
		hints = styles.FooterHintStyle.Render(
			"[tab]category [j/k]navigate [a]grant user [A]grant group [x]revoke [r]refresh [h]help [q]close")
	}

	gap := v.width - lipgloss.Width(hints) - 4
	if gap < 1 {
		gap = 1
	}
	return styles.FooterStyle.Width(max(0, v.width-2)).Render(hints + strings.Repeat(" ", gap))
}
