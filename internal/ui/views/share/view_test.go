package share

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/grants"
	"github.com/trowan/grantly/internal/history"
)

// fakeClient is an in-memory Client recording calls.
type fakeClient struct {
	mu sync.Mutex

	payload     []byte
	permErr     error
	groups      []api.Group
	object      api.Object
	users       []api.User
	mutateErr   error
	searchTerms []string
	grantCalls  int
	revokeCalls int
}

func (f *fakeClient) Permissions(context.Context, string, int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, f.permErr
}

func (f *fakeClient) Grant(context.Context, string, int, api.GrantRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantCalls++
	return f.mutateErr
}

func (f *fakeClient) Revoke(context.Context, string, int, api.GrantRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	return f.mutateErr
}

func (f *fakeClient) Groups(context.Context) ([]api.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups, nil
}

func (f *fakeClient) Object(context.Context, string, int) (api.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.object, nil
}

func (f *fakeClient) SearchUsers(_ context.Context, term string) ([]api.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchTerms = append(f.searchTerms, term)
	return f.users, nil
}

func (f *fakeClient) searchedTerms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searchTerms...)
}

func newTestView(client *fakeClient) *ShareView {
	v := New(client, "queries", 3, Options{Debounce: 10 * time.Millisecond})
	v.SetSize(100, 30)
	return v
}

// runCmd executes a command tree, feeding resulting messages back in.
func runCmd(v *ShareView, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			runCmd(v, c)
		}
		return
	}
	if msg != nil {
		v.Update(msg)
	}
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// loadedView returns a view with the object and a snapshot applied.
func loadedView(t *testing.T, client *fakeClient) *ShareView {
	t.Helper()
	v := newTestView(client)
	v.Update(ObjectLoadedMsg{Object: client.object})

	snap, err := grants.NewReconciler(client, "queries", 3).LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	v.Update(GrantsLoadedMsg{Snap: snap})
	return v
}

func demoClient() *fakeClient {
	return &fakeClient{
		payload: []byte(`{
			"view": {"users": [{"id": 2, "name": "Ben", "email": "ben@example.com"}], "groups": [{"id": 2, "name": "default"}]},
			"modify": {"users": [], "groups": []}
		}`),
		groups: []api.Group{{ID: 1, Name: "admin"}, {ID: 2, Name: "default"}, {ID: 3, Name: "analysts"}},
		object: api.Object{ID: 3, Name: "Daily signups", User: api.User{ID: 1, Name: "Ada", Email: "ada@example.com"}},
		users: []api.User{
			{ID: 1, Name: "Ada", Email: "ada@example.com"},
			{ID: 2, Name: "Ben", Email: "ben@example.com"},
			{ID: 3, Name: "Alicia", Email: "alicia@example.com"},
		},
	}
}

func TestRendersGrantsWithAuthorBadge(t *testing.T) {
	v := loadedView(t, demoClient())

	out := ansi.Strip(v.View())
	if !strings.Contains(out, "Daily signups") {
		t.Errorf("output missing object name:\n%s", out)
	}
	if !strings.Contains(out, "(author)") {
		t.Errorf("output missing author badge:\n%s", out)
	}
	if !strings.Contains(out, "Ben") || !strings.Contains(out, "default") {
		t.Errorf("output missing grantees:\n%s", out)
	}
}

func TestFooterRendersToast(t *testing.T) {
	v := loadedView(t, demoClient())

	v.showToast("Could not load permissions", true)
	out := ansi.Strip(v.View())
	if !strings.Contains(out, "Could not load permissions") {
		t.Errorf("footer missing toast:\n%s", out)
	}

	v.showToast("Granted view access to Alicia", false)
	out = ansi.Strip(v.View())
	if !strings.Contains(out, "Granted view access to Alicia") {
		t.Errorf("footer missing success toast:\n%s", out)
	}
}

func TestAuthorRowHasNoRevoke(t *testing.T) {
	v := loadedView(t, demoClient())

	// Selection starts on the author; revoke must be refused.
	v.Update(keyMsg("x"))
	if v.mode != ModeNormal {
		t.Errorf("mode = %v, want ModeNormal (author is not revocable)", v.mode)
	}

	// The next row is a plain grantee; revoke opens the confirmation.
	v.Update(keyMsg("j"))
	v.Update(keyMsg("x"))
	if v.mode != ModeRevokeConfirm {
		t.Errorf("mode = %v, want ModeRevokeConfirm", v.mode)
	}
	if v.revokeTarget == nil || v.revokeTarget.user == nil || v.revokeTarget.user.Name != "Ben" {
		t.Errorf("revoke target = %+v, want Ben", v.revokeTarget)
	}
}

func TestDebounceCollapsesKeystrokes(t *testing.T) {
	client := demoClient()
	v := loadedView(t, client)

	// Opening the search issues one immediate empty-term lookup.
	_, cmd := v.Update(keyMsg("a"))
	if v.mode != ModeGrantUser {
		t.Fatalf("mode = %v, want ModeGrantUser", v.mode)
	}
	runCmd(v, cmd)

	// Three quick keystrokes; each bumps the generation but none fire a
	// request until the quiet interval elapses.
	for _, r := range []string{"a", "l", "i"} {
		v.Update(keyMsg(r))
	}
	if got := v.search.input.Value(); got != "ali" {
		t.Fatalf("input value = %q, want ali", got)
	}

	// Ticks from the superseded generations are ignored.
	for seq := 1; seq < v.search.seq; seq++ {
		if _, cmd := v.Update(searchTickMsg{Seq: seq}); cmd != nil {
			t.Errorf("stale tick seq=%d produced a search", seq)
		}
	}

	// Only the tick carrying the current generation searches.
	_, cmd = v.Update(searchTickMsg{Seq: v.search.seq})
	if cmd == nil {
		t.Fatal("current tick should fire the search")
	}
	runCmd(v, cmd)

	terms := client.searchedTerms()
	if len(terms) != 2 || terms[0] != "" || terms[1] != "ali" {
		t.Errorf("searched terms = %v, want [\"\", \"ali\"]", terms)
	}
}

func TestStaleSearchResultsDiscarded(t *testing.T) {
	v := loadedView(t, demoClient())
	v.Update(keyMsg("a"))
	v.search.seq = 5

	v.Update(searchResultsMsg{Seq: 4, Users: []api.User{{ID: 9, Name: "Old"}}})
	if len(v.search.results) != 0 {
		t.Errorf("stale results applied: %+v", v.search.results)
	}

	v.Update(searchResultsMsg{Seq: 5, Users: []api.User{{ID: 3, Name: "Alicia", Email: "alicia@example.com"}}})
	if len(v.search.results) != 1 || v.search.results[0].Name != "Alicia" {
		t.Errorf("current results = %+v, want Alicia", v.search.results)
	}
}

func TestSearchFilterExcludesAuthorAndGranted(t *testing.T) {
	v := loadedView(t, demoClient())
	v.Update(keyMsg("a")) // view category search
	v.Update(searchResultsMsg{Seq: v.search.seq, Users: demoClient().users})

	// Ada is the author and Ben already holds view; only Alicia remains.
	got := v.grantableResults()
	if len(got) != 1 || got[0].Name != "Alicia" {
		t.Errorf("grantable = %+v, want only Alicia", got)
	}

	out := ansi.Strip(v.View())
	if strings.Contains(out, "ben@example.com") {
		t.Errorf("already-granted user offered again:\n%s", out)
	}
}

func TestSearchErrorFailsSoft(t *testing.T) {
	v := loadedView(t, demoClient())
	v.Update(keyMsg("a"))

	v.Update(searchResultsMsg{Seq: v.search.seq, Err: errors.New("boom")})
	if v.mode != ModeGrantUser {
		t.Errorf("mode = %v, want search still open", v.mode)
	}
	if len(v.search.results) != 0 {
		t.Errorf("results = %+v, want empty on error", v.search.results)
	}
	out := ansi.Strip(v.View())
	if !strings.Contains(out, "No matching users") {
		t.Errorf("output should show the empty state:\n%s", out)
	}
}

func TestGroupPickerExcludesGrantedEitherCategory(t *testing.T) {
	v := loadedView(t, demoClient())
	v.Update(keyMsg("A"))
	if v.mode != ModeGrantGroup {
		t.Fatalf("mode = %v, want ModeGrantGroup", v.mode)
	}

	// "default" holds a view grant, so it is not offered for modify either.
	groups := v.availableGroups()
	if len(groups) != 2 {
		t.Fatalf("available groups = %+v, want admin and analysts", groups)
	}
	for _, g := range groups {
		if g.Name == "default" {
			t.Errorf("granted group offered again: %+v", groups)
		}
	}
}

func TestMutationSuccessAppliesReloadedSnapshot(t *testing.T) {
	v := loadedView(t, demoClient())

	snap := grants.Snapshot{
		Grants: grants.GrantSet{Modify: grants.AccessList{Users: []api.User{{ID: 3, Name: "Alicia"}}}},
	}
	v.Update(mutationDoneMsg{Snap: snap, Action: history.ActionGrant, Access: api.AccessModify, Grantee: "Alicia"})

	if v.mutating {
		t.Error("mutating flag should clear")
	}
	if len(v.snap.Grants.Modify.Users) != 1 {
		t.Errorf("snapshot = %+v, want the reloaded one", v.snap.Grants)
	}
	if v.toastError || !strings.Contains(v.toastMessage, "Alicia") {
		t.Errorf("toast = %q (err=%v), want success naming Alicia", v.toastMessage, v.toastError)
	}
}

func TestMutationFailureToastNamesCategory(t *testing.T) {
	cases := []struct {
		name string
		msg  mutationDoneMsg
		want string
	}{
		{"grant user", mutationDoneMsg{Err: errors.New("boom"), Action: history.ActionGrant},
			"Could not grant permission to the user"},
		{"grant group", mutationDoneMsg{Err: errors.New("boom"), Action: history.ActionGrant, IsGroup: true},
			"Could not grant permission to the group"},
		{"revoke user", mutationDoneMsg{Err: errors.New("boom"), Action: history.ActionRevoke},
			"Could not remove permission from the user"},
		{"revoke group", mutationDoneMsg{Err: errors.New("boom"), Action: history.ActionRevoke, IsGroup: true},
			"Could not remove permission from the group"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := loadedView(t, demoClient())
			before := v.snap

			v.Update(tc.msg)
			if v.toastMessage != tc.want {
				t.Errorf("toast = %q, want %q", v.toastMessage, tc.want)
			}
			if !v.toastError {
				t.Error("toast should be an error")
			}
			// Displayed state keeps the last good snapshot.
			if len(v.snap.Grants.View.Users) != len(before.Grants.View.Users) {
				t.Errorf("snapshot changed on failure: %+v", v.snap.Grants)
			}
		})
	}
}

func TestGrantAppliedButReloadFailureRaisesLoadToast(t *testing.T) {
	client := demoClient()
	v := loadedView(t, client)

	// The grant goes through, then the full reload fails.
	client.mu.Lock()
	client.permErr = errors.New("flaky")
	client.mu.Unlock()

	runCmd(v, v.executeGrantUser(api.AccessView, api.User{ID: 3, Name: "Alicia", Email: "alicia@example.com"}))

	if client.grantCalls != 1 {
		t.Fatalf("grant calls = %d, want 1", client.grantCalls)
	}
	// One load notification, not a success toast over fail-soft data.
	if !v.toastError || v.toastMessage != "Could not load permissions" {
		t.Errorf("toast = %q (err=%v), want the load failure surfaced", v.toastMessage, v.toastError)
	}
	if len(v.snap.Grants.View.Users) != 0 {
		t.Errorf("snapshot = %+v, want the fail-soft empty grant set", v.snap.Grants)
	}
	if v.mutating {
		t.Error("mutating flag should clear")
	}
}

func TestRevokeConfirmExecutes(t *testing.T) {
	client := demoClient()
	v := loadedView(t, client)

	v.Update(keyMsg("j")) // Ben
	v.Update(keyMsg("x"))
	_, cmd := v.Update(keyMsg("y"))
	if cmd == nil {
		t.Fatal("confirming should return the revoke command")
	}
	runCmd(v, cmd)

	if client.revokeCalls != 1 {
		t.Errorf("revoke calls = %d, want 1", client.revokeCalls)
	}
	if v.mode != ModeNormal {
		t.Errorf("mode = %v, want ModeNormal", v.mode)
	}
}

func TestClosedGuardDropsLateMessages(t *testing.T) {
	v := loadedView(t, demoClient())

	_, cmd := v.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if !v.closed {
		t.Fatal("view should be marked closed")
	}

	// An in-flight result arriving after close must not touch state.
	before := v.snap
	v.Update(GrantsLoadedMsg{Snap: grants.Snapshot{}})
	if len(v.snap.Grants.View.Users) != len(before.Grants.View.Users) {
		t.Errorf("snapshot mutated after close")
	}
}

func TestHelpKeyColumnAlignment(t *testing.T) {
	// Arrow glyphs are multibyte; the key column must pad by display width.
	for _, key := range []string{"a", "j/k, ↑/↓", "tab / v / m", "q / esc"} {
		if w := runewidth.StringWidth(padRight(key, 14)); w != 14 {
			t.Errorf("padRight(%q) width = %d, want 14", key, w)
		}
	}
}

func TestHelpOverlay(t *testing.T) {
	v := loadedView(t, demoClient())

	v.Update(keyMsg("?"))
	if v.mode != ModeHelp {
		t.Fatalf("mode = %v, want ModeHelp", v.mode)
	}
	out := ansi.Strip(v.View())
	if !strings.Contains(out, "Help") || !strings.Contains(out, "revoke") {
		t.Errorf("help output:\n%s", out)
	}

	v.Update(keyMsg("esc"))
	if v.mode != ModeNormal {
		t.Errorf("mode = %v, want ModeNormal after esc", v.mode)
	}
}

func TestCategoryToggle(t *testing.T) {
	v := loadedView(t, demoClient())

	if v.active != api.AccessView {
		t.Fatalf("initial category = %v, want view", v.active)
	}
	v.Update(keyMsg("m"))
	if v.active != api.AccessModify {
		t.Errorf("category after m = %v, want modify", v.active)
	}
	v.Update(tea.KeyMsg{Type: tea.KeyTab})
	if v.active != api.AccessView {
		t.Errorf("category after tab = %v, want view", v.active)
	}
}
