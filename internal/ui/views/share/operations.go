package share

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/grants"
	"github.com/trowan/grantly/internal/history"
	"github.com/trowan/grantly/internal/logger"
	"github.com/trowan/grantly/internal/ui/styles"
)

// mutationDoneMsg reports the outcome of one grant or revoke. On success the
// snapshot already reflects the post-mutation reload. Err is the mutation's
// own failure; LoadErr means the mutation applied but the follow-up reload
// failed, so the snapshot carries fail-soft data.
type mutationDoneMsg struct {
	Snap    grants.Snapshot
	Err     error
	LoadErr error
	Action  history.Action
	Access  api.AccessType
	IsGroup bool
	Grantee string
}

// splitMutationErr separates a reload failure from a mutation failure.
func splitMutationErr(err error) (mutErr, loadErr error) {
	if errors.Is(err, grants.ErrReloadFailed) {
		return nil, err
	}
	return err, nil
}

// executeGrantUser grants one access type to a user.
func (v *ShareView) executeGrantUser(t api.AccessType, user api.User) tea.Cmd {
	v.mutating = true
	return tea.Batch(v.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		snap, err := v.rec.GrantUser(ctx, t, user.ID)
		mutErr, loadErr := splitMutationErr(err)
		v.record(history.ActionGrant, t, "user", user.ID, user.Name, mutErr)
		return mutationDoneMsg{
			Snap: snap, Err: mutErr, LoadErr: loadErr,
			Action: history.ActionGrant, Access: t,
			Grantee: user.Name,
		}
	})
}

// executeGrantGroup grants one access type to a group.
func (v *ShareView) executeGrantGroup(t api.AccessType, group api.Group) tea.Cmd {
	v.mutating = true
	return tea.Batch(v.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		snap, err := v.rec.GrantGroup(ctx, t, group.ID)
		mutErr, loadErr := splitMutationErr(err)
		v.record(history.ActionGrant, t, "group", group.ID, group.Name, mutErr)
		return mutationDoneMsg{
			Snap: snap, Err: mutErr, LoadErr: loadErr,
			Action: history.ActionGrant, Access: t,
			IsGroup: true, Grantee: group.Name,
		}
	})
}

// executeRevoke removes the grant behind one list row.
func (v *ShareView) executeRevoke(t api.AccessType, r row) tea.Cmd {
	v.mutating = true
	return tea.Batch(v.spinner.Tick, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var (
			snap    grants.Snapshot
			err     error
			isGroup bool
			gkind   string
			gid     int
		)
		switch {
		case r.user != nil:
			gkind, gid = "user", r.user.ID
			snap, err = v.rec.RevokeUser(ctx, t, r.user.ID)
		case r.group != nil:
			gkind, gid, isGroup = "group", r.group.ID, true
			snap, err = v.rec.RevokeGroup(ctx, t, r.group.ID)
		}
		mutErr, loadErr := splitMutationErr(err)
		v.record(history.ActionRevoke, t, gkind, gid, r.label(), mutErr)
		return mutationDoneMsg{
			Snap: snap, Err: mutErr, LoadErr: loadErr,
			Action: history.ActionRevoke, Access: t,
			IsGroup: isGroup, Grantee: r.label(),
		}
	})
}

// record appends one audit entry when a history store is attached.
func (v *ShareView) record(action history.Action, t api.AccessType, gkind string, gid int, gname string, opErr error) {
	if v.hist == nil {
		return
	}
	err := v.hist.Record(history.Entry{
		Action:      action,
		ObjectKind:  v.kind,
		ObjectID:    v.id,
		AccessType:  string(t),
		GranteeKind: gkind,
		GranteeID:   gid,
		GranteeName: gname,
		Succeeded:   opErr == nil,
	})
	if err != nil {
		logger.Warn("history record failed", "error", err)
	}
}

// handleMutationDone applies the reloaded snapshot or raises an error toast.
func (v *ShareView) handleMutationDone(msg mutationDoneMsg) tea.Cmd {
	v.mutating = false

	if msg.Err != nil {
		logger.Warn("mutation failed",
			"action", msg.Action, "kind", v.kind, "id", v.id,
			"access_type", msg.Access, "grantee", msg.Grantee, "error", msg.Err,
		)
		who := "the user"
		if msg.IsGroup {
			who = "the group"
		}
		if msg.Action == history.ActionRevoke {
			v.showToast("Could not remove permission from "+who, true)
		} else {
			v.showToast("Could not grant permission to "+who, true)
		}
		return nil
	}

	v.snap = msg.Snap
	v.lastUpdate = time.Now()
	v.clampSelection()
	if msg.LoadErr != nil {
		// The change applied but the reload did not; one notification, same
		// wording as the direct load path.
		v.showToast("Could not load permissions", true)
		return nil
	}
	if msg.Action == history.ActionRevoke {
		v.showToast(fmt.Sprintf("Removed %s access for %s", msg.Access, msg.Grantee), false)
	} else {
		v.showToast(fmt.Sprintf("Granted %s access to %s", msg.Access, msg.Grantee), false)
	}
	return nil
}

// openGroupPicker enters the grant-group mode for the active category.
func (v *ShareView) openGroupPicker() tea.Cmd {
	v.groupIdx = 0
	v.mode = ModeGrantGroup
	return nil
}

// availableGroups lists the groups still grantable for this object. A group
// already granted under either category is excluded.
func (v *ShareView) availableGroups() []api.Group {
	return grants.AvailableGroups(v.snap.Groups, v.snap.Grants)
}

// handleGroupKey handles input while the group picker is open.
func (v *ShareView) handleGroupKey(key string) tea.Cmd {
	groups := v.availableGroups()
	switch key {
	case "esc", "q":
		v.mode = ModeNormal
	case "j", "down":
		if v.groupIdx < len(groups)-1 {
			v.groupIdx++
		}
	case "k", "up":
		if v.groupIdx > 0 {
			v.groupIdx--
		}
	case "enter":
		if v.groupIdx >= 0 && v.groupIdx < len(groups) {
			group := groups[v.groupIdx]
			v.mode = ModeNormal
			return v.executeGrantGroup(v.active, group)
		}
	}
	return nil
}

// renderGroupPicker renders the grant-group dialog.
func (v *ShareView) renderGroupPicker() string {
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render(fmt.Sprintf("Grant %s access to a group", v.active)))
	b.WriteString("\n\n")

	groups := v.availableGroups()
	if len(groups) == 0 {
		b.WriteString(styles.MutedStyle.Render("All groups already have access"))
	} else {
		shown := groups
		if len(shown) > 10 {
			shown = shown[:10]
		}
		for i, g := range shown {
			if i == v.groupIdx {
				b.WriteString(styles.AccentStyle.Render("> ") + g.Name)
			} else {
				b.WriteString("  " + g.Name)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n\n")
	b.WriteString(styles.MutedStyle.Render("[j/k] select  [enter] grant  [esc] cancel"))

	dialog := styles.DialogStyle.Render(b.String())
	return lipgloss.Place(v.width, v.height, lipgloss.Center, lipgloss.Center, dialog)
}

// handleRevokeConfirmKey handles the revoke confirmation prompt.
func (v *ShareView) handleRevokeConfirmKey(key string) tea.Cmd {
	switch key {
	case "y", "Y", "enter":
		target := v.revokeTarget
		v.revokeTarget = nil
		v.mode = ModeNormal
		if target != nil {
			return v.executeRevoke(v.active, *target)
		}
	case "n", "N", "esc", "q":
		v.revokeTarget = nil
		v.mode = ModeNormal
	}
	return nil
}

// renderRevokeConfirm renders the revoke confirmation dialog.
func (v *ShareView) renderRevokeConfirm() string {
	name := ""
	if v.revokeTarget != nil {
		name = v.revokeTarget.label()
	}

	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("Remove access"))
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Remove %s access for %s?", v.active, styles.AccentStyle.Render(name)))
	b.WriteString("\n\n")
	b.WriteString(styles.MutedStyle.Render("[y] confirm  [n] cancel"))

	dialog := styles.DialogStyle.Render(b.String())
	return lipgloss.Place(v.width, v.height, lipgloss.Center, lipgloss.Center, dialog)
}
