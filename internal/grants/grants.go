// Package grants holds the grant reconciliation model: normalizing permission
// payloads into a canonical grant set and deriving which users and groups may
// still be offered a grant.
package grants

import (
	"bytes"
	"encoding/json"

	"github.com/trowan/grantly/internal/api"
)

// AccessList holds the grantees of one access category.
type AccessList struct {
	Users  []api.User
	Groups []api.Group
}

// GrantSet is the in-memory snapshot of all grants on one object, keyed by
// access type. It is replaced wholesale on every reload, never patched.
type GrantSet struct {
	View   AccessList
	Modify AccessList
}

// List returns the access list for the given category. Unknown access types
// yield an empty list.
func (g GrantSet) List(t api.AccessType) AccessList {
	switch t {
	case api.AccessView:
		return g.View
	case api.AccessModify:
		return g.Modify
	default:
		return AccessList{}
	}
}

// rawAccessList matches the current wire shape for one category.
type rawAccessList struct {
	Users  json.RawMessage `json:"users"`
	Groups json.RawMessage `json:"groups"`
}

// Normalize converts a raw permission payload into a GrantSet. Two wire
// shapes are accepted:
//
//	legacy:  {"view": [User...], "modify": [User...]}
//	current: {"view": {"users": [...], "groups": [...]}, "modify": {...}}
//
// Anything absent or malformed (nil payload, null, non-object, missing keys,
// wrong field types) maps to empty lists. Normalize never fails; the empty
// GrantSet is the deterministic fallback.
func Normalize(raw []byte) GrantSet {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &payload); err != nil || payload == nil {
		return GrantSet{}
	}
	return GrantSet{
		View:   normalizeList(payload[string(api.AccessView)]),
		Modify: normalizeList(payload[string(api.AccessModify)]),
	}
}

// normalizeList converts one category value. A JSON array is the legacy
// users-only form; an object carries users and groups; everything else is
// empty.
func normalizeList(raw json.RawMessage) AccessList {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return AccessList{}
	}

	if trimmed[0] == '[' {
		var users []api.User
		if err := json.Unmarshal(trimmed, &users); err != nil {
			return AccessList{}
		}
		return AccessList{Users: users}
	}

	var rl rawAccessList
	if err := json.Unmarshal(trimmed, &rl); err != nil {
		return AccessList{}
	}

	var list AccessList
	// Field-level decode failures degrade to empty, not to a dropped list.
	if err := json.Unmarshal(bytes.TrimSpace(rl.Users), &list.Users); err != nil {
		list.Users = nil
	}
	if err := json.Unmarshal(bytes.TrimSpace(rl.Groups), &list.Groups); err != nil {
		list.Groups = nil
	}
	return list
}

// UserHasPermission reports whether the user already holds the given access
// on the object. The author implicitly holds both access types regardless of
// explicit grants.
func UserHasPermission(user api.User, t api.AccessType, authorID int, g GrantSet) bool {
	if user.ID == authorID {
		return true
	}
	for _, u := range g.List(t).Users {
		if u.ID == user.ID {
			return true
		}
	}
	return false
}

// FilterGrantableUsers returns the users from candidates that may still be
// offered a grant for the given category: everyone except the author and
// those already granted that access type.
func FilterGrantableUsers(candidates []api.User, t api.AccessType, authorID int, g GrantSet) []api.User {
	var out []api.User
	for _, u := range candidates {
		if !UserHasPermission(u, t, authorID, g) {
			out = append(out, u)
		}
	}
	return out
}

// AvailableGroups returns the group directory minus every group already
// holding a grant in either category. A group involved under view is not
// offered for modify either; the exclusion is intentionally cross-category.
func AvailableGroups(all []api.Group, g GrantSet) []api.Group {
	granted := make(map[int]bool, len(g.View.Groups)+len(g.Modify.Groups))
	for _, grp := range g.View.Groups {
		granted[grp.ID] = true
	}
	for _, grp := range g.Modify.Groups {
		granted[grp.ID] = true
	}

	var out []api.Group
	for _, grp := range all {
		if !granted[grp.ID] {
			out = append(out, grp)
		}
	}
	return out
}
