// Package api provides the HTTP client for the grantly permissions API.
package api

// AccessType identifies one of the two grant categories on an object.
type AccessType string

const (
	// AccessView grants visibility; an object with any view grant is
	// restricted to its grantees and admins.
	AccessView AccessType = "view"

	// AccessModify grants edit rights.
	AccessModify AccessType = "modify"
)

// Valid reports whether t is a known access type.
func (t AccessType) Valid() bool {
	return t == AccessView || t == AccessModify
}

// AccessTypes returns both access categories in display order.
func AccessTypes() []AccessType {
	return []AccessType{AccessView, AccessModify}
}

// User is the minimal user projection used for display and selection.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Group is a user group that can hold grants.
type Group struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Object is the summary of the query or dashboard whose grants are edited.
// User is the object's author.
type Object struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	User User   `json:"user"`
}

// GrantRequest is the body of permission create and delete calls. Exactly
// one of UserID and GroupID is set.
type GrantRequest struct {
	AccessType AccessType `json:"access_type"`
	UserID     *int       `json:"user_id,omitempty"`
	GroupID    *int       `json:"group_id,omitempty"`
}
