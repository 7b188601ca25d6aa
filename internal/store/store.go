// Package store defines the persistence layer behind the grantly API server.
package store

import (
	"context"
	"errors"

	"github.com/trowan/grantly/internal/api"
)

// ErrNotFound is returned when an object, user, or group does not exist.
var ErrNotFound = errors.New("not found")

// Object kinds accepted by the permissions API.
const (
	KindQuery     = "queries"
	KindDashboard = "dashboards"
)

// ValidKind reports whether kind names a permission-bearing object type.
func ValidKind(kind string) bool {
	return kind == KindQuery || kind == KindDashboard
}

// GranteeKind distinguishes user grants from group grants.
type GranteeKind string

const (
	GranteeUser  GranteeKind = "user"
	GranteeGroup GranteeKind = "group"
)

// Grantee identifies the receiving side of a grant.
type Grantee struct {
	Kind GranteeKind
	ID   int
}

// CategoryGrants holds the grantees of one access category.
type CategoryGrants struct {
	Users  []api.User
	Groups []api.Group
}

// ObjectGrants holds every grant on one object, keyed by access type.
type ObjectGrants struct {
	View   CategoryGrants
	Modify CategoryGrants
}

// Category returns the grants for one access type.
func (g ObjectGrants) Category(t api.AccessType) CategoryGrants {
	if t == api.AccessModify {
		return g.Modify
	}
	return g.View
}

// Store is the persistence interface the HTTP handlers run against.
type Store interface {
	// Object returns the object summary, including its author.
	Object(ctx context.Context, kind string, id int) (api.Object, error)

	// Grants returns all grants on one object. Objects with no grants
	// yield empty categories, not an error.
	Grants(ctx context.Context, kind string, id int) (ObjectGrants, error)

	// Grant records one grant. Granting an already-granted pair is a
	// no-op; the store deduplicates.
	Grant(ctx context.Context, kind string, id int, t api.AccessType, grantee Grantee) error

	// Revoke removes one grant. Revoking a non-existent grant is a no-op.
	Revoke(ctx context.Context, kind string, id int, t api.AccessType, grantee Grantee) error

	// Groups returns the complete group directory.
	Groups(ctx context.Context) ([]api.Group, error)

	// SearchUsers returns users matching the free-text term by name or
	// email. An empty term matches everyone, bounded by the store's limit.
	SearchUsers(ctx context.Context, term string) ([]api.User, error)

	// Close releases the store's resources.
	Close()
}
