package grants

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/trowan/grantly/internal/api"
	"github.com/trowan/grantly/internal/logger"
)

// ErrReloadFailed wraps a reload failure that followed a successful mutation.
// The mutation itself was applied; callers check with errors.Is to report the
// two outcomes separately.
var ErrReloadFailed = errors.New("reload after mutation failed")

// Service is the slice of the permissions API the reconciler consumes.
// *api.Client satisfies it.
type Service interface {
	Permissions(ctx context.Context, kind string, id int) ([]byte, error)
	Grant(ctx context.Context, kind string, id int, req api.GrantRequest) error
	Revoke(ctx context.Context, kind string, id int, req api.GrantRequest) error
	Groups(ctx context.Context) ([]api.Group, error)
}

// Snapshot is the result of one full load: the normalized grant set plus the
// group directory. It is always usable, even when the load partially failed.
type Snapshot struct {
	Grants GrantSet
	Groups []api.Group
}

// Reconciler owns the grant set for one object. Every mutation is followed by
// a full reload; displayed state always reflects the last successful load,
// never an optimistic local patch.
type Reconciler struct {
	svc  Service
	kind string
	id   int
}

// NewReconciler binds a reconciler to one object on the given service.
func NewReconciler(svc Service, kind string, id int) *Reconciler {
	return &Reconciler{svc: svc, kind: kind, id: id}
}

// LoadAll fetches the permission payload and the group directory
// concurrently and joins on both. Either fetch failing degrades to empty
// data rather than aborting; the returned error is non-nil when anything
// failed so the caller can surface a single notification.
func (r *Reconciler) LoadAll(ctx context.Context) (Snapshot, error) {
	var (
		wg       sync.WaitGroup
		raw      []byte
		permErr  error
		groups   []api.Group
		groupErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		raw, permErr = r.svc.Permissions(ctx, r.kind, r.id)
	}()
	go func() {
		defer wg.Done()
		groups, groupErr = r.svc.Groups(ctx)
	}()
	wg.Wait()

	snap := Snapshot{Groups: groups}
	if permErr != nil {
		logger.Warn("permissions fetch failed", "kind", r.kind, "id", r.id, "error", permErr)
		raw = nil // Normalize(nil) is the empty grant set
	}
	snap.Grants = Normalize(raw)

	if groupErr != nil {
		logger.Warn("group directory fetch failed", "error", groupErr)
		snap.Groups = nil
	}

	if permErr != nil || groupErr != nil {
		return snap, fmt.Errorf("load permissions: fetch failed")
	}
	return snap, nil
}

// GrantUser grants one access type to a user, then reloads. On mutation
// failure the error is returned and no reload happens. When the mutation
// succeeded but the reload did not, the returned error wraps ErrReloadFailed
// and the snapshot carries the fail-soft data.
func (r *Reconciler) GrantUser(ctx context.Context, t api.AccessType, userID int) (Snapshot, error) {
	return r.mutate(ctx, r.svc.Grant, t, &userID, nil)
}

// GrantGroup grants one access type to a group, then reloads.
func (r *Reconciler) GrantGroup(ctx context.Context, t api.AccessType, groupID int) (Snapshot, error) {
	return r.mutate(ctx, r.svc.Grant, t, nil, &groupID)
}

// RevokeUser removes a user's grant for one access type, then reloads.
func (r *Reconciler) RevokeUser(ctx context.Context, t api.AccessType, userID int) (Snapshot, error) {
	return r.mutate(ctx, r.svc.Revoke, t, &userID, nil)
}

// RevokeGroup removes a group's grant for one access type, then reloads.
func (r *Reconciler) RevokeGroup(ctx context.Context, t api.AccessType, groupID int) (Snapshot, error) {
	return r.mutate(ctx, r.svc.Revoke, t, nil, &groupID)
}

type mutateFunc func(ctx context.Context, kind string, id int, req api.GrantRequest) error

func (r *Reconciler) mutate(ctx context.Context, op mutateFunc, t api.AccessType, userID, groupID *int) (Snapshot, error) {
	req := api.GrantRequest{AccessType: t, UserID: userID, GroupID: groupID}
	if err := op(ctx, r.kind, r.id, req); err != nil {
		return Snapshot{}, err
	}
	// Unconditional full reload; correctness over latency. A reload failure
	// here still carries the freshest data the server would give us, but it
	// must surface so the caller can raise its one load notification.
	snap, err := r.LoadAll(ctx)
	if err != nil {
		logger.Warn("reload after mutation failed", "kind", r.kind, "id", r.id, "error", err)
		return snap, fmt.Errorf("%w: %v", ErrReloadFailed, err)
	}
	return snap, nil
}
