package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/trowan/grantly/internal/api"
)

// memGrant is one grant row in the in-memory store.
type memGrant struct {
	kind       string
	objectID   int
	accessType api.AccessType
	grantee    Grantee
}

// MemoryStore is an in-memory Store used by grantlyd's demo mode and by
// handler tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[int]api.User
	groups  map[int]api.Group
	objects map[string]api.Object // key: kind/id
	grants  []memGrant
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[int]api.User),
		groups:  make(map[int]api.Group),
		objects: make(map[string]api.Object),
	}
}

// Seed describes demo fixture data loaded from YAML.
type Seed struct {
	Users   []api.User `yaml:"users"`
	Groups  []api.Group `yaml:"groups"`
	Objects []struct {
		Kind     string `yaml:"kind"`
		ID       int    `yaml:"id"`
		Name     string `yaml:"name"`
		AuthorID int    `yaml:"author_id"`
	} `yaml:"objects"`
	Grants []struct {
		Kind       string `yaml:"kind"`
		ObjectID   int    `yaml:"object_id"`
		AccessType string `yaml:"access_type"`
		UserID     *int   `yaml:"user_id"`
		GroupID    *int   `yaml:"group_id"`
	} `yaml:"grants"`
}

// LoadSeed applies a YAML fixture file to the store.
func (s *MemoryStore) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	return s.ApplySeed(seed)
}

// ApplySeed loads fixture data into the store.
func (s *MemoryStore) ApplySeed(seed Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range seed.Users {
		s.users[u.ID] = u
	}
	for _, g := range seed.Groups {
		s.groups[g.ID] = g
	}
	for _, o := range seed.Objects {
		author, ok := s.users[o.AuthorID]
		if !ok {
			return fmt.Errorf("object %s/%d: unknown author %d", o.Kind, o.ID, o.AuthorID)
		}
		s.objects[objectKey(o.Kind, o.ID)] = api.Object{ID: o.ID, Name: o.Name, User: author}
	}
	for _, g := range seed.Grants {
		grantee := Grantee{}
		switch {
		case g.UserID != nil:
			grantee = Grantee{Kind: GranteeUser, ID: *g.UserID}
		case g.GroupID != nil:
			grantee = Grantee{Kind: GranteeGroup, ID: *g.GroupID}
		default:
			return fmt.Errorf("grant on %s/%d: missing user_id or group_id", g.Kind, g.ObjectID)
		}
		s.addGrantLocked(g.Kind, g.ObjectID, api.AccessType(g.AccessType), grantee)
	}
	return nil
}

// AddUser inserts a user into the directory.
func (s *MemoryStore) AddUser(u api.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddGroup inserts a group into the directory.
func (s *MemoryStore) AddGroup(g api.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

// AddObject inserts an object owned by the given author.
func (s *MemoryStore) AddObject(kind string, id int, name string, authorID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectKey(kind, id)] = api.Object{ID: id, Name: name, User: s.users[authorID]}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

// Object returns the object summary.
func (s *MemoryStore) Object(_ context.Context, kind string, id int) (api.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[objectKey(kind, id)]
	if !ok {
		return api.Object{}, ErrNotFound
	}
	return obj, nil
}

// Grants returns all grants on one object.
func (s *MemoryStore) Grants(_ context.Context, kind string, id int) (ObjectGrants, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var grants ObjectGrants
	for _, g := range s.grants {
		if g.kind != kind || g.objectID != id {
			continue
		}
		cat := &grants.View
		if g.accessType == api.AccessModify {
			cat = &grants.Modify
		}
		switch g.grantee.Kind {
		case GranteeUser:
			if u, ok := s.users[g.grantee.ID]; ok {
				cat.Users = append(cat.Users, u)
			}
		case GranteeGroup:
			if grp, ok := s.groups[g.grantee.ID]; ok {
				cat.Groups = append(cat.Groups, grp)
			}
		}
	}
	return grants, nil
}

// Grant records one grant, deduplicating repeats.
func (s *MemoryStore) Grant(_ context.Context, kind string, id int, t api.AccessType, grantee Grantee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch grantee.Kind {
	case GranteeUser:
		if _, ok := s.users[grantee.ID]; !ok {
			return ErrNotFound
		}
	case GranteeGroup:
		if _, ok := s.groups[grantee.ID]; !ok {
			return ErrNotFound
		}
	default:
		return fmt.Errorf("unknown grantee kind %q", grantee.Kind)
	}

	s.addGrantLocked(kind, id, t, grantee)
	return nil
}

// addGrantLocked appends a grant unless the identical grant already exists.
func (s *MemoryStore) addGrantLocked(kind string, id int, t api.AccessType, grantee Grantee) {
	for _, g := range s.grants {
		if g.kind == kind && g.objectID == id && g.accessType == t && g.grantee == grantee {
			return
		}
	}
	s.grants = append(s.grants, memGrant{kind: kind, objectID: id, accessType: t, grantee: grantee})
}

// Revoke removes one grant; missing grants are a no-op.
func (s *MemoryStore) Revoke(_ context.Context, kind string, id int, t api.AccessType, grantee Grantee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.grants[:0]
	for _, g := range s.grants {
		if g.kind == kind && g.objectID == id && g.accessType == t && g.grantee == grantee {
			continue
		}
		kept = append(kept, g)
	}
	s.grants = kept
	return nil
}

// Groups returns the group directory sorted by name.
func (s *MemoryStore) Groups(_ context.Context) ([]api.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]api.Group, 0, len(s.groups))
	for _, g := range s.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// SearchUsers matches users by name or email, case-insensitively.
func (s *MemoryStore) SearchUsers(_ context.Context, term string) ([]api.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(term)
	var users []api.User
	for _, u := range s.users {
		if term == "" ||
			strings.Contains(strings.ToLower(u.Name), lower) ||
			strings.Contains(strings.ToLower(u.Email), lower) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	if len(users) > searchLimit {
		users = users[:searchLimit]
	}
	return users, nil
}

func objectKey(kind string, id int) string {
	return fmt.Sprintf("%s/%d", kind, id)
}
