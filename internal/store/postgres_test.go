package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/trowan/grantly/internal/api"
)

// setupPostgres starts a PostgreSQL container and returns an open store.
func setupPostgres(t *testing.T, ctx context.Context) *PostgresStore {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := "postgres://test:test@" + host + ":" + port.Port() + "/testdb?sslmode=disable"
	st, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

// seedFixtures inserts the shared test dataset.
func seedFixtures(t *testing.T, ctx context.Context, st *PostgresStore) {
	t.Helper()

	stmts := []string{
		`INSERT INTO users (id, name, email) VALUES
			(1, 'Ada', 'ada@example.com'),
			(2, 'Ben', 'ben@example.com'),
			(3, 'Cleo', 'cleo@example.com')`,
		`INSERT INTO groups (id, name) VALUES (1, 'admin'), (2, 'default')`,
		`INSERT INTO objects (object_type, object_id, name, author_id) VALUES
			('queries', 10, 'Daily signups', 1)`,
	}
	for _, stmt := range stmts {
		if _, err := st.Pool().Exec(ctx, stmt); err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}
}

func TestPostgresObject(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedFixtures(t, ctx, st)

	obj, err := st.Object(ctx, KindQuery, 10)
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if obj.Name != "Daily signups" || obj.User.Name != "Ada" {
		t.Errorf("object = %+v", obj)
	}

	if _, err := st.Object(ctx, KindQuery, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing object error = %v, want ErrNotFound", err)
	}
}

func TestPostgresGrantLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedFixtures(t, ctx, st)

	// Grant a user view and a group modify.
	if err := st.Grant(ctx, KindQuery, 10, api.AccessView, Grantee{Kind: GranteeUser, ID: 2}); err != nil {
		t.Fatalf("Grant user: %v", err)
	}
	if err := st.Grant(ctx, KindQuery, 10, api.AccessModify, Grantee{Kind: GranteeGroup, ID: 2}); err != nil {
		t.Fatalf("Grant group: %v", err)
	}

	// Repeating a grant must not duplicate it.
	if err := st.Grant(ctx, KindQuery, 10, api.AccessView, Grantee{Kind: GranteeUser, ID: 2}); err != nil {
		t.Fatalf("Repeat grant: %v", err)
	}

	g, err := st.Grants(ctx, KindQuery, 10)
	if err != nil {
		t.Fatalf("Grants: %v", err)
	}
	if len(g.View.Users) != 1 || g.View.Users[0].Name != "Ben" {
		t.Errorf("view users = %+v, want Ben once", g.View.Users)
	}
	if len(g.Modify.Groups) != 1 || g.Modify.Groups[0].Name != "default" {
		t.Errorf("modify groups = %+v, want default", g.Modify.Groups)
	}

	// Revoke and verify; revoking again stays a no-op.
	if err := st.Revoke(ctx, KindQuery, 10, api.AccessView, Grantee{Kind: GranteeUser, ID: 2}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := st.Revoke(ctx, KindQuery, 10, api.AccessView, Grantee{Kind: GranteeUser, ID: 2}); err != nil {
		t.Fatalf("Repeat revoke: %v", err)
	}
	g, _ = st.Grants(ctx, KindQuery, 10)
	if len(g.View.Users) != 0 {
		t.Errorf("view users after revoke = %+v, want empty", g.View.Users)
	}
}

func TestPostgresGrantUnknownGrantee(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedFixtures(t, ctx, st)

	err := st.Grant(ctx, KindQuery, 10, api.AccessView, Grantee{Kind: GranteeUser, ID: 999})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestPostgresSearchUsers(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedFixtures(t, ctx, st)

	users, err := st.SearchUsers(ctx, "CLE")
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 1 || users[0].Name != "Cleo" {
		t.Errorf("search CLE = %+v, want Cleo (case-insensitive)", users)
	}

	users, err = st.SearchUsers(ctx, "")
	if err != nil {
		t.Fatalf("SearchUsers empty: %v", err)
	}
	if len(users) != 3 {
		t.Errorf("empty term = %+v, want everyone", users)
	}
}

func TestPostgresGroups(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	st := setupPostgres(t, ctx)
	seedFixtures(t, ctx, st)

	groups, err := st.Groups(ctx)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "admin" {
		t.Errorf("groups = %+v, want admin then default", groups)
	}
}
