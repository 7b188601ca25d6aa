package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trowan/grantly/internal/api"
)

// searchLimit bounds user directory search results.
const searchLimit = 25

// schema creates the permission tables. Unique indexes give server-side
// grant deduplication; the client relies on it.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         SERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    email      TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS groups (
    id         SERIAL PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS objects (
    object_type TEXT NOT NULL,
    object_id   INTEGER NOT NULL,
    name        TEXT NOT NULL,
    author_id   INTEGER NOT NULL REFERENCES users(id),
    PRIMARY KEY (object_type, object_id)
);

CREATE TABLE IF NOT EXISTS access_permissions (
    id          BIGSERIAL PRIMARY KEY,
    object_type TEXT NOT NULL,
    object_id   INTEGER NOT NULL,
    access_type TEXT NOT NULL,
    grantee_id  INTEGER NOT NULL REFERENCES users(id),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (object_type, object_id, access_type, grantee_id)
);

CREATE TABLE IF NOT EXISTS group_object_permissions (
    id          BIGSERIAL PRIMARY KEY,
    object_type TEXT NOT NULL,
    object_id   INTEGER NOT NULL,
    access_type TEXT NOT NULL,
    group_id    INTEGER NOT NULL REFERENCES groups(id),
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (object_type, object_id, access_type, group_id)
);
`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for seeding in tests.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Object returns the object summary with its author joined in.
func (s *PostgresStore) Object(ctx context.Context, kind string, id int) (api.Object, error) {
	query := `
SELECT o.object_id, o.name, u.id, u.name, u.email
FROM objects o
JOIN users u ON u.id = o.author_id
WHERE o.object_type = $1 AND o.object_id = $2`

	var obj api.Object
	err := s.pool.QueryRow(ctx, query, kind, id).Scan(
		&obj.ID, &obj.Name, &obj.User.ID, &obj.User.Name, &obj.User.Email,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return api.Object{}, ErrNotFound
	}
	if err != nil {
		return api.Object{}, fmt.Errorf("query object: %w", err)
	}
	return obj, nil
}

// Grants returns every user and group grant on the object, grouped by
// access type.
func (s *PostgresStore) Grants(ctx context.Context, kind string, id int) (ObjectGrants, error) {
	var grants ObjectGrants

	userQuery := `
SELECT p.access_type, u.id, u.name, u.email
FROM access_permissions p
JOIN users u ON u.id = p.grantee_id
WHERE p.object_type = $1 AND p.object_id = $2
ORDER BY p.id`

	rows, err := s.pool.Query(ctx, userQuery, kind, id)
	if err != nil {
		return grants, fmt.Errorf("query user grants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accessType string
		var u api.User
		if err := rows.Scan(&accessType, &u.ID, &u.Name, &u.Email); err != nil {
			return grants, fmt.Errorf("scan user grant: %w", err)
		}
		switch api.AccessType(accessType) {
		case api.AccessView:
			grants.View.Users = append(grants.View.Users, u)
		case api.AccessModify:
			grants.Modify.Users = append(grants.Modify.Users, u)
		}
	}
	if err := rows.Err(); err != nil {
		return grants, fmt.Errorf("iterate user grants: %w", err)
	}

	groupQuery := `
SELECT p.access_type, g.id, g.name
FROM group_object_permissions p
JOIN groups g ON g.id = p.group_id
WHERE p.object_type = $1 AND p.object_id = $2
ORDER BY p.id`

	groupRows, err := s.pool.Query(ctx, groupQuery, kind, id)
	if err != nil {
		return grants, fmt.Errorf("query group grants: %w", err)
	}
	defer groupRows.Close()

	for groupRows.Next() {
		var accessType string
		var g api.Group
		if err := groupRows.Scan(&accessType, &g.ID, &g.Name); err != nil {
			return grants, fmt.Errorf("scan group grant: %w", err)
		}
		switch api.AccessType(accessType) {
		case api.AccessView:
			grants.View.Groups = append(grants.View.Groups, g)
		case api.AccessModify:
			grants.Modify.Groups = append(grants.Modify.Groups, g)
		}
	}
	if err := groupRows.Err(); err != nil {
		return grants, fmt.Errorf("iterate group grants: %w", err)
	}

	return grants, nil
}

// Grant records one grant, deduplicating on conflict.
func (s *PostgresStore) Grant(ctx context.Context, kind string, id int, t api.AccessType, grantee Grantee) error {
	if err := s.checkGrantee(ctx, grantee); err != nil {
		return err
	}

	var query string
	switch grantee.Kind {
	case GranteeUser:
		query = `
INSERT INTO access_permissions (object_type, object_id, access_type, grantee_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`
	case GranteeGroup:
		query = `
INSERT INTO group_object_permissions (object_type, object_id, access_type, group_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`
	default:
		return fmt.Errorf("unknown grantee kind %q", grantee.Kind)
	}

	if _, err := s.pool.Exec(ctx, query, kind, id, string(t), grantee.ID); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// Revoke removes one grant; missing grants are a no-op.
func (s *PostgresStore) Revoke(ctx context.Context, kind string, id int, t api.AccessType, grantee Grantee) error {
	var query string
	switch grantee.Kind {
	case GranteeUser:
		query = `
DELETE FROM access_permissions
WHERE object_type = $1 AND object_id = $2 AND access_type = $3 AND grantee_id = $4`
	case GranteeGroup:
		query = `
DELETE FROM group_object_permissions
WHERE object_type = $1 AND object_id = $2 AND access_type = $3 AND group_id = $4`
	default:
		return fmt.Errorf("unknown grantee kind %q", grantee.Kind)
	}

	if _, err := s.pool.Exec(ctx, query, kind, id, string(t), grantee.ID); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// Groups returns the full group directory.
func (s *PostgresStore) Groups(ctx context.Context) ([]api.Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []api.Group
	for rows.Next() {
		var g api.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SearchUsers matches users by name or email, case-insensitively.
func (s *PostgresStore) SearchUsers(ctx context.Context, term string) ([]api.User, error) {
	query := `
SELECT id, name, email
FROM users
WHERE name ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%'
ORDER BY name
LIMIT $2`

	rows, err := s.pool.Query(ctx, query, term, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []api.User
	for rows.Next() {
		var u api.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// checkGrantee verifies the user or group exists so a bad id becomes a
// client error instead of a foreign key violation.
func (s *PostgresStore) checkGrantee(ctx context.Context, grantee Grantee) error {
	var query string
	switch grantee.Kind {
	case GranteeUser:
		query = `SELECT 1 FROM users WHERE id = $1`
	case GranteeGroup:
		query = `SELECT 1 FROM groups WHERE id = $1`
	default:
		return fmt.Errorf("unknown grantee kind %q", grantee.Kind)
	}

	var one int
	err := s.pool.QueryRow(ctx, query, grantee.ID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check grantee: %w", err)
	}
	return nil
}
