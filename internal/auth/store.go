package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/discosat/satop-platform/internal/apierror"
)

// Store is the persistence collaborator behind entities, role->scope
// associations, and authentication identifiers (spec.md §4.C, §6
// "database/authorization.db"). The core only depends on this interface;
// SQLiteStore is the bundled default implementation.
type Store interface {
	CreateEntity(ctx context.Context, e Entity) error
	GetEntity(ctx context.Context, id string) (Entity, error)
	ListEntities(ctx context.Context) ([]Entity, error)
	UpdateEntity(ctx context.Context, e Entity) error
	DeleteEntity(ctx context.Context, id string) error

	SetRoleScopes(ctx context.Context, role string, scopes []Scope) error
	ScopesForRoles(ctx context.Context, roles []string) ([]Scope, error)

	UpsertIdentifier(ctx context.Context, id AuthenticationIdentifier) error
	ResolveIdentifier(ctx context.Context, providerKey, identity string) (string, error)
}

// SQLiteStore implements Store over database/sql + mattn/go-sqlite3, the
// "embedded relational store" collaborator named in spec.md §1.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if absent) the authorization database at
// path and ensures its schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, apierror.Internal(err, "opening authorization store")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, apierror.Internal(err, "initializing authorization schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS entity (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_roles (
	entity_id TEXT NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
	role      TEXT NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (entity_id, role)
);

CREATE TABLE IF NOT EXISTS rolescopes (
	role  TEXT NOT NULL,
	scope TEXT NOT NULL,
	PRIMARY KEY (role, scope)
);

CREATE TABLE IF NOT EXISTS authenticationidentifiers (
	provider_key TEXT NOT NULL,
	identity     TEXT NOT NULL,
	entity_id    TEXT NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
	PRIMARY KEY (provider_key, identity)
);
`

func (s *SQLiteStore) CreateEntity(ctx context.Context, e Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO entity (id, name, type) VALUES (?, ?, ?)`, e.ID, e.Name, e.Type); err != nil {
		if isUniqueViolation(err) {
			return apierror.Conflict("entity %s already exists", e.ID)
		}
		return apierror.Internal(err, "insert entity")
	}
	if err := insertRoles(ctx, tx, e.ID, e.Roles); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierror.Internal(err, "commit entity create")
	}
	return nil
}

func insertRoles(ctx context.Context, tx *sql.Tx, entityID string, roles []string) error {
	for i, role := range roles {
		if _, err := tx.ExecContext(ctx, `INSERT INTO entity_roles (entity_id, role, position) VALUES (?, ?, ?)`, entityID, role, i); err != nil {
			return apierror.Internal(err, "insert role")
		}
	}
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (Entity, error) {
	var e Entity
	e.ID = id
	row := s.db.QueryRowContext(ctx, `SELECT name, type FROM entity WHERE id = ?`, id)
	if err := row.Scan(&e.Name, &e.Type); err != nil {
		if err == sql.ErrNoRows {
			return Entity{}, apierror.NotFound("entity %s not found", id)
		}
		return Entity{}, apierror.Internal(err, "get entity")
	}

	roles, err := s.rolesFor(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	e.Roles = roles
	return e, nil
}

func (s *SQLiteStore) rolesFor(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT role FROM entity_roles WHERE entity_id = ? ORDER BY position`, entityID)
	if err != nil {
		return nil, apierror.Internal(err, "list roles")
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, apierror.Internal(err, "scan role")
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type FROM entity`)
	if err != nil {
		return nil, apierror.Internal(err, "list entities")
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type); err != nil {
			return nil, apierror.Internal(err, "scan entity")
		}
		roles, err := s.rolesFor(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		e.Roles = roles
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateEntity(ctx context.Context, e Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE entity SET name = ?, type = ? WHERE id = ?`, e.Name, e.Type, e.ID)
	if err != nil {
		return apierror.Internal(err, "update entity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NotFound("entity %s not found", e.ID)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_roles WHERE entity_id = ?`, e.ID); err != nil {
		return apierror.Internal(err, "clear roles")
	}
	if err := insertRoles(ctx, tx, e.ID, e.Roles); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierror.Internal(err, "commit entity update")
	}
	return nil
}

func (s *SQLiteStore) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entity WHERE id = ?`, id)
	if err != nil {
		return apierror.Internal(err, "delete entity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierror.NotFound("entity %s not found", id)
	}
	return nil
}

// SetRoleScopes re-computes the diff between the role's current scopes and
// `scopes` and applies minimal inserts/deletes (spec.md §4.C).
func (s *SQLiteStore) SetRoleScopes(ctx context.Context, role string, scopes []Scope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apierror.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT scope FROM rolescopes WHERE role = ?`, role)
	if err != nil {
		return apierror.Internal(err, "list role scopes")
	}
	current := make(map[Scope]bool)
	for rows.Next() {
		var sc string
		if err := rows.Scan(&sc); err != nil {
			rows.Close()
			return apierror.Internal(err, "scan role scope")
		}
		current[Scope(sc)] = true
	}
	rows.Close()

	wanted := make(map[Scope]bool, len(scopes))
	for _, sc := range scopes {
		wanted[sc] = true
	}

	for sc := range wanted {
		if !current[sc] {
			if _, err := tx.ExecContext(ctx, `INSERT INTO rolescopes (role, scope) VALUES (?, ?)`, role, string(sc)); err != nil {
				return apierror.Internal(err, "insert role scope")
			}
		}
	}
	for sc := range current {
		if !wanted[sc] {
			if _, err := tx.ExecContext(ctx, `DELETE FROM rolescopes WHERE role = ? AND scope = ?`, role, string(sc)); err != nil {
				return apierror.Internal(err, "delete role scope")
			}
		}
	}

	return tx.Commit()
}

// ScopesForRoles joins roles to the role->scope table, returning the union
// of scopes across all given roles (spec.md §4.C get_entity_scopes).
func (s *SQLiteStore) ScopesForRoles(ctx context.Context, roles []string) ([]Scope, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, r := range roles {
		placeholders[i] = "?"
		args[i] = r
	}
	query := fmt.Sprintf(`SELECT DISTINCT scope FROM rolescopes WHERE role IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.Internal(err, "scopes for roles")
	}
	defer rows.Close()

	var out []Scope
	for rows.Next() {
		var sc string
		if err := rows.Scan(&sc); err != nil {
			return nil, apierror.Internal(err, "scan scope")
		}
		out = append(out, Scope(sc))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertIdentifier(ctx context.Context, id AuthenticationIdentifier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO authenticationidentifiers (provider_key, identity, entity_id) VALUES (?, ?, ?)
		ON CONFLICT (provider_key, identity) DO UPDATE SET entity_id = excluded.entity_id
	`, id.ProviderKey, id.Identity, id.EntityID)
	if err != nil {
		return apierror.Internal(err, "upsert authentication identifier")
	}
	return nil
}

func (s *SQLiteStore) ResolveIdentifier(ctx context.Context, providerKey, identity string) (string, error) {
	var entityID string
	row := s.db.QueryRowContext(ctx, `SELECT entity_id FROM authenticationidentifiers WHERE provider_key = ? AND identity = ?`, providerKey, identity)
	if err := row.Scan(&entityID); err != nil {
		if err == sql.ErrNoRows {
			return "", apierror.NotFound("no entity for provider %s identity %s", providerKey, identity)
		}
		return "", apierror.Internal(err, "resolve authentication identifier")
	}
	return entityID, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
