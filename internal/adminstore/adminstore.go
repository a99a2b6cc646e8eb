// SPDX-License-Identifier: Apache-2.0

// Package adminstore is the minimal concrete admin persistence this core
// ships so the serve command (cmd/serve.go) can run end to end without a real external admin
// surface attached. Per spec.md §1 the admin HTTP surface, its JWT/
// password-hashing workflow and its full persistence schema are external
// collaborators; this package is deliberately small — users, datasources,
// and the assignment allowlist only — following the same fixed-DDL,
// plain-SQL-over-*sql.DB shape as internal/catalogstore.
package adminstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
	"github.com/pgfedproxy/pgfedproxy/internal/crypto"
	"github.com/pgfedproxy/pgfedproxy/internal/discovery"
	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
	"github.com/pgfedproxy/pgfedproxy/internal/upstream"
)

var sqlInit = `
CREATE SCHEMA IF NOT EXISTS pgfedproxy;

CREATE TABLE IF NOT EXISTS pgfedproxy.users (
	id              UUID PRIMARY KEY,
	username        TEXT NOT NULL UNIQUE,
	tenant          TEXT NOT NULL,
	is_admin        BOOLEAN NOT NULL DEFAULT false,
	is_active       BOOLEAN NOT NULL DEFAULT true,
	password_hash   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pgfedproxy.datasources (
	id                       UUID PRIMARY KEY,
	name                     TEXT NOT NULL UNIQUE,
	type                     TEXT NOT NULL,
	public_config            JSONB NOT NULL DEFAULT '{}',
	secret_config_ciphertext BYTEA NOT NULL,
	is_active                BOOLEAN NOT NULL DEFAULT true
);

CREATE TABLE IF NOT EXISTS pgfedproxy.datasource_assignments (
	user_id        UUID NOT NULL REFERENCES pgfedproxy.users(id) ON DELETE CASCADE,
	datasource_id  UUID NOT NULL REFERENCES pgfedproxy.datasources(id) ON DELETE CASCADE,
	PRIMARY KEY (user_id, datasource_id)
);
`

// Store is the admin database: users, datasources, and the allowlist
// binding them, sitting alongside catalogstore.Store in the same database.
type Store struct {
	db       *sql.DB
	envelope *crypto.Envelope
}

// New wraps an already-open admin database handle. envelope decrypts each
// datasource's secret connection parameters on read.
func New(db *sql.DB, envelope *crypto.Envelope) *Store {
	return &Store{db: db, envelope: envelope}
}

// Init creates the admin schema and tables if absent.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlInit); err != nil {
		return fmt.Errorf("adminstore: initializing schema: %w", err)
	}
	return nil
}

// UserByUsername implements wire.UserStore.
func (s *Store) UserByUsername(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, tenant, is_admin, is_active, password_hash
		FROM pgfedproxy.users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Tenant, &u.IsAdmin, &u.IsActive, &u.PasswordHash)
	if err != nil {
		return model.User{}, fmt.Errorf("adminstore: looking up user %q: %w", username, err)
	}
	return u, nil
}

// DataSourceByName implements accessguard.Store.
func (s *Store) DataSourceByName(ctx context.Context, name string) (model.DataSource, error) {
	return s.loadDataSource(ctx, "name = $1", name)
}

// DataSourceByID loads a datasource by its primary key.
func (s *Store) DataSourceByID(ctx context.Context, id uuid.UUID) (model.DataSource, error) {
	return s.loadDataSource(ctx, "id = $1", id)
}

func (s *Store) loadDataSource(ctx context.Context, predicate string, arg any) (model.DataSource, error) {
	var (
		ds         model.DataSource
		dsType     string
		ciphertext []byte
	)
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, name, type, secret_config_ciphertext, is_active
		FROM pgfedproxy.datasources WHERE %s`, predicate), arg,
	).Scan(&ds.ID, &ds.Name, &dsType, &ciphertext, &ds.IsActive)
	if err != nil {
		return model.DataSource{}, fmt.Errorf("adminstore: loading datasource: %w", err)
	}
	ds.Type = model.DataSourceType(dsType)
	ds.SecretConfigCiphertext = ciphertext
	return ds, nil
}

// EnsureAdminUser provisions the first admin user on a fresh admin database.
// It is a no-op if username already exists, so it is safe to call on every
// startup rather than only once.
func (s *Store) EnsureAdminUser(ctx context.Context, username, passwordHash string) error {
	id, err := model.NewUserID()
	if err != nil {
		return fmt.Errorf("adminstore: generating initial admin id: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pgfedproxy.users (id, username, tenant, is_admin, is_active, password_hash)
		VALUES ($1, $2, '', true, true, $3)
		ON CONFLICT (username) DO NOTHING`, id, username, passwordHash)
	if err != nil {
		return fmt.Errorf("adminstore: provisioning initial admin user %q: %w", username, err)
	}
	return nil
}

// AssignmentExists implements accessguard.Store.
func (s *Store) AssignmentExists(ctx context.Context, userID, dataSourceID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM pgfedproxy.datasource_assignments
			WHERE user_id = $1 AND datasource_id = $2
		)`, userID, dataSourceID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("adminstore: checking assignment: %w", err)
	}
	return exists, nil
}

// LoadPoolParams implements enginecache.CatalogLoader.
func (s *Store) LoadPoolParams(ctx context.Context, dataSourceName string) (upstream.Params, error) {
	ds, err := s.DataSourceByName(ctx, dataSourceName)
	if err != nil {
		return upstream.Params{}, err
	}
	plaintext, err := s.envelope.Open(ds.SecretConfigCiphertext)
	if err != nil {
		return upstream.Params{}, fmt.Errorf("adminstore: decrypting secret config for %q: %w", dataSourceName, err)
	}
	return upstream.Params{DSN: string(plaintext)}, nil
}

// CatalogStore is the subset of catalogstore.Store LoadTables needs, kept
// as an interface so this package never imports catalogstore directly
// (catalogstore has no reason to know about datasources-by-name).
type CatalogStore interface {
	Load(ctx context.Context, dataSourceID uuid.UUID) (model.Catalog, error)
}

// TableLoader adapts a CatalogStore and a Store into
// enginecache.CatalogLoader, translating the persisted catalog's selected
// tables into engine.Table values with their persisted Arrow schema.
type TableLoader struct {
	Admin   *Store
	Catalog CatalogStore
}

// LoadPoolParams implements enginecache.CatalogLoader by delegating to the
// admin store; TableLoader is the single type the engine cache holds, so
// it must satisfy both of CatalogLoader's methods itself.
func (l *TableLoader) LoadPoolParams(ctx context.Context, dataSourceName string) (upstream.Params, error) {
	return l.Admin.LoadPoolParams(ctx, dataSourceName)
}

// LoadTables implements enginecache.CatalogLoader.
func (l *TableLoader) LoadTables(ctx context.Context, dataSourceName string) ([]engine.Table, error) {
	ds, err := l.Admin.DataSourceByName(ctx, dataSourceName)
	if err != nil {
		return nil, err
	}
	cat, err := l.Catalog.Load(ctx, ds.ID)
	if err != nil {
		return nil, err
	}

	var tables []engine.Table
	for _, t := range cat.SelectedTables() {
		var cols []engine.Column
		for _, c := range t.Columns {
			if c.ArrowType == nil {
				// Unrepresentable columns are persisted but excluded from
				// the engine's schema, per invariant 2.
				continue
			}
			dt, err := codec.ParseArrowType(*c.ArrowType)
			if err != nil {
				return nil, err
			}
			cols = append(cols, engine.Column{Name: c.ColumnName, ArrowType: dt})
		}
		schemaName := schemaNameFor(cat, t)
		tables = append(tables, engine.Table{
			Schema:  schemaName,
			Name:    t.Table.TableName,
			Type:    t.Table.TableType,
			Columns: cols,
		})
	}
	return tables, nil
}

func schemaNameFor(cat model.Catalog, target model.CatalogTable) string {
	for _, sc := range cat.Schemas {
		for _, t := range sc.Tables {
			if t.Table.ID == target.Table.ID {
				return sc.Schema.SchemaName
			}
		}
	}
	return ""
}

// DiscoverySource adapts Store into jobs.DiscoverySource, dialing the
// upstream fresh for each discovery job (jobs are infrequent, interactive
// admin operations, so a short-lived connection is acceptable; real query
// traffic always goes through the long-lived internal/upstream.Pool).
type DiscoverySource struct {
	Admin *Store
}

// NameFor implements jobs.DiscoverySource.
func (d *DiscoverySource) NameFor(dataSourceID uuid.UUID) (string, error) {
	ds, err := d.Admin.DataSourceByID(context.Background(), dataSourceID)
	if err != nil {
		return "", err
	}
	return ds.Name, nil
}

// ProviderFor implements jobs.DiscoverySource. Discovery gets its own pool,
// separate from the long-lived one internal/enginecache hands out for real
// query traffic: a job for a not-yet-catalogued datasource must be able to
// dial before any engine context (and thus any shared pool) exists for it.
func (d *DiscoverySource) ProviderFor(ctx context.Context, dataSourceID uuid.UUID) (*discovery.Provider, error) {
	ds, err := d.Admin.DataSourceByID(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	plaintext, err := d.Admin.envelope.Open(ds.SecretConfigCiphertext)
	if err != nil {
		return nil, fmt.Errorf("adminstore: decrypting secret config for %q: %w", ds.Name, err)
	}

	pool := upstream.New(upstream.Params{DSN: string(plaintext)})
	db, err := pool.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("adminstore: dialing upstream for %q: %w", ds.Name, err)
	}
	return discovery.New(db, engine.NewSchemaResolver(pool)), nil
}
