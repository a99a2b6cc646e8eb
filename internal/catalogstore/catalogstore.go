// SPDX-License-Identifier: Apache-2.0

// Package catalogstore persists the allowlisted catalog (schemas, tables,
// columns) for every datasource in the admin database, and computes drift
// against a fresh discovery. It follows the same shape as pgroll's own
// admin-schema state store: a fixed DDL block run once at Init, plain SQL
// reads/writes over *sql.DB, transactional multi-row upserts.
package catalogstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// SchemaFormatVersion is the catalog schema's own format version, bumped
// whenever the persisted column set changes shape. It is checked the way
// pgroll's pkg/state.VersionCompatibility checks its own schema version,
// guarding against a proxy binary older than the catalog it is reading.
const SchemaFormatVersion = "v1.0.0"

var sqlInit = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.discovered_schemas (
	id               UUID PRIMARY KEY,
	data_source_id   UUID NOT NULL,
	schema_name      TEXT NOT NULL,
	is_selected      BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (data_source_id, schema_name)
);

CREATE TABLE IF NOT EXISTS %[1]s.discovered_tables (
	id                     UUID PRIMARY KEY,
	discovered_schema_id   UUID NOT NULL REFERENCES %[1]s.discovered_schemas(id) ON DELETE CASCADE,
	table_name             TEXT NOT NULL,
	table_type             TEXT NOT NULL,
	is_selected            BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (discovered_schema_id, table_name)
);

CREATE TABLE IF NOT EXISTS %[1]s.discovered_columns (
	id                    UUID PRIMARY KEY,
	discovered_table_id   UUID NOT NULL REFERENCES %[1]s.discovered_tables(id) ON DELETE CASCADE,
	column_name           TEXT NOT NULL,
	ordinal_position      INT NOT NULL,
	data_type             TEXT NOT NULL,
	is_nullable           BOOLEAN NOT NULL,
	column_default        TEXT,
	arrow_type            TEXT,
	UNIQUE (discovered_table_id, column_name)
);
`

// Store persists catalog entities in the admin database.
type Store struct {
	db *sql.DB
}

// New wraps an already-open admin database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the catalog schema and tables if absent.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqlInit, "pgfedproxy"))
	if err != nil {
		return fmt.Errorf("catalogstore: initializing schema: %w", err)
	}
	return nil
}

// CheckFormatVersion compares a caller-supplied storedVersion (Init does
// not record one) against SchemaFormatVersion the way pgroll's state package compares
// binary and schema versions, refusing to operate against a newer-shaped
// catalog than this binary understands.
func CheckFormatVersion(storedVersion string) error {
	if storedVersion == "" {
		return nil
	}
	if semver.Compare(storedVersion, SchemaFormatVersion) > 0 {
		return fmt.Errorf("catalogstore: stored catalog format %s is newer than this binary supports (%s)", storedVersion, SchemaFormatVersion)
	}
	return nil
}

// Load reads the full persisted catalog for a datasource.
func (s *Store) Load(ctx context.Context, dataSourceID uuid.UUID) (model.Catalog, error) {
	cat := model.Catalog{DataSourceID: dataSourceID}

	schemaRows, err := s.db.QueryContext(ctx, `
		SELECT id, schema_name, is_selected
		FROM pgfedproxy.discovered_schemas
		WHERE data_source_id = $1
		ORDER BY schema_name`, dataSourceID)
	if err != nil {
		return cat, fmt.Errorf("catalogstore: loading schemas: %w", err)
	}
	defer schemaRows.Close()

	var schemas []model.DiscoveredSchema
	for schemaRows.Next() {
		var sc model.DiscoveredSchema
		sc.DataSourceID = dataSourceID
		if err := schemaRows.Scan(&sc.ID, &sc.SchemaName, &sc.IsSelected); err != nil {
			return cat, fmt.Errorf("catalogstore: scanning schema row: %w", err)
		}
		schemas = append(schemas, sc)
	}
	if err := schemaRows.Err(); err != nil {
		return cat, fmt.Errorf("catalogstore: iterating schemas: %w", err)
	}

	for _, sc := range schemas {
		tables, err := s.loadTables(ctx, sc.ID)
		if err != nil {
			return cat, err
		}
		cat.Schemas = append(cat.Schemas, model.CatalogSchema{Schema: sc, Tables: tables})
	}
	return cat, nil
}

func (s *Store) loadTables(ctx context.Context, schemaID uuid.UUID) ([]model.CatalogTable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_name, table_type, is_selected
		FROM pgfedproxy.discovered_tables
		WHERE discovered_schema_id = $1
		ORDER BY table_name`, schemaID)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: loading tables: %w", err)
	}
	defer rows.Close()

	var out []model.CatalogTable
	for rows.Next() {
		var t model.DiscoveredTable
		t.DiscoveredSchemaID = schemaID
		var tableType string
		if err := rows.Scan(&t.ID, &t.TableName, &tableType, &t.IsSelected); err != nil {
			return nil, fmt.Errorf("catalogstore: scanning table row: %w", err)
		}
		t.TableType = model.TableType(tableType)

		cols, err := s.loadColumns(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CatalogTable{Table: t, Columns: cols})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalogstore: iterating tables: %w", err)
	}
	return out, nil
}

func (s *Store) loadColumns(ctx context.Context, tableID uuid.UUID) ([]model.DiscoveredColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, column_name, ordinal_position, data_type, is_nullable, column_default, arrow_type
		FROM pgfedproxy.discovered_columns
		WHERE discovered_table_id = $1
		ORDER BY ordinal_position`, tableID)
	if err != nil {
		return nil, fmt.Errorf("catalogstore: loading columns: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveredColumn
	for rows.Next() {
		var c model.DiscoveredColumn
		c.DiscoveredTableID = tableID
		if err := rows.Scan(&c.ID, &c.ColumnName, &c.OrdinalPosition, &c.DataType, &c.IsNullable, &c.ColumnDefault, &c.ArrowType); err != nil {
			return nil, fmt.Errorf("catalogstore: scanning column row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalogstore: iterating columns: %w", err)
	}
	return out, nil
}

// SaveCatalog transactionally upserts schemas, tables and columns for
// dataSourceID: either every selection persists, or none do. It never
// invalidates the engine cache itself — the job runner does that after a
// successful commit, per spec.md §4.5.
func (s *Store) SaveCatalog(ctx context.Context, dataSourceID uuid.UUID, dataSourceName string, schemas []model.CatalogSchema) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalogstore: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	root := model.DataSourceRootID(dataSourceName)
	for _, sc := range schemas {
		schemaID := model.DeterministicID(root, sc.Schema.SchemaName)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pgfedproxy.discovered_schemas (id, data_source_id, schema_name, is_selected)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (data_source_id, schema_name)
			DO UPDATE SET is_selected = EXCLUDED.is_selected`,
			schemaID, dataSourceID, sc.Schema.SchemaName, sc.Schema.IsSelected,
		); err != nil {
			return fmt.Errorf("catalogstore: upserting schema %s: %w", sc.Schema.SchemaName, err)
		}

		for _, t := range sc.Tables {
			tableID := model.DeterministicID(schemaID, t.Table.TableName)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pgfedproxy.discovered_tables (id, discovered_schema_id, table_name, table_type, is_selected)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (discovered_schema_id, table_name)
				DO UPDATE SET table_type = EXCLUDED.table_type, is_selected = EXCLUDED.is_selected`,
				tableID, schemaID, t.Table.TableName, string(t.Table.TableType), t.Table.IsSelected,
			); err != nil {
				return fmt.Errorf("catalogstore: upserting table %s: %w", t.Table.TableName, err)
			}

			for _, c := range t.Columns {
				colID := model.DeterministicID(tableID, c.ColumnName)
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO pgfedproxy.discovered_columns
						(id, discovered_table_id, column_name, ordinal_position, data_type, is_nullable, column_default, arrow_type)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
					ON CONFLICT (discovered_table_id, column_name)
					DO UPDATE SET ordinal_position = EXCLUDED.ordinal_position,
					              data_type = EXCLUDED.data_type,
					              is_nullable = EXCLUDED.is_nullable,
					              column_default = EXCLUDED.column_default,
					              arrow_type = EXCLUDED.arrow_type`,
					colID, tableID, c.ColumnName, c.OrdinalPosition, c.DataType, c.IsNullable, c.ColumnDefault, c.ArrowType,
				); err != nil {
					return fmt.Errorf("catalogstore: upserting column %s: %w", c.ColumnName, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalogstore: committing catalog save: %w", err)
	}
	return nil
}
