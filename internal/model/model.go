// SPDX-License-Identifier: Apache-2.0

// Package model defines the persisted entities shared by every component of
// the proxy: users, datasources, their assignment relation, and the
// allowlisted catalog discovered from each datasource's upstream.
package model

import (
	"time"

	"github.com/google/uuid"
)

// CatalogNamespace is the fixed UUID v5 namespace every catalog ID is
// derived from. It must never change: changing it would make every
// previously discovered catalog ID non-reproducible, breaking the
// idempotent-upsert property discovery relies on.
var CatalogNamespace = uuid.MustParse("6f9c3a6e-6d0a-5b7f-9d9b-1a7e9e9c9a1a")

// DeterministicID derives a stable UUID v5 from a parent ID and a natural
// key, e.g. DeterministicID(dsRoot, "public") for a schema, or
// DeterministicID(schemaID, "orders") for a table. Two independent
// discoveries of the same upstream object always produce the same ID.
func DeterministicID(parent uuid.UUID, naturalKey string) uuid.UUID {
	data := parent.String() + ":" + naturalKey
	return uuid.NewSHA1(parent, []byte(data))
}

// DataSourceRootID is the deterministic root ID for a datasource's catalog
// tree, derived from its name under CatalogNamespace.
func DataSourceRootID(dataSourceName string) uuid.UUID {
	return uuid.NewSHA1(CatalogNamespace, []byte(dataSourceName))
}

// NewUserID returns a new monotonic, sortable UUID v7 suitable for primary
// keys that benefit from time ordering (users, jobs).
func NewUserID() (uuid.UUID, error) {
	return uuid.NewV7()
}

// User is an identity known to the proxy's own user store. is_admin governs
// management-plane access only; it never implies data-plane access to any
// datasource. Data-plane access is granted exclusively via DataSourceAssignment.
type User struct {
	ID           uuid.UUID
	Username     string
	Tenant       string
	IsAdmin      bool
	IsActive     bool
	PasswordHash string

	// SCRAMCredential is derived once, at the external admin boundary where
	// the plaintext password is still available (password hashing is out
	// of this core's scope per spec.md §1). It is nil for a user who has
	// never authenticated over SCRAM-SHA-256; such a user may still use
	// cleartext-password auth against PasswordHash.
	SCRAMCredential *SCRAMCredential
}

// DataSourceType enumerates the upstream database kinds the discovery
// provider knows how to introspect. This core ships exactly one: Postgres.
type DataSourceType string

const (
	DataSourceTypePostgres DataSourceType = "postgres"
)

// DataSource is a named upstream database configuration exposed to clients
// via the Postgres startup `database` parameter.
type DataSource struct {
	ID                     uuid.UUID
	Name                   string
	Type                   DataSourceType
	PublicConfig           map[string]string
	SecretConfigCiphertext []byte
	IsActive               bool
	LastSyncAt             *time.Time
	LastSyncResult         *DriftReport
}

// RootID returns this datasource's deterministic catalog root ID.
func (d DataSource) RootID() uuid.UUID {
	return DataSourceRootID(d.Name)
}

// DataSourceAssignment is a strict allowlist row: a connection from a user
// with no matching assignment to the requested datasource is rejected at
// startup, regardless of IsAdmin.
type DataSourceAssignment struct {
	UserID       uuid.UUID
	DataSourceID uuid.UUID
}

// TableType enumerates the upstream relation kinds the catalog tracks.
type TableType string

const (
	TableTypeTable            TableType = "TABLE"
	TableTypeView             TableType = "VIEW"
	TableTypeMaterializedView TableType = "MATERIALIZED_VIEW"
)

// DiscoveredSchema is an upstream schema the discovery provider found, and
// whether an admin has selected it for inclusion in the engine's catalog.
type DiscoveredSchema struct {
	ID           uuid.UUID
	DataSourceID uuid.UUID
	SchemaName   string
	IsSelected   bool
}

// DiscoveredTable is an upstream relation within a selected (or not yet
// selected) schema.
type DiscoveredTable struct {
	ID                 uuid.UUID
	DiscoveredSchemaID uuid.UUID
	TableName          string
	TableType          TableType
	IsSelected         bool
}

// DiscoveredColumn is a single column of a discovered table. ArrowType is
// nil for columns the engine cannot represent (e.g. jsonb, regclass); such
// columns are persisted but excluded from the engine's schema for the table.
type DiscoveredColumn struct {
	ID                uuid.UUID
	DiscoveredTableID uuid.UUID
	ColumnName        string
	OrdinalPosition   int
	DataType          string
	IsNullable        bool
	ColumnDefault     *string
	ArrowType         *string
}

// Catalog is the full discovered tree for one datasource, as persisted by
// the catalog store.
type Catalog struct {
	DataSourceID uuid.UUID
	Schemas      []CatalogSchema
}

// CatalogSchema bundles a discovered schema with its tables, for save/load
// convenience.
type CatalogSchema struct {
	Schema DiscoveredSchema
	Tables []CatalogTable
}

// CatalogTable bundles a discovered table with its columns.
type CatalogTable struct {
	Table   DiscoveredTable
	Columns []DiscoveredColumn
}

// SelectedTables returns every (schema, table) pair that is visible to the
// engine: is_selected=true on both the table and its parent schema, per
// invariant 1 of spec.md §3.
func (c Catalog) SelectedTables() []CatalogTable {
	var out []CatalogTable
	for _, s := range c.Schemas {
		if !s.Schema.IsSelected {
			continue
		}
		for _, t := range s.Tables {
			if t.Table.IsSelected {
				out = append(out, t)
			}
		}
	}
	return out
}
