// SPDX-License-Identifier: Apache-2.0

// Package discovery introspects an upstream Postgres database: its
// non-system schemas, their tables, and each table's columns, sourcing
// Arrow types from the engine's own schema resolver rather than a
// hand-rolled Postgres-type→Arrow mapping (spec.md §4.2's critical
// property). Every method accepts a context so cancellation reaches every
// blocking upstream query promptly.
package discovery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// SchemaResolver obtains the Arrow-typed column schema for a table the way
// the execution engine itself would see it, so discovery and execution
// never disagree on a column's Arrow type.
type SchemaResolver interface {
	ResolveSchema(ctx context.Context, schema, table string) ([]codec.ColumnDescriptor, error)
}

// Provider discovers schemas/tables/columns for one Postgres upstream.
type Provider struct {
	db       *sql.DB
	resolver SchemaResolver
}

// New builds a Provider over an already-open upstream connection and a
// schema resolver.
func New(db *sql.DB, resolver SchemaResolver) *Provider {
	return &Provider{db: db, resolver: resolver}
}

// DiscoverSchemas lists non-system schemas: excludes information_schema and
// any schema prefixed pg_.
func (p *Provider) DiscoverSchemas(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg\_%'
		  AND schema_name <> 'information_schema'
		ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("discovery: listing schemas: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("discovery: scanning schema name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: iterating schemas: %w", err)
	}
	return out, nil
}

// DiscoverTables lists relations of kind table/view/materialized-view for
// every schema named in schemas.
func (p *Provider) DiscoverTables(ctx context.Context, schemas []string) (map[string][]model.DiscoveredTable, error) {
	if len(schemas) == 0 {
		return map[string][]model.DiscoveredTable{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema = ANY($1)
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_schema, table_name`, pq.Array(schemas))
	if err != nil {
		return nil, fmt.Errorf("discovery: listing tables: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.DiscoveredTable)
	for rows.Next() {
		var schemaName, tableName, kind string
		if err := rows.Scan(&schemaName, &tableName, &kind); err != nil {
			return nil, fmt.Errorf("discovery: scanning table row: %w", err)
		}
		out[schemaName] = append(out[schemaName], model.DiscoveredTable{
			TableName: tableName,
			TableType: tableTypeFor(kind),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: iterating tables: %w", err)
	}

	matViews, err := p.discoverMaterializedViews(ctx, schemas)
	if err != nil {
		return nil, err
	}
	for schemaName, tables := range matViews {
		out[schemaName] = append(out[schemaName], tables...)
	}
	return out, nil
}

func (p *Provider) discoverMaterializedViews(ctx context.Context, schemas []string) (map[string][]model.DiscoveredTable, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT schemaname, matviewname
		FROM pg_matviews
		WHERE schemaname = ANY($1)
		ORDER BY schemaname, matviewname`, pq.Array(schemas))
	if err != nil {
		return nil, fmt.Errorf("discovery: listing materialized views: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.DiscoveredTable)
	for rows.Next() {
		var schemaName, viewName string
		if err := rows.Scan(&schemaName, &viewName); err != nil {
			return nil, fmt.Errorf("discovery: scanning materialized view row: %w", err)
		}
		out[schemaName] = append(out[schemaName], model.DiscoveredTable{
			TableName: viewName,
			TableType: model.TableTypeMaterializedView,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: iterating materialized views: %w", err)
	}
	return out, nil
}

// DiscoverColumns annotates every column of schema.table with nullability,
// default and ordinal position from information_schema, then resolves
// Arrow types via the engine's own schema resolver. A column the resolver
// cannot type is persisted with ArrowType=nil (invariant 2 of spec.md §3).
func (p *Provider) DiscoverColumns(ctx context.Context, schema, table string) ([]model.DiscoveredColumn, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT column_name, ordinal_position, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("discovery: listing columns of %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []model.DiscoveredColumn
	for rows.Next() {
		var c model.DiscoveredColumn
		var isNullable string
		var columnDefault sql.NullString
		if err := rows.Scan(&c.ColumnName, &c.OrdinalPosition, &c.DataType, &isNullable, &columnDefault); err != nil {
			return nil, fmt.Errorf("discovery: scanning column row: %w", err)
		}
		c.IsNullable = isNullable == "YES"
		if columnDefault.Valid {
			c.ColumnDefault = &columnDefault.String
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: iterating columns: %w", err)
	}

	resolved, err := p.resolver.ResolveSchema(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolving arrow schema for %s.%s: %w", schema, table, err)
	}
	resolvedByName := make(map[string]codec.ColumnDescriptor, len(resolved))
	for _, r := range resolved {
		resolvedByName[r.Name] = r
	}

	for i := range cols {
		r, ok := resolvedByName[cols[i].ColumnName]
		if !ok {
			continue
		}
		typeName, ok := codec.ArrowTypeToString(r.ArrowType)
		if !ok {
			continue
		}
		cols[i].ArrowType = &typeName
	}
	return cols, nil
}

func tableTypeFor(informationSchemaKind string) model.TableType {
	if informationSchemaKind == "VIEW" {
		return model.TableTypeView
	}
	return model.TableTypeTable
}
