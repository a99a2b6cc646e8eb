// SPDX-License-Identifier: Apache-2.0

// Package engine implements the per-datasource query session: a virtual
// catalog of allowlisted tables, bound to a lazy upstream pool and a hook
// pipeline. It answers both real queries (by rewriting and forwarding them
// to the upstream) and the system-catalog introspection queries IDE
// clients issue on connect (answered locally, never proxied).
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
	"github.com/pgfedproxy/pgfedproxy/internal/upstream"
)

// Column is one column of a registered table's schema, as presented to the
// engine and to clients requesting a RowDescription.
type Column struct {
	Name      string
	ArrowType arrow.DataType
}

// Table is one allowlisted (schema, table) pair, registered under the
// virtual catalog with the Arrow-typed schema the catalog store persisted.
type Table struct {
	Schema  string
	Name    string
	Type    model.TableType
	Columns []Column
}

// QualifiedName returns the upstream-quoted "schema"."table" reference used
// when building SQL against the real upstream relation.
func (t Table) QualifiedName() string {
	return fmt.Sprintf("%q.%q", t.Schema, t.Name)
}

// Result is one executed query's result: its column descriptors and the
// rows as Arrow record batches, in emission order.
type Result struct {
	Columns []codec.ColumnDescriptor
	Batches []arrow.Record
}

// VirtualCatalog resolves table and column lookups against a fixed
// allowlist, and answers the subset of pg_catalog/information_schema
// introspection queries that IDE clients rely on, entirely from memory.
type VirtualCatalog struct {
	tables []Table
	byName map[string]Table
}

// NewVirtualCatalog builds a catalog over exactly the given tables. Callers
// are expected to have already filtered to Catalog.SelectedTables() with
// non-null arrow types, per invariant 2.
func NewVirtualCatalog(tables []Table) *VirtualCatalog {
	byName := make(map[string]Table, len(tables))
	for _, t := range tables {
		byName[t.Schema+"."+t.Name] = t
	}
	return &VirtualCatalog{tables: tables, byName: byName}
}

// Lookup returns the registered table for schema.name, if allowlisted.
func (c *VirtualCatalog) Lookup(schema, name string) (Table, bool) {
	t, ok := c.byName[schema+"."+name]
	return t, ok
}

// Tables returns every registered table, for system-catalog introspection.
func (c *VirtualCatalog) Tables() []Table {
	return c.tables
}

// Context is a query session bound to one datasource: its virtual catalog,
// its lazy shared pool, and its hook pipeline. Every EngineContext owns a
// clone of the pool handle; there is no back-pointer from pool to context,
// so ownership never cycles.
type Context struct {
	DataSourceName string
	Catalog        *VirtualCatalog
	Pool           *upstream.Pool
	Pipeline       *hooks.Pipeline

	systemCatalog *SystemCatalogStub
}

// NewContext builds an EngineContext for a single datasource. pool is a
// cheap handle clone; constructing a Context never dials the upstream.
func NewContext(dataSourceName string, catalog *VirtualCatalog, pool *upstream.Pool) *Context {
	return &Context{
		DataSourceName: dataSourceName,
		Catalog:        catalog,
		Pool:           pool,
		Pipeline:       hooks.NewPipeline(),
		systemCatalog:  NewSystemCatalogStub(catalog),
	}
}

// Query runs sql through the hook pipeline for sess, then executes the
// rewritten statement against the upstream. Recognized system-catalog
// introspection shapes are answered first, straight from SystemCatalogResult,
// and never reach the pipeline or the pool at all (spec.md §4.2).
func (c *Context) Query(ctx context.Context, sess hooks.Session, query string) (*Result, error) {
	if result, ok := c.SystemCatalogResult(query); ok {
		return result, nil
	}

	rewritten, err := c.Pipeline.Run(ctx, sess, query)
	if err != nil {
		return nil, err
	}

	rows, err := c.Pool.QueryContext(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("engine: executing query: %w", err)
	}
	defer rows.Close()

	cols, err := ColumnTypesFromRows(rows)
	if err != nil {
		return nil, err
	}
	return scanResult(rows, cols)
}

// scanResult drains *sql.Rows into a single Arrow record batch, typed
// according to cols — the same Postgres-type→Arrow mapping
// (ColumnTypesFromRows) discovery itself uses, so the batch's Arrow types
// always match what RowDescription already promised the client (spec.md
// §4.2's critical property).
func scanResult(rows *sql.Rows, cols []codec.ColumnDescriptor) (*Result, error) {
	values := make([]any, len(cols))
	scanArgs := make([]any, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	var rowsOut [][]any
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("engine: scanning row: %w", err)
		}
		rowCopy := make([]any, len(values))
		copy(rowCopy, values)
		rowsOut = append(rowsOut, rowCopy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("engine: iterating rows: %w", err)
	}

	rec, err := buildTypedRecord(cols, rowsOut)
	if err != nil {
		return nil, err
	}
	return &Result{Columns: cols, Batches: []arrow.Record{rec}}, nil
}

// SchemaFor returns the column descriptors registered in the virtual
// catalog for schema.table, or false if that table is not allowlisted.
// Discovery does not call it; it resolves types through SchemaResolver.
func (c *Context) SchemaFor(schema, table string) ([]codec.ColumnDescriptor, bool) {
	t, ok := c.Catalog.Lookup(schema, table)
	if !ok {
		return nil, false
	}
	cols := make([]codec.ColumnDescriptor, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = codec.ColumnDescriptor{Name: col.Name, ArrowType: col.ArrowType}
	}
	return cols, true
}
