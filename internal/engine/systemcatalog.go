// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	pgq "github.com/pganalyze/pg_query_go/v6"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// SystemCatalogStub answers the small set of pg_catalog/information_schema
// introspection shapes IDE clients issue on connect (listings of
// relations, columns, types), entirely from the persisted virtual catalog.
// These answers never touch the upstream pool, by construction: building
// them never calls Pool.Open.
type SystemCatalogStub struct {
	catalog *VirtualCatalog
}

// NewSystemCatalogStub builds a stub bound to catalog.
func NewSystemCatalogStub(catalog *VirtualCatalog) *SystemCatalogStub {
	return &SystemCatalogStub{catalog: catalog}
}

// Relations answers a pg_catalog.pg_class-shaped listing: one row per
// registered table, columns (relname, relnamespace, relkind).
func (s *SystemCatalogStub) Relations() *Result {
	cols := []codec.ColumnDescriptor{
		{Name: "relname", ArrowType: arrow.BinaryTypes.String},
		{Name: "relnamespace", ArrowType: arrow.BinaryTypes.String},
		{Name: "relkind", ArrowType: arrow.BinaryTypes.String},
	}

	var rows [][]any
	for _, t := range s.catalog.Tables() {
		rows = append(rows, []any{t.Name, t.Schema, relKind(t.Type)})
	}

	rec, err := buildStringRecord(cols, rows)
	if err != nil {
		// rows are built from in-memory strings only; buildStringRecord
		// can only fail on a column-count mismatch, which cannot happen
		// here since rows are constructed from the same cols slice.
		panic(err)
	}
	return &Result{Columns: cols, Batches: []arrow.Record{rec}}
}

// Columns answers an information_schema.columns-shaped listing: one row
// per column of every registered table.
func (s *SystemCatalogStub) Columns() *Result {
	cols := []codec.ColumnDescriptor{
		{Name: "table_schema", ArrowType: arrow.BinaryTypes.String},
		{Name: "table_name", ArrowType: arrow.BinaryTypes.String},
		{Name: "column_name", ArrowType: arrow.BinaryTypes.String},
		{Name: "data_type", ArrowType: arrow.BinaryTypes.String},
	}

	var rows [][]any
	for _, t := range s.catalog.Tables() {
		for _, c := range t.Columns {
			typeName, _ := codec.ArrowTypeToString(c.ArrowType)
			rows = append(rows, []any{t.Schema, t.Name, c.Name, typeName})
		}
	}

	rec, err := buildStringRecord(cols, rows)
	if err != nil {
		panic(err)
	}
	return &Result{Columns: cols, Batches: []arrow.Record{rec}}
}

func relKind(t model.TableType) string {
	switch t {
	case model.TableTypeView:
		return "v"
	case model.TableTypeMaterializedView:
		return "m"
	default:
		return "r"
	}
}

// SystemCatalogResult answers query directly from the persisted virtual
// catalog, bypassing the hook pipeline and the upstream pool entirely, for
// the small set of pg_catalog/information_schema introspection shapes IDE
// clients issue on connect. ok is false for every other query shape, which
// falls through to the normal parse-hook-execute path. Never touching the
// pool here is what keeps catalog-only introspection from dialing the
// upstream (spec.md §4.1, §4.2, §9's TablePlus note).
func (c *Context) SystemCatalogResult(query string) (*Result, bool) {
	relname, schema, ok := soleFromRelation(query)
	if !ok {
		return nil, false
	}
	switch {
	case relname == "pg_class" && (schema == "" || schema == "pg_catalog"):
		return c.systemCatalog.Relations(), true
	case relname == "columns" && schema == "information_schema":
		return c.systemCatalog.Columns(), true
	default:
		return nil, false
	}
}

// soleFromRelation parses query and, if it is a plain SELECT whose FROM
// clause is exactly one bare table reference, returns that reference's
// (lower-cased) relation and schema name. Any other shape — joins, CTEs,
// subqueries, multiple statements, parse failure — reports ok=false, since
// the stub only ever answers the single-relation shapes IDE clients send.
func soleFromRelation(query string) (relname, schema string, ok bool) {
	tree, err := pgq.Parse(query)
	if err != nil {
		return "", "", false
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return "", "", false
	}
	sel, ok := stmts[0].GetStmt().GetNode().(*pgq.Node_SelectStmt)
	if !ok {
		return "", "", false
	}
	from := sel.SelectStmt.GetFromClause()
	if len(from) != 1 {
		return "", "", false
	}
	rv, ok := from[0].GetNode().(*pgq.Node_RangeVar)
	if !ok {
		return "", "", false
	}
	return strings.ToLower(rv.RangeVar.GetRelname()), strings.ToLower(rv.RangeVar.GetSchemaname()), true
}
