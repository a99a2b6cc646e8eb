// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
	"github.com/pgfedproxy/pgfedproxy/internal/upstream"
)

// SchemaResolver runs a trivial, zero-row query against a datasource's
// upstream and derives each column's Arrow type from the driver's own
// column metadata. Discovery calls this same resolver instead of keeping
// a second, independent Postgres-type→Arrow mapping, so the type recorded
// at discovery time can never drift from the type execution would itself
// produce (spec.md §4.2's critical property).
type SchemaResolver struct {
	pool *upstream.Pool
}

// NewSchemaResolver binds a resolver to a datasource's pool.
func NewSchemaResolver(pool *upstream.Pool) *SchemaResolver {
	return &SchemaResolver{pool: pool}
}

// ResolveSchema returns the Arrow-typed column descriptors for schema.table.
func (r *SchemaResolver) ResolveSchema(ctx context.Context, schema, table string) ([]codec.ColumnDescriptor, error) {
	query := fmt.Sprintf("SELECT * FROM %q.%q WHERE false", schema, table)
	rows, err := r.pool.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving schema for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	out, err := ColumnTypesFromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("engine: resolving schema for %s.%s: %w", schema, table, err)
	}
	return out, nil
}

// ColumnTypesFromRows derives Arrow-typed column descriptors from rows' own
// driver column metadata, via the single canonical Postgres-type→Arrow
// mapping (arrowTypeForPGTypeName) that ResolveSchema, query execution
// (Context.Query), and wire-protocol Describe all share. Using one mapping
// everywhere is what keeps the stored (discovery-time) Arrow type and the
// runtime (execution-time) Arrow type from ever disagreeing (spec.md §4.2's
// critical property).
func ColumnTypesFromRows(rows *sql.Rows) ([]codec.ColumnDescriptor, error) {
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("engine: reading column types: %w", err)
	}
	out := make([]codec.ColumnDescriptor, len(colTypes))
	for i, ct := range colTypes {
		out[i] = codec.ColumnDescriptor{
			Name:      ct.Name(),
			ArrowType: arrowTypeForPGTypeName(ct.DatabaseTypeName()),
		}
	}
	return out, nil
}

// arrowTypeForPGTypeName is the single canonical Postgres-type→Arrow
// mapping used by both query execution and discovery. lib/pq reports type
// names in upper case (e.g. "INT4", "VARCHAR", "TIMESTAMPTZ"); unmapped
// names fall back to Utf8, matching the engine's text-format wire
// encoding for anything it cannot natively represent.
func arrowTypeForPGTypeName(name string) arrow.DataType {
	switch name {
	case "BOOL":
		return arrow.FixedWidthTypes.Boolean
	case "INT2":
		return arrow.PrimitiveTypes.Int16
	case "INT4":
		return arrow.PrimitiveTypes.Int32
	case "INT8":
		return arrow.PrimitiveTypes.Int64
	case "FLOAT4":
		return arrow.PrimitiveTypes.Float32
	case "FLOAT8":
		return arrow.PrimitiveTypes.Float64
	case "NUMERIC":
		return &arrow.Decimal128Type{Precision: 38, Scale: 10}
	case "TEXT", "VARCHAR", "BPCHAR", "NAME":
		return arrow.BinaryTypes.String
	case "BYTEA":
		return arrow.BinaryTypes.Binary
	case "DATE":
		return arrow.FixedWidthTypes.Date32
	case "TIMESTAMP":
		return &arrow.TimestampType{Unit: arrow.Microsecond}
	case "TIMESTAMPTZ":
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case "JSON", "JSONB", "REGCLASS", "REGPROC", "REGTYPE", "XML", "HSTORE":
		// No faithful Arrow representation; the caller leaves these columns
		// persisted with a null arrow_type, invisible to the engine.
		return nil
	default:
		return arrow.BinaryTypes.String
	}
}
