// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
)

// buildTypedRecord renders rows (each a []any from database/sql scanning)
// as a single Arrow record whose fields carry cols' own Arrow types — the
// same types ColumnTypesFromRows just derived from the driver's column
// metadata, so a result batch's Arrow schema is always exactly what
// RowDescription already told the client to expect (spec.md §4.2's
// critical property). Column shapes with no natural Arrow builder (e.g. a
// projected array/composite expression) fall back to a Utf8 column
// rendered with fmt.Sprint, the same fallback buildStringRecord uses for
// the system-catalog stub's own canned results.
func buildTypedRecord(cols []codec.ColumnDescriptor, rows [][]any) (arrow.Record, error) {
	pool := memory.NewGoAllocator()
	fields := make([]arrow.Field, len(cols))
	builders := make([]array.Builder, len(cols))
	for i, c := range cols {
		builders[i] = newBuilderForType(pool, c.ArrowType)
		defer builders[i].Release()
		typ := c.ArrowType
		if _, ok := builders[i].(*array.StringBuilder); ok {
			typ = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: c.Name, Type: typ, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	for _, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("engine: row has %d values, expected %d", len(row), len(cols))
		}
		for i, v := range row {
			if v == nil {
				builders[i].AppendNull()
				continue
			}
			if err := appendValue(builders[i], cols[i].ArrowType, v); err != nil {
				return nil, fmt.Errorf("engine: column %q: %w", cols[i].Name, err)
			}
		}
	}

	arrays := make([]arrow.Array, len(cols))
	for i, b := range builders {
		arrays[i] = b.NewArray()
		defer arrays[i].Release()
	}

	return array.NewRecord(schema, arrays, int64(len(rows))), nil
}

// newBuilderForType returns the Arrow array builder matching dt, falling
// back to a string builder for any shape with no natural Arrow builder
// here (lists of driver-scanned values have no single representation
// database/sql can hand back generically).
func newBuilderForType(pool memory.Allocator, dt arrow.DataType) array.Builder {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return array.NewBooleanBuilder(pool)
	case *arrow.Int8Type:
		return array.NewInt8Builder(pool)
	case *arrow.Int16Type:
		return array.NewInt16Builder(pool)
	case *arrow.Int32Type:
		return array.NewInt32Builder(pool)
	case *arrow.Int64Type:
		return array.NewInt64Builder(pool)
	case *arrow.Uint8Type:
		return array.NewUint8Builder(pool)
	case *arrow.Uint16Type:
		return array.NewUint16Builder(pool)
	case *arrow.Uint32Type:
		return array.NewUint32Builder(pool)
	case *arrow.Uint64Type:
		return array.NewUint64Builder(pool)
	case *arrow.Float32Type:
		return array.NewFloat32Builder(pool)
	case *arrow.Float64Type:
		return array.NewFloat64Builder(pool)
	case *arrow.BinaryType:
		return array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
	case *arrow.Date32Type:
		return array.NewDate32Builder(pool)
	case *arrow.Decimal128Type:
		return array.NewDecimal128Builder(pool, t)
	case *arrow.TimestampType:
		return array.NewTimestampBuilder(pool, t)
	default:
		return array.NewStringBuilder(pool)
	}
}

// appendValue converts v — whatever database/sql's driver handed back for a
// column of Postgres type dt maps to — and appends it to builder.
func appendValue(builder array.Builder, dt arrow.DataType, v any) error {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		b, err := asBool(v)
		if err != nil {
			return err
		}
		builder.(*array.BooleanBuilder).Append(b)
	case *arrow.Int8Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Int8Builder).Append(int8(n))
	case *arrow.Int16Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Int16Builder).Append(int16(n))
	case *arrow.Int32Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Int32Builder).Append(int32(n))
	case *arrow.Int64Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Int64Builder).Append(n)
	case *arrow.Uint8Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Uint8Builder).Append(uint8(n))
	case *arrow.Uint16Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Uint16Builder).Append(uint16(n))
	case *arrow.Uint32Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Uint32Builder).Append(uint32(n))
	case *arrow.Uint64Type:
		n, err := asInt64(v)
		if err != nil {
			return err
		}
		builder.(*array.Uint64Builder).Append(uint64(n))
	case *arrow.Float32Type:
		f, err := asFloat64(v)
		if err != nil {
			return err
		}
		builder.(*array.Float32Builder).Append(float32(f))
	case *arrow.Float64Type:
		f, err := asFloat64(v)
		if err != nil {
			return err
		}
		builder.(*array.Float64Builder).Append(f)
	case *arrow.BinaryType:
		builder.(*array.BinaryBuilder).Append(asBytes(v))
	case *arrow.Date32Type:
		tm, err := asTime(v)
		if err != nil {
			return err
		}
		builder.(*array.Date32Builder).Append(arrow.Date32(tm.UTC().Unix() / 86400))
	case *arrow.Decimal128Type:
		num, err := decimal128.FromString(asString(v), t.Precision, t.Scale)
		if err != nil {
			return fmt.Errorf("decimal128 value %q: %w", asString(v), err)
		}
		builder.(*array.Decimal128Builder).Append(num)
	case *arrow.TimestampType:
		tm, err := asTime(v)
		if err != nil {
			return err
		}
		builder.(*array.TimestampBuilder).Append(timestampFromTime(tm, t.Unit))
	default:
		builder.(*array.StringBuilder).Append(asString(v))
	}
	return nil
}

func timestampFromTime(t time.Time, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(t.Unix())
	case arrow.Millisecond:
		return arrow.Timestamp(t.UnixMilli())
	case arrow.Microsecond:
		return arrow.Timestamp(t.UnixMicro())
	default:
		return arrow.Timestamp(t.UnixNano())
	}
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case []byte:
		return string(b) == "t" || string(b) == "true", nil
	case string:
		return b == "t" || b == "true", nil
	default:
		return false, fmt.Errorf("cannot interpret %T as bool", v)
	}
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot interpret %q as an integer: %w", n, err)
		}
		return i, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot interpret %q as an integer: %w", n, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot interpret %T as an integer", v)
	}
}

func asFloat64(v any) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case float32:
		return float64(f), nil
	case []byte:
		n, err := strconv.ParseFloat(string(f), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot interpret %q as a float: %w", f, err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot interpret %q as a float: %w", f, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("cannot interpret %T as a float", v)
	}
}

func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return []byte(fmt.Sprint(v))
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case []byte:
		return string(s)
	case string:
		return s
	default:
		return fmt.Sprint(v)
	}
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseTimeLayouts(string(t))
	case string:
		return parseTimeLayouts(t)
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as a timestamp", v)
	}
}

func parseTimeLayouts(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a timestamp: %w", s, lastErr)
}

// buildStringRecord renders rows (each a []any from database/sql scanning)
// as a single Arrow record whose fields are all Utf8, formatting every
// value with fmt.Sprint. It backs the system-catalog stub's own canned
// results, which are already plain strings by construction.
func buildStringRecord(cols []codec.ColumnDescriptor, rows [][]any) (arrow.Record, error) {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	pool := memory.NewGoAllocator()
	builders := make([]*array.StringBuilder, len(cols))
	for i := range cols {
		builders[i] = array.NewStringBuilder(pool)
		defer builders[i].Release()
	}

	for _, row := range rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("engine: row has %d values, expected %d", len(row), len(cols))
		}
		for i, v := range row {
			if v == nil {
				builders[i].AppendNull()
				continue
			}
			switch val := v.(type) {
			case []byte:
				builders[i].Append(string(val))
			default:
				builders[i].Append(fmt.Sprint(val))
			}
		}
	}

	arrays := make([]arrow.Array, len(cols))
	for i, b := range builders {
		arrays[i] = b.NewArray()
		defer arrays[i].Release()
	}

	return array.NewRecord(schema, arrays, int64(len(rows))), nil
}
