// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/jackc/pgx/v5/pgtype"
)

// ColumnDescriptor is one column of a RowDescription: its wire name and the
// Arrow type the engine promised to produce for it. The Postgres OID and
// format are derived from the Arrow type, never the other way around —
// the Arrow type is the source of truth (spec.md §4.2's "critical property").
type ColumnDescriptor struct {
	Name      string
	ArrowType arrow.DataType
}

// OIDForArrowType maps an Arrow type to the Postgres OID a client should be
// told to expect. Types without a natural Postgres counterpart (nested
// Lists) are sent as text (OID 25), since every Postgres
// client can parse a text-format column of unknown shape.
func OIDForArrowType(dt arrow.DataType) uint32 {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return pgtype.BoolOID
	case *arrow.Int8Type, *arrow.Int16Type:
		return pgtype.Int2OID
	case *arrow.Int32Type:
		return pgtype.Int4OID
	case *arrow.Int64Type:
		return pgtype.Int8OID
	case *arrow.Uint8Type, *arrow.Uint16Type:
		return pgtype.Int2OID
	case *arrow.Uint32Type:
		return pgtype.Int8OID
	case *arrow.Uint64Type:
		return pgtype.NumericOID
	case *arrow.Float32Type:
		return pgtype.Float4OID
	case *arrow.Float64Type:
		return pgtype.Float8OID
	case *arrow.StringType:
		return pgtype.TextOID
	case *arrow.BinaryType:
		return pgtype.ByteaOID
	case *arrow.Date32Type:
		return pgtype.DateOID
	case *arrow.Decimal128Type:
		return pgtype.NumericOID
	case *arrow.TimestampType:
		if t.TimeZone != "" {
			return pgtype.TimestamptzOID
		}
		return pgtype.TimestampOID
	case *arrow.ListType:
		return pgtype.TextOID
	default:
		return pgtype.TextOID
	}
}

// RowDescription builds the wire RowDescription message for a result's
// column set.
func RowDescription(cols []ColumnDescriptor) *pgproto3.RowDescription {
	fields := make([]pgproto3.FieldDescription, len(cols))
	for i, c := range cols {
		fields[i] = pgproto3.FieldDescription{
			Name:                 []byte(c.Name),
			TableOID:             0,
			TableAttributeNumber: 0,
			DataTypeOID:          OIDForArrowType(c.ArrowType),
			DataTypeSize:         -1,
			TypeModifier:         -1,
			Format:               0, // text format
		}
	}
	return &pgproto3.RowDescription{Fields: fields}
}

// EncodeRow renders row rowIdx of rec as a text-format Postgres DataRow. A
// nil entry denotes SQL NULL.
func EncodeRow(rec arrow.Record, rowIdx int) (*pgproto3.DataRow, error) {
	values := make([][]byte, rec.NumCols())
	for i := 0; i < int(rec.NumCols()); i++ {
		col := rec.Column(i)
		if col.IsNull(rowIdx) {
			values[i] = nil
			continue
		}
		text, err := encodeScalar(col, rowIdx)
		if err != nil {
			return nil, fmt.Errorf("codec: encoding column %d row %d: %w", i, rowIdx, err)
		}
		values[i] = []byte(text)
	}
	return &pgproto3.DataRow{Values: values}, nil
}

func encodeScalar(col arrow.Array, i int) (string, error) {
	switch a := col.(type) {
	case *array.Boolean:
		return strconv.FormatBool(a.Value(i)), nil
	case *array.Int8:
		return strconv.FormatInt(int64(a.Value(i)), 10), nil
	case *array.Int16:
		return strconv.FormatInt(int64(a.Value(i)), 10), nil
	case *array.Int32:
		return strconv.FormatInt(int64(a.Value(i)), 10), nil
	case *array.Int64:
		return strconv.FormatInt(a.Value(i), 10), nil
	case *array.Uint8:
		return strconv.FormatUint(uint64(a.Value(i)), 10), nil
	case *array.Uint16:
		return strconv.FormatUint(uint64(a.Value(i)), 10), nil
	case *array.Uint32:
		return strconv.FormatUint(uint64(a.Value(i)), 10), nil
	case *array.Uint64:
		return strconv.FormatUint(a.Value(i), 10), nil
	case *array.Float32:
		return strconv.FormatFloat(float64(a.Value(i)), 'g', -1, 32), nil
	case *array.Float64:
		return strconv.FormatFloat(a.Value(i), 'g', -1, 64), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Binary:
		return fmt.Sprintf("\\x%x", a.Value(i)), nil
	case *array.Date32:
		return a.Value(i).ToTime().Format("2006-01-02"), nil
	case *array.Decimal128:
		dt := a.DataType().(*arrow.Decimal128Type)
		return a.Value(i).ToString(dt.Scale), nil
	case *array.Timestamp:
		dt := a.DataType().(*arrow.TimestampType)
		t, err := a.Value(i).ToTime(dt.Unit)
		if err != nil {
			return "", err
		}
		return formatTimestamp(t, dt.TimeZone), nil
	case *array.List:
		return encodeList(a, i)
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedType, col)
	}
}

func formatTimestamp(t time.Time, tz string) string {
	if tz == "" {
		return t.Format("2006-01-02 15:04:05.999999999")
	}
	return t.UTC().Format("2006-01-02 15:04:05.999999999-07")
}

func encodeList(l *array.List, row int) (string, error) {
	start, end := l.ValueOffsets(row)
	elems := l.ListValues()
	parts := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		if elems.IsNull(int(i)) {
			parts = append(parts, "NULL")
			continue
		}
		s, err := encodeScalar(elems, int(i))
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}
