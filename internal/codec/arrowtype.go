// SPDX-License-Identifier: Apache-2.0

// Package codec implements the Arrow↔Postgres-wire codec: a canonical,
// round-trippable Arrow type string grammar (ArrowTypeToString / ParseArrowType)
// and the encoding of Arrow record batches into Postgres DataRow messages.
//
// The grammar is deliberately distinct from arrow-go's own DataType.String()
// output (e.g. "decimal128(38, 20)" vs this package's "Decimal128(38,20)"):
// it is the wire format this system persists in the catalog store and must
// remain stable independently of whatever the upstream arrow-go library's
// default formatting happens to be release to release.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// ErrUnsupportedType is returned by ArrowTypeToString for any arrow.DataType
// this grammar cannot represent. Callers persist a nil arrow_type for such
// columns (spec.md §3 invariant 2) rather than propagating the error.
var ErrUnsupportedType = fmt.Errorf("codec: unsupported arrow type")

// ArrowTypeToString renders dt in the canonical grammar. ok is false if dt
// has no representation in the grammar (the column should be persisted with
// arrow_type = null and excluded from the engine's schema for its table).
func ArrowTypeToString(dt arrow.DataType) (s string, ok bool) {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return "Boolean", true
	case *arrow.Int8Type:
		return "Int8", true
	case *arrow.Int16Type:
		return "Int16", true
	case *arrow.Int32Type:
		return "Int32", true
	case *arrow.Int64Type:
		return "Int64", true
	case *arrow.Uint8Type:
		return "UInt8", true
	case *arrow.Uint16Type:
		return "UInt16", true
	case *arrow.Uint32Type:
		return "UInt32", true
	case *arrow.Uint64Type:
		return "UInt64", true
	case *arrow.Float32Type:
		return "Float32", true
	case *arrow.Float64Type:
		return "Float64", true
	case *arrow.StringType:
		return "Utf8", true
	case *arrow.BinaryType:
		return "Binary", true
	case *arrow.Date32Type:
		return "Date32", true
	case *arrow.Decimal128Type:
		return fmt.Sprintf("Decimal128(%d,%d)", t.Precision, t.Scale), true
	case *arrow.TimestampType:
		unit, ok := timeUnitName(t.Unit)
		if !ok {
			return "", false
		}
		if t.TimeZone == "" {
			return fmt.Sprintf("Timestamp(%s)", unit), true
		}
		return fmt.Sprintf("Timestamp(%s,%q)", unit, t.TimeZone), true
	case *arrow.ListType:
		elem, ok := ArrowTypeToString(t.Elem())
		if !ok {
			return "", false
		}
		return fmt.Sprintf("List<%s>", elem), true
	default:
		return "", false
	}
}

func timeUnitName(u arrow.TimeUnit) (string, bool) {
	switch u {
	case arrow.Second:
		return "Second", true
	case arrow.Millisecond:
		return "Millisecond", true
	case arrow.Microsecond:
		return "Microsecond", true
	case arrow.Nanosecond:
		return "Nanosecond", true
	default:
		return "", false
	}
}

func timeUnitFromName(name string) (arrow.TimeUnit, bool) {
	switch name {
	case "Second":
		return arrow.Second, true
	case "Millisecond":
		return arrow.Millisecond, true
	case "Microsecond":
		return arrow.Microsecond, true
	case "Nanosecond":
		return arrow.Nanosecond, true
	default:
		return 0, false
	}
}

// ParseArrowType parses a string produced by ArrowTypeToString back into an
// arrow.DataType. parse(emit(T)) == T for every T the grammar supports.
func ParseArrowType(s string) (arrow.DataType, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "Boolean":
		return arrow.FixedWidthTypes.Boolean, nil
	case "Int8":
		return arrow.PrimitiveTypes.Int8, nil
	case "Int16":
		return arrow.PrimitiveTypes.Int16, nil
	case "Int32":
		return arrow.PrimitiveTypes.Int32, nil
	case "Int64":
		return arrow.PrimitiveTypes.Int64, nil
	case "UInt8":
		return arrow.PrimitiveTypes.Uint8, nil
	case "UInt16":
		return arrow.PrimitiveTypes.Uint16, nil
	case "UInt32":
		return arrow.PrimitiveTypes.Uint32, nil
	case "UInt64":
		return arrow.PrimitiveTypes.Uint64, nil
	case "Float32":
		return arrow.PrimitiveTypes.Float32, nil
	case "Float64":
		return arrow.PrimitiveTypes.Float64, nil
	case "Utf8":
		return arrow.BinaryTypes.String, nil
	case "Binary":
		return arrow.BinaryTypes.Binary, nil
	case "Date32":
		return arrow.FixedWidthTypes.Date32, nil
	}

	if inner, ok := cutPrefixSuffix(s, "Decimal128(", ")"); ok {
		parts := strings.SplitN(inner, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: malformed Decimal128: %q", ErrUnsupportedType, s)
		}
		precision, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: decimal precision: %q", ErrUnsupportedType, s)
		}
		scale, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("%w: decimal scale: %q", ErrUnsupportedType, s)
		}
		return &arrow.Decimal128Type{Precision: int32(precision), Scale: int32(scale)}, nil
	}

	if inner, ok := cutPrefixSuffix(s, "Timestamp(", ")"); ok {
		unitName := inner
		tz := ""
		if idx := strings.Index(inner, ","); idx >= 0 {
			unitName = inner[:idx]
			tzPart := strings.TrimSpace(inner[idx+1:])
			unquoted, err := strconv.Unquote(tzPart)
			if err != nil {
				return nil, fmt.Errorf("%w: timestamp timezone: %q", ErrUnsupportedType, s)
			}
			tz = unquoted
		}
		unit, ok := timeUnitFromName(strings.TrimSpace(unitName))
		if !ok {
			return nil, fmt.Errorf("%w: timestamp unit: %q", ErrUnsupportedType, s)
		}
		return &arrow.TimestampType{Unit: unit, TimeZone: tz}, nil
	}

	if inner, ok := cutPrefixSuffix(s, "List<", ">"); ok {
		elem, err := ParseArrowType(inner)
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(elem), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, s)
}

func cutPrefixSuffix(s, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) {
		return "", false
	}
	return s[len(prefix) : len(s)-len(suffix)], true
}
