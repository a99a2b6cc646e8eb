// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// substituteParams rewrites query's "$1", "$2", ... placeholders into SQL
// literals, per spec.md §4.4: "Parameter values are passed to the plan as
// literals in the same form the simple path would produce." The hook
// pipeline and engine never see a parameterized statement; they see
// exactly the SQL a client would have sent on the simple query path.
//
// Placeholders inside single-quoted string literals are left untouched —
// "$1" is a literal dollar-sign-one there, not a parameter reference.
func substituteParams(query string, oids []uint32, formatCodes []int16, params [][]byte) (string, error) {
	if len(params) == 0 {
		return query, nil
	}

	literals := make([]string, len(params))
	for i, raw := range params {
		var oid uint32
		if i < len(oids) {
			oid = oids[i]
		}
		lit, err := paramLiteral(raw, oid, formatCodeFor(formatCodes, i))
		if err != nil {
			return "", fmt.Errorf("wire: substituting parameter $%d: %w", i+1, err)
		}
		literals[i] = lit
	}

	var out strings.Builder
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inString = !inString
			out.WriteByte(c)
			continue
		}
		if c != '$' || inString {
			out.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			out.WriteByte(c)
			continue
		}
		n, err := strconv.Atoi(query[i+1 : j])
		if err != nil || n < 1 || n > len(literals) {
			out.WriteString(query[i:j])
			i = j - 1
			continue
		}
		out.WriteString(literals[n-1])
		i = j - 1
	}
	return out.String(), nil
}

func formatCodeFor(codes []int16, i int) int16 {
	switch len(codes) {
	case 0:
		return 0 // text, the protocol's default when Bind omits format codes
	case 1:
		return codes[0] // one code applies to every parameter
	default:
		return codes[i]
	}
}

// paramLiteral renders one Bind parameter as a SQL literal. Text-format
// parameters are quoted as-is (Postgres performs the same implicit cast a
// simple-query string literal would); binary-format parameters are decoded
// via pgtype first, into a concrete Go type selected by OID, so
// numeric/boolean values are emitted unquoted the same way a simple-query
// literal would be.
func paramLiteral(raw []byte, oid uint32, formatCode int16) (string, error) {
	if raw == nil {
		return "NULL", nil
	}
	if formatCode == 0 {
		return quoteLiteral(string(raw)), nil
	}

	m := pgtype.NewMap()
	switch oid {
	case pgtype.BoolOID:
		var v bool
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	case pgtype.Int2OID:
		var v int16
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(v), 10), nil
	case pgtype.Int4OID:
		var v int32
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(v), 10), nil
	case pgtype.Int8OID:
		var v int64
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	case pgtype.Float4OID:
		var v float32
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case pgtype.Float8OID:
		var v float64
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case pgtype.NumericOID:
		var v pgtype.Numeric
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		f, err := v.Value()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", f), nil
	case pgtype.TextOID, pgtype.VarcharOID, pgtype.BPCharOID:
		var v string
		if err := m.Scan(oid, pgtype.BinaryFormatCode, raw, &v); err != nil {
			return "", err
		}
		return quoteLiteral(v), nil
	default:
		// Unknown OID: fall back to a bytea literal, which Postgres always
		// accepts and which round-trips the bytes exactly.
		return "'\\x" + fmt.Sprintf("%x", raw) + "'", nil
	}
}

// quoteLiteral escapes a Go string into a single-quoted SQL string literal
// by doubling embedded quotes, the standard SQL escaping Postgres expects
// for a non-dollar-quoted literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
