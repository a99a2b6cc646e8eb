// SPDX-License-Identifier: Apache-2.0

package codec_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
)

func TestArrowTypeRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		typ  arrow.DataType
	}{
		{"bool", arrow.FixedWidthTypes.Boolean},
		{"int32", arrow.PrimitiveTypes.Int32},
		{"int64", arrow.PrimitiveTypes.Int64},
		{"float64", arrow.PrimitiveTypes.Float64},
		{"utf8", arrow.BinaryTypes.String},
		{"binary", arrow.BinaryTypes.Binary},
		{"date32", arrow.FixedWidthTypes.Date32},
		{"decimal128", &arrow.Decimal128Type{Precision: 38, Scale: 20}},
		{"timestamp_tz", &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}},
		{"timestamp_no_tz", &arrow.TimestampType{Unit: arrow.Microsecond}},
		{"list_of_int32", arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{"list_of_utf8", arrow.ListOf(arrow.BinaryTypes.String)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, ok := codec.ArrowTypeToString(tc.typ)
			require.True(t, ok, "expected %v to be representable", tc.typ)

			parsed, err := codec.ParseArrowType(s)
			require.NoError(t, err)

			roundTripped, ok := codec.ArrowTypeToString(parsed)
			require.True(t, ok)
			assert.Equal(t, s, roundTripped)
		})
	}
}

func TestArrowTypeToStringExactGrammar(t *testing.T) {
	t.Parallel()

	s, ok := codec.ArrowTypeToString(&arrow.Decimal128Type{Precision: 38, Scale: 20})
	require.True(t, ok)
	assert.Equal(t, "Decimal128(38,20)", s)

	s, ok = codec.ArrowTypeToString(&arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"})
	require.True(t, ok)
	assert.Equal(t, `Timestamp(Nanosecond,"UTC")`, s)

	s, ok = codec.ArrowTypeToString(arrow.ListOf(arrow.PrimitiveTypes.Int32))
	require.True(t, ok)
	assert.Equal(t, "List<Int32>", s)
}

func TestParseArrowTypeUnsupported(t *testing.T) {
	t.Parallel()

	_, err := codec.ParseArrowType("NotAType")
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrUnsupportedType)
}
