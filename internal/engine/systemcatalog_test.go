// SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

func sampleCatalog() *engine.VirtualCatalog {
	return engine.NewVirtualCatalog([]engine.Table{
		{
			Schema: "public",
			Name:   "orders",
			Type:   model.TableTypeTable,
			Columns: []engine.Column{
				{Name: "id", ArrowType: arrow.PrimitiveTypes.Int32},
				{Name: "tenant", ArrowType: arrow.BinaryTypes.String},
			},
		},
	})
}

func TestSystemCatalogResultAnswersPgClassWithoutAPool(t *testing.T) {
	t.Parallel()

	ec := engine.NewContext("warehouse", sampleCatalog(), nil)

	result, err := ec.Query(context.Background(), hooks.Session{Tenant: "acme"}, "SELECT relname FROM pg_catalog.pg_class")
	require.NoError(t, err)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, int64(1), result.Batches[0].NumRows())
}

func TestSystemCatalogResultAnswersBarePgClass(t *testing.T) {
	t.Parallel()

	result, ok := engine.NewContext("warehouse", sampleCatalog(), nil).SystemCatalogResult("SELECT * FROM pg_class")
	require.True(t, ok)
	assert.Equal(t, int64(1), result.Batches[0].NumRows())
}

func TestSystemCatalogResultAnswersInformationSchemaColumns(t *testing.T) {
	t.Parallel()

	result, ok := engine.NewContext("warehouse", sampleCatalog(), nil).SystemCatalogResult("SELECT column_name FROM information_schema.columns")
	require.True(t, ok)
	assert.Equal(t, int64(2), result.Batches[0].NumRows())
}

func TestSystemCatalogResultDoesNotMatchRealTableScans(t *testing.T) {
	t.Parallel()

	_, ok := engine.NewContext("warehouse", sampleCatalog(), nil).SystemCatalogResult("SELECT id FROM public.orders")
	assert.False(t, ok)
}

func TestSystemCatalogResultDoesNotMatchJoins(t *testing.T) {
	t.Parallel()

	_, ok := engine.NewContext("warehouse", sampleCatalog(), nil).SystemCatalogResult(
		"SELECT a.relname FROM pg_catalog.pg_class a JOIN pg_catalog.pg_namespace b ON true",
	)
	assert.False(t, ok)
}
