// SPDX-License-Identifier: Apache-2.0

package catalogstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/catalogstore"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

func strPtr(s string) *string { return &s }

func col(name, arrowType string) model.DiscoveredColumn {
	return model.DiscoveredColumn{ColumnName: name, ArrowType: strPtr(arrowType)}
}

func schema(name string, tables ...model.CatalogTable) model.CatalogSchema {
	return model.CatalogSchema{
		Schema: model.DiscoveredSchema{SchemaName: name, IsSelected: true},
		Tables: tables,
	}
}

func table(name string, cols ...model.DiscoveredColumn) model.CatalogTable {
	return model.CatalogTable{
		Table:   model.DiscoveredTable{TableName: name, IsSelected: true},
		Columns: cols,
	}
}

func TestComputeDriftUnchangedWhenIdentical(t *testing.T) {
	t.Parallel()

	cat := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64"), col("total", "Decimal128(38,20)"))),
	}}

	report := catalogstore.ComputeDrift(cat, cat)

	require.Len(t, report.Schemas, 1)
	assert.Equal(t, model.DriftUnchanged, report.Schemas[0].Status)
	assert.False(t, report.HasBreakingChanges)
}

func TestComputeDriftDetectsModifiedColumnType(t *testing.T) {
	t.Parallel()

	persisted := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("total", "Decimal128(38,20)"))),
	}}
	fresh := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("total", "Decimal128(38,10)"))),
	}}

	report := catalogstore.ComputeDrift(persisted, fresh)

	require.Len(t, report.Schemas, 1)
	require.Len(t, report.Schemas[0].Tables, 1)
	tbl := report.Schemas[0].Tables[0]
	require.Len(t, tbl.Columns, 1)
	assert.Equal(t, model.DriftModified, tbl.Columns[0].Status)
	require.NotNil(t, tbl.Columns[0].Changes)
	oldType, _ := tbl.Columns[0].Changes.OldType.Get()
	newType, _ := tbl.Columns[0].Changes.NewType.Get()
	assert.Equal(t, "Decimal128(38,20)", oldType)
	assert.Equal(t, "Decimal128(38,10)", newType)
	assert.True(t, report.HasBreakingChanges)
}

func TestComputeDriftDetectsDeletedTable(t *testing.T) {
	t.Parallel()

	persisted := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64")), table("returns", col("id", "Int64"))),
	}}
	fresh := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64"))),
	}}

	report := catalogstore.ComputeDrift(persisted, fresh)

	var returns *model.TableDrift
	for i, tbl := range report.Schemas[0].Tables {
		if tbl.TableName == "returns" {
			returns = &report.Schemas[0].Tables[i]
		}
	}
	require.NotNil(t, returns)
	assert.Equal(t, model.DriftDeleted, returns.Status)
	assert.True(t, report.HasBreakingChanges)
}

func TestComputeDriftNewOnlyIsNotBreaking(t *testing.T) {
	t.Parallel()

	persisted := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64"))),
	}}
	fresh := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64")), table("new_table", col("id", "Int64"))),
	}}

	report := catalogstore.ComputeDrift(persisted, fresh)

	assert.False(t, report.HasBreakingChanges)

	var newTable *model.TableDrift
	for i, tbl := range report.Schemas[0].Tables {
		if tbl.TableName == "new_table" {
			newTable = &report.Schemas[0].Tables[i]
		}
	}
	require.NotNil(t, newTable)
	assert.Equal(t, model.DriftNew, newTable.Status)
}

func TestComputeDriftNewSchemaAppearsWithNewTables(t *testing.T) {
	t.Parallel()

	persisted := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64"))),
	}}
	fresh := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("id", "Int64"))),
		schema("analytics", table("events", col("id", "Int64"))),
	}}

	report := catalogstore.ComputeDrift(persisted, fresh)

	var analytics *model.SchemaDrift
	for i, s := range report.Schemas {
		if s.SchemaName == "analytics" {
			analytics = &report.Schemas[i]
		}
	}
	require.NotNil(t, analytics)
	assert.Equal(t, model.DriftNew, analytics.Status)
	assert.False(t, report.HasBreakingChanges)
}

func TestComputeDriftColumnNullToTypedIsModified(t *testing.T) {
	t.Parallel()

	persisted := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", model.DiscoveredColumn{ColumnName: "meta", ArrowType: nil})),
	}}
	fresh := model.Catalog{Schemas: []model.CatalogSchema{
		schema("public", table("orders", col("meta", "Utf8"))),
	}}

	report := catalogstore.ComputeDrift(persisted, fresh)
	col := report.Schemas[0].Tables[0].Columns[0]
	assert.Equal(t, model.DriftModified, col.Status)
	assert.True(t, report.HasBreakingChanges)
}
