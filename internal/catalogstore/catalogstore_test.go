// SPDX-License-Identifier: Apache-2.0

package catalogstore_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/catalogstore"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

func TestCheckFormatVersionAcceptsEmptyAndOlderVersions(t *testing.T) {
	t.Parallel()

	assert.NoError(t, catalogstore.CheckFormatVersion(""))
	assert.NoError(t, catalogstore.CheckFormatVersion("v0.9.0"))
	assert.NoError(t, catalogstore.CheckFormatVersion(catalogstore.SchemaFormatVersion))
}

func TestCheckFormatVersionRejectsNewerVersion(t *testing.T) {
	t.Parallel()

	assert.Error(t, catalogstore.CheckFormatVersion("v99.0.0"))
}

func TestLoadAssemblesSchemaTableColumnTree(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dsID := uuid.New()
	schemaID := uuid.New()
	tableID := uuid.New()
	colID := uuid.New()

	mock.ExpectQuery("SELECT id, schema_name, is_selected").
		WithArgs(dsID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "schema_name", "is_selected"}).
			AddRow(schemaID, "public", true))
	mock.ExpectQuery("SELECT id, table_name, table_type, is_selected").
		WithArgs(schemaID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "table_name", "table_type", "is_selected"}).
			AddRow(tableID, "orders", "TABLE", true))
	mock.ExpectQuery("SELECT id, column_name, ordinal_position").
		WithArgs(tableID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "column_name", "ordinal_position", "data_type", "is_nullable", "column_default", "arrow_type"}).
			AddRow(colID, "id", 1, "integer", false, nil, "int64"))

	store := catalogstore.New(db)
	cat, err := store.Load(context.Background(), dsID)
	require.NoError(t, err)

	require.Len(t, cat.Schemas, 1)
	assert.Equal(t, "public", cat.Schemas[0].Schema.SchemaName)
	require.Len(t, cat.Schemas[0].Tables, 1)
	assert.Equal(t, "orders", cat.Schemas[0].Tables[0].Table.TableName)
	require.Len(t, cat.Schemas[0].Tables[0].Columns, 1)
	assert.Equal(t, "id", cat.Schemas[0].Tables[0].Columns[0].ColumnName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCatalogCommitsOnSuccess(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pgfedproxy.discovered_schemas").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pgfedproxy.discovered_tables").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO pgfedproxy.discovered_columns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := catalogstore.New(db)
	schemas := []model.CatalogSchema{
		{
			Schema: model.DiscoveredSchema{SchemaName: "public", IsSelected: true},
			Tables: []model.CatalogTable{
				{
					Table: model.DiscoveredTable{TableName: "orders", TableType: model.TableTypeTable, IsSelected: true},
					Columns: []model.DiscoveredColumn{
						{ColumnName: "id", OrdinalPosition: 1, DataType: "integer"},
					},
				},
			},
		},
	}

	err = store.SaveCatalog(context.Background(), uuid.New(), "warehouse", schemas)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveCatalogRollsBackOnSchemaUpsertError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pgfedproxy.discovered_schemas").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	store := catalogstore.New(db)
	schemas := []model.CatalogSchema{
		{Schema: model.DiscoveredSchema{SchemaName: "public", IsSelected: true}},
	}

	err = store.SaveCatalog(context.Background(), uuid.New(), "warehouse", schemas)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
