// SPDX-License-Identifier: Apache-2.0

package catalogstore

import (
	"github.com/oapi-codegen/nullable"

	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// ComputeDrift diffs a persisted catalog against a freshly discovered one,
// per spec.md §4.7: deleted entities are in persisted but not fresh, new
// entities are the reverse, modified columns have a changed arrow_type,
// everything else is unchanged.
func ComputeDrift(persisted, fresh model.Catalog) model.DriftReport {
	schemas := diffSchemas(persisted.Schemas, fresh.Schemas)
	return model.DriftReport{
		Schemas:            schemas,
		HasBreakingChanges: model.ComputeHasBreakingChanges(schemas),
	}
}

func diffSchemas(persisted, fresh []model.CatalogSchema) []model.SchemaDrift {
	freshByName := indexSchemas(fresh)
	persistedByName := indexSchemas(persisted)

	var out []model.SchemaDrift
	for name, p := range persistedByName {
		f, ok := freshByName[name]
		if !ok {
			out = append(out, model.SchemaDrift{
				SchemaName: name,
				Status:     model.DriftDeleted,
				Tables:     diffTables(p.Tables, nil),
			})
			continue
		}
		tables := diffTables(p.Tables, f.Tables)
		out = append(out, model.SchemaDrift{
			SchemaName: name,
			Status:     schemaStatus(tables),
			Tables:     tables,
		})
	}
	for name, f := range freshByName {
		if _, ok := persistedByName[name]; ok {
			continue
		}
		out = append(out, model.SchemaDrift{
			SchemaName: name,
			Status:     model.DriftNew,
			Tables:     diffTables(nil, f.Tables),
		})
	}
	return out
}

func schemaStatus(tables []model.TableDrift) model.DriftStatus {
	for _, t := range tables {
		if t.Status != model.DriftUnchanged {
			return model.DriftModified
		}
	}
	return model.DriftUnchanged
}

func diffTables(persisted, fresh []model.CatalogTable) []model.TableDrift {
	freshByName := indexTables(fresh)
	persistedByName := indexTables(persisted)

	var out []model.TableDrift
	for name, p := range persistedByName {
		f, ok := freshByName[name]
		if !ok {
			out = append(out, model.TableDrift{
				TableName: name,
				Status:    model.DriftDeleted,
				Columns:   diffColumns(p.Columns, nil),
			})
			continue
		}
		cols := diffColumns(p.Columns, f.Columns)
		out = append(out, model.TableDrift{
			TableName: name,
			Status:    tableStatus(cols),
			Columns:   cols,
		})
	}
	for name, f := range freshByName {
		if _, ok := persistedByName[name]; ok {
			continue
		}
		out = append(out, model.TableDrift{
			TableName: name,
			Status:    model.DriftNew,
			Columns:   diffColumns(nil, f.Columns),
		})
	}
	return out
}

func tableStatus(cols []model.ColumnDrift) model.DriftStatus {
	for _, c := range cols {
		if c.Status != model.DriftUnchanged {
			return model.DriftModified
		}
	}
	return model.DriftUnchanged
}

func diffColumns(persisted, fresh []model.DiscoveredColumn) []model.ColumnDrift {
	freshByName := indexColumns(fresh)
	persistedByName := indexColumns(persisted)

	var out []model.ColumnDrift
	for name, p := range persistedByName {
		f, ok := freshByName[name]
		if !ok {
			out = append(out, model.ColumnDrift{ColumnName: name, Status: model.DriftDeleted})
			continue
		}
		if arrowTypeChanged(p.ArrowType, f.ArrowType) {
			out = append(out, model.ColumnDrift{
				ColumnName: name,
				Status:     model.DriftModified,
				Changes:    changesFor(p.ArrowType, f.ArrowType),
			})
			continue
		}
		out = append(out, model.ColumnDrift{ColumnName: name, Status: model.DriftUnchanged})
	}
	for name := range freshByName {
		if _, ok := persistedByName[name]; ok {
			continue
		}
		out = append(out, model.ColumnDrift{ColumnName: name, Status: model.DriftNew})
	}
	return out
}

func arrowTypeChanged(oldType, newType *string) bool {
	switch {
	case oldType == nil && newType == nil:
		return false
	case oldType == nil || newType == nil:
		return true
	default:
		return *oldType != *newType
	}
}

func changesFor(oldType, newType *string) *model.ColumnChanges {
	c := &model.ColumnChanges{}
	if oldType != nil {
		c.OldType = nullable.NewNullableWithValue(*oldType)
	} else {
		c.OldType = nullable.NewNullNullable[string]()
	}
	if newType != nil {
		c.NewType = nullable.NewNullableWithValue(*newType)
	} else {
		c.NewType = nullable.NewNullNullable[string]()
	}
	return c
}

func indexSchemas(s []model.CatalogSchema) map[string]model.CatalogSchema {
	m := make(map[string]model.CatalogSchema, len(s))
	for _, sc := range s {
		m[sc.Schema.SchemaName] = sc
	}
	return m
}

func indexTables(t []model.CatalogTable) map[string]model.CatalogTable {
	m := make(map[string]model.CatalogTable, len(t))
	for _, tbl := range t {
		m[tbl.Table.TableName] = tbl
	}
	return m
}

func indexColumns(c []model.DiscoveredColumn) map[string]model.DiscoveredColumn {
	m := make(map[string]model.DiscoveredColumn, len(c))
	for _, col := range c {
		m[col.ColumnName] = col
	}
	return m
}
