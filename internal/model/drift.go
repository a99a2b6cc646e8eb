// SPDX-License-Identifier: Apache-2.0

package model

import "github.com/oapi-codegen/nullable"

// DriftStatus classifies one catalog entity against a fresh discovery.
type DriftStatus string

const (
	DriftUnchanged DriftStatus = "unchanged"
	DriftNew       DriftStatus = "new"
	DriftDeleted   DriftStatus = "deleted"
	DriftModified  DriftStatus = "modified"
)

// ColumnChanges carries the old/new Arrow type for a modified column. Both
// fields are nullable.Nullable rather than *string so the JSON encoding
// matches spec.md §6's `{old_type?,new_type?}` shape exactly: a field that
// was never set is omitted, one explicitly absent serializes as null.
type ColumnChanges struct {
	OldType nullable.Nullable[string] `json:"old_type,omitempty"`
	NewType nullable.Nullable[string] `json:"new_type,omitempty"`
}

// ColumnDrift reports the drift status of a single column.
type ColumnDrift struct {
	ColumnName string         `json:"column_name"`
	Status     DriftStatus    `json:"status"`
	Changes    *ColumnChanges `json:"changes,omitempty"`
}

// TableDrift reports the drift status of a table and its columns.
type TableDrift struct {
	TableName string        `json:"table_name"`
	Status    DriftStatus   `json:"status"`
	Columns   []ColumnDrift `json:"columns"`
}

// SchemaDrift reports the drift status of a schema and its tables.
type SchemaDrift struct {
	SchemaName string       `json:"schema_name"`
	Status     DriftStatus  `json:"status"`
	Tables     []TableDrift `json:"tables"`
}

// DriftReport is the full output of sync_catalog: a comparison between the
// persisted catalog and a fresh discovery of the upstream. It never mutates
// the catalog; an admin decides what, if anything, to do about it.
type DriftReport struct {
	Schemas            []SchemaDrift `json:"schemas"`
	HasBreakingChanges bool          `json:"has_breaking_changes"`
}

// ComputeHasBreakingChanges is true if any persisted entity is deleted or
// modified. Purely additive (new-only) changes are never breaking. A
// schema's or table's "modified" status only summarizes its children, so
// at those levels only "deleted" counts; the children decide the rest.
func ComputeHasBreakingChanges(schemas []SchemaDrift) bool {
	for _, s := range schemas {
		if s.Status == DriftDeleted {
			return true
		}
		for _, t := range s.Tables {
			if t.Status == DriftDeleted {
				return true
			}
			for _, c := range t.Columns {
				if c.Status == DriftDeleted || c.Status == DriftModified {
					return true
				}
			}
		}
	}
	return false
}
