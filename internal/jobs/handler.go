// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgfedproxy/pgfedproxy/internal/catalogstore"
	"github.com/pgfedproxy/pgfedproxy/internal/discovery"
	"github.com/pgfedproxy/pgfedproxy/internal/enginecache"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// DiscoverySource resolves a datasource's name and its ready-to-query
// discovery provider, bridging jobs to internal/discovery without this
// package importing internal/upstream directly.
type DiscoverySource interface {
	NameFor(dataSourceID uuid.UUID) (string, error)
	ProviderFor(ctx context.Context, dataSourceID uuid.UUID) (*discovery.Provider, error)
}

// SaveCatalogPayload is the parsed body of a save_catalog job.
type SaveCatalogPayload struct {
	Schemas []model.CatalogSchema
}

// DiscoverTablesPayload is the parsed body of a discover_tables job.
type DiscoverTablesPayload struct {
	Schemas []string
}

// DiscoverColumnsPayload is the parsed body of a discover_columns job.
type DiscoverColumnsPayload struct {
	Tables []struct{ Schema, Table string }
}

// CatalogHandler implements Handler, dispatching each job action to the
// catalog store, discovery provider, and engine cache.
type CatalogHandler struct {
	Store  *catalogstore.Store
	Source DiscoverySource
	Cache  *enginecache.Cache
}

func (h *CatalogHandler) Run(ctx context.Context, j *Job, payload any) (any, error) {
	switch j.Action {
	case ActionDiscoverSchemas:
		return h.discoverSchemas(ctx, j)
	case ActionDiscoverTables:
		p, ok := payload.(DiscoverTablesPayload)
		if !ok {
			return nil, fmt.Errorf("jobs: discover_tables payload has wrong type")
		}
		return h.discoverTables(ctx, j, p)
	case ActionDiscoverColumns:
		p, ok := payload.(DiscoverColumnsPayload)
		if !ok {
			return nil, fmt.Errorf("jobs: discover_columns payload has wrong type")
		}
		return h.discoverColumns(ctx, j, p)
	case ActionSaveCatalog:
		p, ok := payload.(SaveCatalogPayload)
		if !ok {
			return nil, fmt.Errorf("jobs: save_catalog payload has wrong type")
		}
		return h.saveCatalog(ctx, j, p)
	case ActionSyncCatalog:
		return h.syncCatalog(ctx, j)
	default:
		return nil, fmt.Errorf("jobs: unknown action %q", j.Action)
	}
}

func (h *CatalogHandler) discoverSchemas(ctx context.Context, j *Job) (any, error) {
	j.progress("connecting", "dialing upstream")
	provider, err := h.Source.ProviderFor(ctx, j.DataSourceID)
	if err != nil {
		return nil, err
	}
	j.progress("listing_schemas", "querying information_schema.schemata")
	return provider.DiscoverSchemas(ctx)
}

func (h *CatalogHandler) discoverTables(ctx context.Context, j *Job, p DiscoverTablesPayload) (any, error) {
	j.progress("connecting", "dialing upstream")
	provider, err := h.Source.ProviderFor(ctx, j.DataSourceID)
	if err != nil {
		return nil, err
	}
	j.progress("listing_tables", "querying information_schema.tables")
	return provider.DiscoverTables(ctx, p.Schemas)
}

func (h *CatalogHandler) discoverColumns(ctx context.Context, j *Job, p DiscoverColumnsPayload) (any, error) {
	j.progress("connecting", "dialing upstream")
	provider, err := h.Source.ProviderFor(ctx, j.DataSourceID)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]model.DiscoveredColumn, len(p.Tables))
	for _, t := range p.Tables {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		j.progress("listing_columns", fmt.Sprintf("%s.%s", t.Schema, t.Table))
		cols, err := provider.DiscoverColumns(ctx, t.Schema, t.Table)
		if err != nil {
			return nil, err
		}
		out[t.Schema+"."+t.Table] = cols
	}
	return out, nil
}

// saveCatalog transactionally upserts the submitted selections, then
// invalidates only the engine context for this datasource — never the
// pool (spec.md §4.5).
func (h *CatalogHandler) saveCatalog(ctx context.Context, j *Job, p SaveCatalogPayload) (any, error) {
	name, err := h.Source.NameFor(j.DataSourceID)
	if err != nil {
		return nil, err
	}

	j.progress("persisting", "upserting selections")
	if err := h.Store.SaveCatalog(ctx, j.DataSourceID, name, p.Schemas); err != nil {
		return nil, err
	}

	h.Cache.Invalidate(name)
	return struct{}{}, nil
}

// syncCatalog re-discovers the upstream, diffs it against the persisted
// catalog, and returns the drift report without mutating anything.
func (h *CatalogHandler) syncCatalog(ctx context.Context, j *Job) (any, error) {
	j.progress("loading_persisted", "reading stored catalog")
	persisted, err := h.Store.Load(ctx, j.DataSourceID)
	if err != nil {
		return nil, err
	}

	j.progress("connecting", "dialing upstream")
	provider, err := h.Source.ProviderFor(ctx, j.DataSourceID)
	if err != nil {
		return nil, err
	}

	j.progress("discovering", "re-crawling upstream schema")
	fresh, err := rediscoverAll(ctx, j, provider, persisted)
	if err != nil {
		return nil, err
	}

	return catalogstore.ComputeDrift(persisted, fresh), nil
}

// rediscoverAll re-runs discovery over every schema and table the live
// upstream lists, whether or not it was persisted; the persisted catalog
// only supplies the datasource ID of the fresh catalog.
func rediscoverAll(ctx context.Context, j *Job, provider *discovery.Provider, persisted model.Catalog) (model.Catalog, error) {
	liveSchemas, err := provider.DiscoverSchemas(ctx)
	if err != nil {
		return model.Catalog{}, err
	}

	liveTablesBySchema, err := provider.DiscoverTables(ctx, liveSchemas)
	if err != nil {
		return model.Catalog{}, err
	}

	fresh := model.Catalog{DataSourceID: persisted.DataSourceID}
	for _, schemaName := range liveSchemas {
		if ctx.Err() != nil {
			return model.Catalog{}, ctx.Err()
		}
		tables := liveTablesBySchema[schemaName]
		var catalogTables []model.CatalogTable
		for _, t := range tables {
			j.progress("discovering_columns", fmt.Sprintf("%s.%s", schemaName, t.TableName))
			cols, err := provider.DiscoverColumns(ctx, schemaName, t.TableName)
			if err != nil {
				return model.Catalog{}, err
			}
			catalogTables = append(catalogTables, model.CatalogTable{Table: t, Columns: cols})
		}
		fresh.Schemas = append(fresh.Schemas, model.CatalogSchema{
			Schema: model.DiscoveredSchema{SchemaName: schemaName, IsSelected: true},
			Tables: catalogTables,
		})
	}
	return fresh, nil
}
