// SPDX-License-Identifier: Apache-2.0

// Package enginecache memoizes per-datasource engine contexts and
// connection pools, with the two-level invalidation semantics spec.md
// §4.1 requires: invalidate drops only the context (the pool survives a
// catalog edit), invalidate_all drops both (a credential rotation or
// datasource deletion must not leave stale upstream connections). These
// two operations must never be interchanged.
package enginecache

import (
	"context"
	"fmt"
	"sync"

	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/upstream"
)

// CatalogLoader loads the persisted, selected catalog for a datasource and
// builds the engine's virtual-catalog table list and upstream pool
// parameters. It is the seam the catalog store and crypto envelope are
// wired in through, so this package stays free of storage/crypto imports.
type CatalogLoader interface {
	LoadTables(ctx context.Context, dataSourceName string) ([]engine.Table, error)
	LoadPoolParams(ctx context.Context, dataSourceName string) (upstream.Params, error)
}

// Cache holds one EngineContext and one Pool per datasource name, guarded
// by a single mutex. Lookups are O(1); the mutex is held only across
// in-memory map operations, never across I/O — entries are clone-cheap
// handles that escape the lock once returned.
type Cache struct {
	loader CatalogLoader

	mu       sync.Mutex
	contexts map[string]*engine.Context
	pools    map[string]*upstream.Pool
}

// New builds an empty cache backed by loader.
func New(loader CatalogLoader) *Cache {
	return &Cache{
		loader:   loader,
		contexts: make(map[string]*engine.Context),
		pools:    make(map[string]*upstream.Pool),
	}
}

// GetContext returns the cached EngineContext for name, building one (and
// its pool handle, if not already present) on first access. Building the
// context never dials the upstream: pool construction happens lazily on
// first real-table query (internal/upstream.Pool.Open).
func (c *Cache) GetContext(ctx context.Context, name string) (*engine.Context, error) {
	c.mu.Lock()
	if ec, ok := c.contexts[name]; ok {
		c.mu.Unlock()
		return ec, nil
	}
	pool, havePool := c.pools[name]
	c.mu.Unlock()

	if !havePool {
		params, err := c.loader.LoadPoolParams(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("enginecache: loading pool params for %q: %w", name, err)
		}
		pool = upstream.New(params)
	}

	tables, err := c.loader.LoadTables(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("enginecache: loading catalog for %q: %w", name, err)
	}

	ec := engine.NewContext(name, engine.NewVirtualCatalog(tables), pool)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have raced us to build the same entries; the
	// map write is idempotent either way, so last-writer-wins is fine —
	// both builds observed the same persisted state.
	c.contexts[name] = ec
	c.pools[name] = pool
	return ec, nil
}

// Invalidate drops the context entry for name only. The pool, if any, is
// retained. Call this after a catalog edit (save_catalog): connection
// parameters are unchanged, only the visible schema is.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, name)
}

// InvalidateAll drops both the context and the pool for name. Call this
// after a datasource's connection parameters change, or the datasource is
// deleted. The dropped pool is neither closed nor returned: other
// in-flight sessions may still hold a clone of it, and its connections
// stay open until those holders let it go
// (see spec.md §9's open question on save_catalog racing long queries).
func (c *Cache) InvalidateAll(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.contexts, name)
	delete(c.pools, name)
}

// Warm triggers GetContext followed by an eager pool dial, for the
// post-auth background warm-up task (spec.md §4.4).
func (c *Cache) Warm(ctx context.Context, name string) error {
	ec, err := c.GetContext(ctx, name)
	if err != nil {
		return err
	}
	if _, err := ec.Pool.Open(ctx); err != nil {
		return fmt.Errorf("enginecache: warming pool for %q: %w", name, err)
	}
	return nil
}
