// SPDX-License-Identifier: Apache-2.0

package enginecache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/enginecache"
	"github.com/pgfedproxy/pgfedproxy/internal/upstream"
)

// fakeLoader counts calls so tests can assert exactly when the catalog or
// pool params are (re)loaded.
type fakeLoader struct {
	tables        []engine.Table
	poolParamsDSN string
	loadCalls     int
	poolCalls     int
}

func (f *fakeLoader) LoadTables(_ context.Context, _ string) ([]engine.Table, error) {
	f.loadCalls++
	return f.tables, nil
}

func (f *fakeLoader) LoadPoolParams(_ context.Context, _ string) (upstream.Params, error) {
	f.poolCalls++
	return upstream.Params{DSN: f.poolParamsDSN}, nil
}

func TestGetContextBuildsOnceAndCaches(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{poolParamsDSN: "postgres://warehouse"}
	cache := enginecache.New(loader)

	ec1, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)
	ec2, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)

	assert.Same(t, ec1, ec2)
	assert.Equal(t, 1, loader.loadCalls)
	assert.Equal(t, 1, loader.poolCalls)
}

func TestInvalidateDropsContextButKeepsPool(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{poolParamsDSN: "postgres://warehouse"}
	cache := enginecache.New(loader)

	ec1, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)
	pool1 := ec1.Pool

	cache.Invalidate("warehouse")

	ec2, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)

	assert.NotSame(t, ec1, ec2, "invalidate must rebuild the context")
	assert.Same(t, pool1, ec2.Pool, "invalidate must not rebuild the pool")
	// Pool params were only loaded once, across both GetContext calls: the
	// cached pool entry was reused for the second build.
	assert.Equal(t, 1, loader.poolCalls)
	assert.Equal(t, 2, loader.loadCalls)
}

func TestInvalidateAllDropsContextAndPool(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{poolParamsDSN: "postgres://warehouse"}
	cache := enginecache.New(loader)

	ec1, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)
	pool1 := ec1.Pool

	cache.InvalidateAll("warehouse")

	ec2, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)

	assert.NotSame(t, ec1, ec2)
	assert.NotSame(t, pool1, ec2.Pool, "invalidate_all must rebuild the pool too")
	assert.Equal(t, 2, loader.poolCalls)
}

func TestGetContextDoesNotWarmThePool(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{poolParamsDSN: ""}
	cache := enginecache.New(loader)

	ec, err := cache.GetContext(context.Background(), "warehouse")
	require.NoError(t, err)
	assert.False(t, ec.Pool.IsWarm())
}

func TestDifferentDataSourcesGetIndependentEntries(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{poolParamsDSN: "postgres://x"}
	cache := enginecache.New(loader)

	a, err := cache.GetContext(context.Background(), "a")
	require.NoError(t, err)
	b, err := cache.GetContext(context.Background(), "b")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.NotSame(t, a.Pool, b.Pool)

	cache.Invalidate("a")

	a2, err := cache.GetContext(context.Background(), "a")
	require.NoError(t, err)
	b2, err := cache.GetContext(context.Background(), "b")
	require.NoError(t, err)

	assert.NotSame(t, a, a2)
	assert.Same(t, b, b2, "invalidating a must not disturb b's cached context")
}
