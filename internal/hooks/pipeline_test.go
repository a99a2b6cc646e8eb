// SPDX-License-Identifier: Apache-2.0

package hooks_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
)

func run(t *testing.T, sql string) (string, error) {
	t.Helper()
	p := hooks.NewPipeline()
	return p.Run(context.Background(), hooks.Session{Username: "alice", Tenant: "acme"}, sql)
}

func TestReadOnlyGateRejectsWriteStatements(t *testing.T) {
	t.Parallel()

	cases := []string{
		"DELETE FROM orders",
		"INSERT INTO orders (id) VALUES (1)",
		"UPDATE orders SET total = 1",
		"DROP TABLE orders",
		"CREATE TABLE orders (id int)",
	}

	for _, sql := range cases {
		t.Run(sql, func(t *testing.T) {
			t.Parallel()
			_, err := run(t, sql)
			require.Error(t, err)
			var violation *hooks.ReadOnlyViolation
			assert.ErrorAs(t, err, &violation)
		})
	}
}

func TestReadOnlyGateAcceptsReadShapes(t *testing.T) {
	t.Parallel()

	cases := []string{
		"SELECT 1",
		"SELECT id FROM public.orders",
		"SHOW search_path",
		"EXPLAIN SELECT id FROM public.orders",
	}

	for _, sql := range cases {
		t.Run(sql, func(t *testing.T) {
			t.Parallel()
			_, err := run(t, sql)
			require.NoError(t, err)
		})
	}
}

func TestRLSInjectsTenantFilterOnOrdinaryTable(t *testing.T) {
	t.Parallel()

	out, err := run(t, "SELECT id FROM public.orders")
	require.NoError(t, err)
	assert.Contains(t, out, `tenant = 'acme'`)
	assert.Contains(t, out, `orders`)
}

func TestRLSExemptsQualifiedSystemSchema(t *testing.T) {
	t.Parallel()

	out, err := run(t, "SELECT relname FROM pg_catalog.pg_class LIMIT 1")
	require.NoError(t, err)
	assert.NotContains(t, out, "tenant =")
}

func TestRLSDoesNotExemptUnqualifiedSystemLookingTable(t *testing.T) {
	t.Parallel()

	// FROM pg_class (unqualified) must NOT be exempt, even though a table
	// of that name happens to live in a system schema on a real upstream.
	out, err := run(t, "SELECT relname FROM pg_class LIMIT 1")
	require.NoError(t, err)
	assert.Contains(t, out, "tenant =")
}

func TestRLSStringLiteralDoesNotExempt(t *testing.T) {
	t.Parallel()

	// A string literal matching a system schema name must not exempt the
	// query; exemption is purely syntactic (schema-qualification), never
	// decided by inspecting literal values.
	out, err := run(t, "SELECT id FROM public.orders WHERE name = 'pg_catalog'")
	require.NoError(t, err)
	assert.Contains(t, out, "tenant =")
}

func TestRLSAppliesBelowUnionArms(t *testing.T) {
	t.Parallel()

	out, err := run(t, "SELECT id FROM public.orders UNION SELECT id FROM public.returns")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "tenant ="))
}

func TestRLSAppliesInsideCTE(t *testing.T) {
	t.Parallel()

	out, err := run(t, "WITH recent AS (SELECT id FROM public.orders) SELECT id FROM recent")
	require.NoError(t, err)
	assert.Contains(t, out, "tenant =")
}

func TestRLSAppliesToBothJoinSides(t *testing.T) {
	t.Parallel()

	out, err := run(t, "SELECT o.id FROM public.orders o JOIN public.customers c ON o.customer_id = c.id")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "tenant ="))
}

func TestStatementsCountsTopLevelStatements(t *testing.T) {
	t.Parallel()

	n, err := hooks.Statements("SELECT 1; SELECT 2;")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPipelineRejectsUnparsableSQL(t *testing.T) {
	t.Parallel()

	_, err := run(t, "SELEC 1 FROM")
	require.Error(t, err)
	assert.ErrorIs(t, err, hooks.ErrParse)
}
