// SPDX-License-Identifier: Apache-2.0

package discovery_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pgfedproxy/pgfedproxy/internal/discovery"
	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/upstream"
)

// testConnStr holds the connection string to the shared container started in
// TestMain, following the same shared-container-per-package shape as
// pkg/testutils.SharedTestMain in the reference migration tool.
var testConnStr string

func TestMain(m *testing.M) {
	ctx := context.Background()

	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(30 * time.Second)

	ctr, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15.3"),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
	if err != nil {
		// No Docker available in this environment; tests that need
		// testConnStr skip themselves rather than failing the package.
		os.Exit(m.Run())
		return
	}

	testConnStr, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Printf("discovery integration: connection string: %v", err)
	}

	code := m.Run()

	if err := ctr.Terminate(ctx); err != nil {
		log.Printf("discovery integration: terminating container: %v", err)
	}
	os.Exit(code)
}

func TestDiscoveryAgainstRealPostgres(t *testing.T) {
	if testConnStr == "" {
		t.Skip("no test postgres container available")
	}

	ctx := context.Background()
	db, err := sql.Open("postgres", testConnStr)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.ExecContext(ctx, `
		CREATE SCHEMA IF NOT EXISTS billing;
		CREATE TABLE IF NOT EXISTS billing.invoices (
			id BIGINT PRIMARY KEY,
			amount NUMERIC NOT NULL,
			memo JSONB
		);
		CREATE VIEW billing.open_invoices AS SELECT * FROM billing.invoices;
	`)
	require.NoError(t, err)

	pool := upstream.New(upstream.Params{DSN: testConnStr})
	defer pool.Close()

	provider := discovery.New(db, engine.NewSchemaResolver(pool))

	schemas, err := provider.DiscoverSchemas(ctx)
	require.NoError(t, err)
	require.Contains(t, schemas, "billing")

	tables, err := provider.DiscoverTables(ctx, []string{"billing"})
	require.NoError(t, err)
	names := map[string]bool{}
	for _, tbl := range tables["billing"] {
		names[tbl.TableName] = true
	}
	require.True(t, names["invoices"])
	require.True(t, names["open_invoices"])

	cols, err := provider.DiscoverColumns(ctx, "billing", "invoices")
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, c := range cols {
		byName[c.ColumnName] = c.ArrowType != nil
	}
	require.True(t, byName["id"], "id should resolve to an Arrow type")
	require.True(t, byName["amount"], "amount should resolve to an Arrow type")
	require.False(t, byName["memo"], "jsonb has no Arrow representation")
}
