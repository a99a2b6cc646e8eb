// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"encoding/hex"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgfedproxy/pgfedproxy/internal/accessguard"
	"github.com/pgfedproxy/pgfedproxy/internal/adminapi"
	"github.com/pgfedproxy/pgfedproxy/internal/adminstore"
	"github.com/pgfedproxy/pgfedproxy/internal/catalogstore"
	"github.com/pgfedproxy/pgfedproxy/internal/crypto"
	"github.com/pgfedproxy/pgfedproxy/internal/enginecache"
	"github.com/pgfedproxy/pgfedproxy/internal/jobs"
	"github.com/pgfedproxy/pgfedproxy/internal/jsonschema"
	"github.com/pgfedproxy/pgfedproxy/internal/logging"
	"github.com/pgfedproxy/pgfedproxy/internal/wire"
)

const defaultShutdownGracePeriod = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Postgres wire proxy and its admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parentCtx context.Context) error {
	log := logging.New()

	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adminDB, err := sql.Open("postgres", viper.GetString("ADMIN_DATABASE_URL"))
	if err != nil {
		return err
	}
	defer adminDB.Close()

	envelope, err := buildEnvelope(log)
	if err != nil {
		return err
	}

	admin := adminstore.New(adminDB, envelope)
	if err := admin.Init(ctx); err != nil {
		return err
	}

	catalog := catalogstore.New(adminDB)
	if err := catalog.Init(ctx); err != nil {
		return err
	}

	if username := viper.GetString("INITIAL_ADMIN_USERNAME"); username != "" {
		if err := admin.EnsureAdminUser(ctx, username, viper.GetString("INITIAL_ADMIN_PASSWORD_HASH")); err != nil {
			return err
		}
	}

	guard := accessguard.New(admin)
	tableLoader := &adminstore.TableLoader{Admin: admin, Catalog: catalog}
	cache := enginecache.New(tableLoader)

	proxy := wire.New(admin, guard, cache, log.With("component", "wire"))

	discoverySource := &adminstore.DiscoverySource{Admin: admin}
	runner := jobs.New(&jobs.CatalogHandler{Store: catalog, Source: discoverySource, Cache: cache})

	validator, err := jsonschema.Compile("schema.json")
	if err != nil {
		log.Warn("admin job submit bodies will not be schema-validated", "error", err)
	}
	adminServer := &adminapi.Server{
		Runner:    runner,
		Catalog:   catalog,
		Validator: validator,
		Log:       log.With("component", "adminapi"),
	}
	httpServer := &http.Server{Addr: viper.GetString("ADMIN_ADDR"), Handler: adminServer}

	errs := make(chan error, 2)
	go func() {
		errs <- proxy.ListenAndServe(ctx, viper.GetString("PROXY_ADDR"))
	}()
	go func() {
		log.Info("admin API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
			return
		}
		errs <- nil
	}()

	select {
	case err := <-errs:
		stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("SHUTDOWN_GRACE_PERIOD"))
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	return nil
}

// buildEnvelope reads the hex-encoded encryption key from configuration,
// or generates a random one and warns that secrets sealed under it will not
// survive a restart.
func buildEnvelope(log logging.Logger) (*crypto.Envelope, error) {
	hexKey := viper.GetString("ENCRYPTION_KEY")
	if hexKey == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		log.Warn("no encryption key configured; generated an ephemeral one",
			"hex", hex.EncodeToString(key[:]))
		return crypto.NewEnvelope(key)
	}

	key, err := crypto.ParseKeyHex(hexKey)
	if err != nil {
		return nil, err
	}
	return crypto.NewEnvelope(key)
}
