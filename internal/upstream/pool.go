// SPDX-License-Identifier: Apache-2.0

// Package upstream manages the lazy, multi-owner connection pool to a
// datasource's upstream Postgres. The pool carries connection parameters
// only, never a client's identity: identity and tenant filtering are
// enforced entirely at the hook layer (internal/hooks) and access guard
// (internal/accessguard), so any authorized session for a datasource may
// lease any connection from that datasource's pool.
package upstream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"

	"github.com/pgfedproxy/pgfedproxy/internal/connstr"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second
)

// Params carries everything needed to dial a datasource's upstream. It is
// built from DataSource.PublicConfig plus the decrypted secret config; it
// never contains a client identity.
type Params struct {
	DSN string
}

// WithSearchPath returns connStr with search_path pinned to schema.
func WithSearchPath(connStr, schema string) (string, error) {
	return connstr.AppendSearchPathOption(connStr, schema)
}

// Pool is a lazy handle to a datasource's upstream connections. It is
// cheap to clone (it is a pointer plus the params it was built from);
// Open() is only called the first time a query references a real,
// non-system table, never for catalog-only queries.
type Pool struct {
	params Params

	mu   sync.Mutex
	pool *sql.DB
}

// New returns a Pool bound to params. No network connection is made yet.
func New(params Params) *Pool {
	return &Pool{params: params}
}

// Params returns the connection parameters this pool was constructed from.
func (p *Pool) Params() Params {
	return p.params
}

// Open lazily dials the upstream on first use and returns the shared
// *sql.DB. Subsequent calls return the same handle without reconnecting.
func (p *Pool) Open(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pool != nil {
		return p.pool, nil
	}

	conn, err := sql.Open("postgres", p.params.DSN)
	if err != nil {
		return nil, fmt.Errorf("upstream: opening pool: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("upstream: pinging upstream: %w", err)
	}

	p.pool = conn
	return p.pool, nil
}

// IsWarm reports whether Open has already established the upstream
// connection pool, without triggering a dial.
func (p *Pool) IsWarm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool != nil
}

// Close tears down the pool, if it was ever opened.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pool == nil {
		return nil
	}
	err := p.pool.Close()
	p.pool = nil
	return err
}

// ExecContext executes a statement against the upstream, retrying on
// lock_timeout errors with jittered backoff, exactly as pgroll's db.RDB
// does against the admin-owned connection.
func (p *Pool) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := p.Open(ctx)
	if err != nil {
		return nil, err
	}
	return retryOnLockTimeout(ctx, func() (sql.Result, error) {
		return conn.ExecContext(ctx, query, args...)
	})
}

// QueryContext runs a read query against the upstream, retrying on
// lock_timeout errors.
func (p *Pool) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := p.Open(ctx)
	if err != nil {
		return nil, err
	}
	return retryOnLockTimeout(ctx, func() (*sql.Rows, error) {
		return conn.QueryContext(ctx, query, args...)
	})
}

func retryOnLockTimeout[T any](ctx context.Context, f func() (T, error)) (T, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		res, err := f()
		if err == nil {
			return res, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(b.Duration()):
				continue
			}
		}

		return res, err
	}
}
