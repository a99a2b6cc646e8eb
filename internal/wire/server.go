// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgfedproxy/pgfedproxy/internal/accessguard"
	"github.com/pgfedproxy/pgfedproxy/internal/enginecache"
	"github.com/pgfedproxy/pgfedproxy/internal/logging"
)

// Server accepts Postgres wire connections and runs each through the
// startup handshake, access guard, and query loop on its own goroutine.
type Server struct {
	Users UserStore
	Guard *accessguard.Guard
	Cache *enginecache.Cache
	Log   logging.Logger
}

// New builds a Server. users, guard and cache are required: a nil Cache or
// Guard would let an authenticated connection reach a query with no
// allowlist or catalog behind it. A nil log is replaced by a no-op logger.
func New(users UserStore, guard *accessguard.Guard, cache *enginecache.Cache, log logging.Logger) *Server {
	if log == nil {
		log = logging.NewNoop()
	}
	return &Server{Users: users, Guard: guard, Cache: cache, Log: log}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("wire: listening on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	srv.Log.Info("accepting connections", "addr", addr)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wire: accepting connection: %w", err)
		}
		go srv.handleConn(ctx, conn)
	}
}

// handleConn drives one connection end to end: startup, auth, access
// check, warm-up, query loop. Every error is logged and terminates only
// this connection.
func (srv *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	backend := pgproto3.NewBackend(conn, conn)

	sess, err := negotiate(ctx, backend, srv.Users, srv.Guard, srv.Cache, srv.Log)
	if err != nil {
		srv.Log.Warn("startup handshake failed", "remote", conn.RemoteAddr(), "error", err)
		_ = backend.Send(toFatalResponse(err))
		_ = backend.Flush()
		return
	}

	if err := sess.acknowledge(); err != nil {
		srv.Log.Warn("failed to acknowledge startup", "error", err)
		return
	}

	// Warm the pool in the background so the connection's first real query
	// does not pay upstream dial latency; a query issued before warm-up
	// finishes simply dials inline via engine.Context.Query (spec.md §4.4).
	go func() {
		if err := srv.Cache.Warm(context.Background(), sess.DataSource.Name); err != nil {
			srv.Log.Warn("background pool warm-up failed", "datasource", sess.DataSource.Name, "error", err)
		}
	}()

	if err := sess.serve(ctx); err != nil {
		srv.Log.Debug("connection closed", "user", sess.User.Username, "error", err)
	}
}
