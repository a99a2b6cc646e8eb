// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgfedproxy/pgfedproxy/internal/accessguard"
	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/enginecache"
	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
	"github.com/pgfedproxy/pgfedproxy/internal/logging"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// Session is the full per-connection state, from the startup handshake
// through to the bound engine context. It exists for the lifetime of one
// TCP connection and is never shared across connections, matching the
// per-connection Engine the reference Postgres proxy builds (teleport's
// lib/srv/db/postgres).
type Session struct {
	Backend *pgproto3.Backend

	User       model.User
	DataSource model.DataSource
	hookSess   hooks.Session

	engineCache *enginecache.Cache
	log         logging.Logger

	// preparedStatements and portals hold the extended-query-protocol
	// state scoped to this connection, keyed by client-chosen name. An
	// empty name is the unnamed statement/portal, overwritten on reuse
	// per the wire protocol's own rules.
	preparedStatements map[string]preparedStatement
	portals            map[string]portal
}

type preparedStatement struct {
	Query         string
	ParameterOIDs []uint32
}

type portal struct {
	Statement            string
	ParameterFormatCodes []int16
	Parameters           [][]byte
}

// negotiate runs the startup handshake: read the startup message, resolve
// username/database parameters, authenticate, then authorize the
// (user, datasource) pair via guard before any engine context is
// requested. Every failure here sends a FATAL ErrorResponse and returns an
// error that must close the connection without ever calling
// EngineCache.GetContext.
func negotiate(
	ctx context.Context,
	backend *pgproto3.Backend,
	users UserStore,
	guard *accessguard.Guard,
	cache *enginecache.Cache,
	log logging.Logger,
) (*Session, error) {
	startupMsg, err := backend.ReceiveStartupMessage()
	if err != nil {
		return nil, fmt.Errorf("wire: receiving startup message: %w", err)
	}

	startup, ok := startupMsg.(*pgproto3.StartupMessage)
	if !ok {
		return nil, fmt.Errorf("wire: unsupported startup message type %T", startupMsg)
	}

	username := startup.Parameters["user"]
	dbName := startup.Parameters["database"]
	if dbName == "" {
		dbName = username
	}
	if username == "" {
		return nil, fmt.Errorf("wire: startup message has no user parameter")
	}

	user, err := negotiateAuth(ctx, backend, users, username)
	if err != nil {
		return nil, err
	}

	ds, err := guard.Authorize(ctx, user, dbName)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		Backend:    backend,
		User:       user,
		DataSource: ds,
		hookSess:   hooks.Session{Username: user.Username, Tenant: user.Tenant},

		engineCache: cache,
		log:         log.With("user", user.Username, "datasource", ds.Name),

		preparedStatements: make(map[string]preparedStatement),
		portals:            make(map[string]portal),
	}
	return sess, nil
}

// acknowledge completes the startup handshake, per the fixed message order
// every Postgres server sends before ReadyForQuery.
func (s *Session) acknowledge() error {
	if err := s.Backend.Send(&pgproto3.AuthenticationOk{}); err != nil {
		return fmt.Errorf("wire: sending AuthenticationOk: %w", err)
	}
	if err := s.Backend.Send(&pgproto3.ParameterStatus{Name: "server_version", Value: "15.0"}); err != nil {
		return fmt.Errorf("wire: sending ParameterStatus: %w", err)
	}
	if err := s.Backend.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"}); err != nil {
		return fmt.Errorf("wire: sending ParameterStatus: %w", err)
	}
	if err := s.Backend.Send(&pgproto3.BackendKeyData{ProcessID: 0, SecretKey: 0}); err != nil {
		return fmt.Errorf("wire: sending BackendKeyData: %w", err)
	}
	if err := s.Backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'}); err != nil {
		return fmt.Errorf("wire: sending ReadyForQuery: %w", err)
	}
	return s.Backend.Flush()
}

// engineContext resolves this session's engine context from the cache,
// lazily building it (but never eagerly dialing the upstream) on first
// use. The background warm-up task in server.go independently triggers
// the pool dial so the first real query does not pay connection latency.
func (s *Session) engineContext(ctx context.Context) (*engine.Context, error) {
	ec, err := s.engineCache.GetContext(ctx, s.DataSource.Name)
	if err != nil {
		return nil, fmt.Errorf("wire: resolving engine context for %q: %w", s.DataSource.Name, err)
	}
	return ec, nil
}
