// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/pgfedproxy/pgfedproxy/internal/codec"
	"github.com/pgfedproxy/pgfedproxy/internal/engine"
	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
)

// serve runs the post-handshake message loop for one session until the
// client sends Terminate, closes the connection, or a fatal error occurs.
func (s *Session) serve(ctx context.Context) error {
	for {
		msg, err := s.Backend.Receive()
		if err != nil {
			return fmt.Errorf("wire: receiving message: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.Query:
			if err := s.handleSimpleQuery(ctx, m.String); err != nil {
				return err
			}
		case *pgproto3.Parse:
			s.handleParse(m)
		case *pgproto3.Bind:
			s.handleBind(m)
		case *pgproto3.Describe:
			if err := s.handleDescribe(ctx, m); err != nil {
				return err
			}
		case *pgproto3.Execute:
			if err := s.handleExecute(ctx, m); err != nil {
				return err
			}
		case *pgproto3.Sync:
			if err := s.sendReady(); err != nil {
				return err
			}
		case *pgproto3.Close:
			s.handleClose(m)
			if err := s.Backend.Send(&pgproto3.CloseComplete{}); err != nil {
				return fmt.Errorf("wire: sending CloseComplete: %w", err)
			}
			if err := s.Backend.Flush(); err != nil {
				return err
			}
		case *pgproto3.Terminate:
			return nil
		default:
			s.log.Debug("ignoring unsupported message", "type", fmt.Sprintf("%T", m))
		}
	}
}

// handleSimpleQuery runs the simple query protocol: the same
// parse-hook-execute path extended queries use (spec.md §4.3's "identical
// validated plans" requirement), emitting RowDescription/DataRow*/
// CommandComplete per statement, then ReadyForQuery once.
func (s *Session) handleSimpleQuery(ctx context.Context, query string) error {
	ec, err := s.engineContext(ctx)
	if err != nil {
		return s.sendErrorAndReady(err)
	}

	result, err := ec.Query(ctx, s.hookSess, query)
	if err != nil {
		return s.sendErrorAndReady(err)
	}

	if err := s.streamResult(result, commandTagFor(query)); err != nil {
		return err
	}
	return s.sendReady()
}

// handleParse records a prepared statement under its client-chosen name
// (the empty string names the unnamed statement, which a later Parse
// silently overwrites per the protocol).
func (s *Session) handleParse(m *pgproto3.Parse) {
	s.preparedStatements[m.Name] = preparedStatement{Query: m.Query, ParameterOIDs: m.ParameterOIDs}
}

// handleBind binds a prepared statement into a named portal, carrying the
// parameter values and their format codes forward so Execute can render
// them as literals per spec.md §4.4 ("Parameter values are passed to the
// plan as literals in the same form the simple path would produce").
func (s *Session) handleBind(m *pgproto3.Bind) {
	s.portals[m.DestinationPortal] = portal{
		Statement:            m.PreparedStatement,
		ParameterFormatCodes: m.ParameterFormatCodes,
		Parameters:           m.Parameters,
	}
}

// handleClose drops a prepared statement or portal by name, per the
// object type Close names.
func (s *Session) handleClose(m *pgproto3.Close) {
	switch m.ObjectType {
	case 'S':
		delete(s.preparedStatements, m.Name)
	case 'P':
		delete(s.portals, m.Name)
	}
}

// handleDescribe answers a Describe('S', ...) or Describe('P', ...) by
// running the named statement's query through the hook pipeline far enough
// to produce a RowDescription, without executing it. Both paths resolve to
// the same rewritten SQL extended and simple query execute, per spec.md
// §4.3.
func (s *Session) handleDescribe(ctx context.Context, m *pgproto3.Describe) error {
	query, err := s.lookupQuery(m.ObjectType, m.Name)
	if err != nil {
		return s.sendErrorAndReady(err)
	}

	ec, err := s.engineContext(ctx)
	if err != nil {
		return s.sendErrorAndReady(err)
	}

	cols, err := describeColumns(ctx, ec, s.hookSess, query)
	if err != nil {
		return s.sendErrorAndReady(err)
	}

	if m.ObjectType == 'S' {
		if err := s.Backend.Send(&pgproto3.ParameterDescription{}); err != nil {
			return err
		}
	}
	if err := s.Backend.Send(codec.RowDescription(cols)); err != nil {
		return err
	}
	return s.Backend.Flush()
}

// handleExecute runs the portal's bound statement and streams its result,
// without sending ReadyForQuery: the client is expected to follow with
// Sync, matching the extended query protocol's own framing.
func (s *Session) handleExecute(ctx context.Context, m *pgproto3.Execute) error {
	query, err := s.lookupQuery('P', m.Portal)
	if err != nil {
		return s.flushError(err)
	}

	ec, err := s.engineContext(ctx)
	if err != nil {
		return s.flushError(err)
	}

	result, err := ec.Query(ctx, s.hookSess, query)
	if err != nil {
		return s.flushError(err)
	}
	return s.streamResult(result, commandTagFor(query))
}

// lookupQuery resolves a Describe/Execute target ('S' statement or 'P'
// portal) down to SQL text ready for the hook pipeline. For a portal, any
// bound parameter values are substituted in as literals first (spec.md
// §4.4); a bare statement (Describe('S', ...), before any Bind) has no
// values yet and is returned as parsed.
func (s *Session) lookupQuery(objectType byte, name string) (string, error) {
	switch objectType {
	case 'S':
		stmt, ok := s.preparedStatements[name]
		if !ok {
			return "", fmt.Errorf("wire: unknown prepared statement %q", name)
		}
		return stmt.Query, nil
	case 'P':
		p, ok := s.portals[name]
		if !ok {
			return "", fmt.Errorf("wire: unknown portal %q", name)
		}
		stmt, ok := s.preparedStatements[p.Statement]
		if !ok {
			return "", fmt.Errorf("wire: portal %q references unknown statement %q", name, p.Statement)
		}
		return substituteParams(stmt.Query, stmt.ParameterOIDs, p.ParameterFormatCodes, p.Parameters)
	default:
		return "", fmt.Errorf("wire: unknown describe/execute object type %q", objectType)
	}
}

// describeColumns resolves the column shape a query would produce without
// executing it. Recognized system-catalog introspection shapes answer
// straight from SystemCatalogResult, never touching the pool; everything
// else runs through the hook pipeline (so a rejected statement is caught
// at Describe time too) and a zero-row probe against the upstream, typed
// via the same ColumnTypesFromRows mapping query execution uses, so
// Describe never reports a different type than Execute will.
func describeColumns(ctx context.Context, ec *engine.Context, sess hooks.Session, query string) ([]codec.ColumnDescriptor, error) {
	if result, ok := ec.SystemCatalogResult(query); ok {
		return result.Columns, nil
	}

	rewritten, err := ec.Pipeline.Run(ctx, sess, query)
	if err != nil {
		return nil, err
	}

	rows, err := ec.Pool.QueryContext(ctx, zeroRowProbe(rewritten))
	if err != nil {
		return nil, fmt.Errorf("wire: describing query: %w", err)
	}
	defer rows.Close()

	cols, err := engine.ColumnTypesFromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("wire: reading described columns: %w", err)
	}
	return cols, nil
}

// zeroRowProbe wraps an already-rewritten, read-only statement so Describe
// can ask the upstream for its result shape without materializing rows.
func zeroRowProbe(query string) string {
	return "SELECT * FROM (" + strings.TrimSuffix(strings.TrimSpace(query), ";") + ") AS described_query WHERE false"
}

// streamResult sends RowDescription + DataRow* + CommandComplete for
// result. Callers on the simple query path still send ReadyForQuery
// afterward; the extended query path sends it only after Sync.
func (s *Session) streamResult(result *engine.Result, tag string) error {
	if err := s.Backend.Send(codec.RowDescription(result.Columns)); err != nil {
		return fmt.Errorf("wire: sending RowDescription: %w", err)
	}

	var rowCount int
	for _, rec := range result.Batches {
		n := int(rec.NumRows())
		for i := 0; i < n; i++ {
			row, err := codec.EncodeRow(rec, i)
			if err != nil {
				return s.flushError(err)
			}
			if err := s.Backend.Send(row); err != nil {
				return fmt.Errorf("wire: sending DataRow: %w", err)
			}
		}
		rowCount += n
	}

	if err := s.Backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("%s %d", tag, rowCount))}); err != nil {
		return fmt.Errorf("wire: sending CommandComplete: %w", err)
	}
	return s.Backend.Flush()
}

// sendErrorAndReady sends an ErrorResponse followed by ReadyForQuery, the
// recovery framing the simple query protocol requires after a failed
// statement.
func (s *Session) sendErrorAndReady(err error) error {
	if sendErr := s.Backend.Send(toErrorResponse(err)); sendErr != nil {
		return sendErr
	}
	return s.sendReady()
}

// flushError sends an ErrorResponse without ReadyForQuery, for the
// extended query protocol where Sync (not Execute) triggers readiness.
func (s *Session) flushError(err error) error {
	if sendErr := s.Backend.Send(toErrorResponse(err)); sendErr != nil {
		return sendErr
	}
	return s.Backend.Flush()
}

func (s *Session) sendReady() error {
	if err := s.Backend.Send(&pgproto3.ReadyForQuery{TxStatus: 'I'}); err != nil {
		return fmt.Errorf("wire: sending ReadyForQuery: %w", err)
	}
	return s.Backend.Flush()
}

// commandTagFor returns the wire command tag for query's leading keyword.
// Every accepted statement after the read-only gate is a SELECT-shaped
// read: EXPLAIN gets the EXPLAIN tag, and every other form (SELECT, WITH,
// SHOW) gets the SELECT tag.
func commandTagFor(query string) string {
	trimmed := strings.TrimSpace(query)
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "EXPLAIN"):
		return "EXPLAIN"
	default:
		return "SELECT"
	}
}
