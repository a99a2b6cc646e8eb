// SPDX-License-Identifier: Apache-2.0

// Package hooks implements the query hook pipeline: after SQL parsing, a
// fixed, ordered list of hooks validates and rewrites the logical plan
// before execution. Ordering is load-bearing (spec.md §9): the read-only
// gate must run before the row-level-security hook, so a rejected
// statement is never rewritten first. The list is a literal Go slice, not
// a registration mechanism, so reordering it requires touching this file.
package hooks

import (
	"context"
	"errors"
	"fmt"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

// ErrParse wraps every pg_query parse/deparse failure, letting callers map
// it to Postgres SQLSTATE 42601 (syntax error) without depending on
// pg_query_go's own error type.
var ErrParse = errors.New("hooks: statement could not be parsed")

// ReadOnlyViolation is returned by the pipeline when a statement is not one
// of the accepted read shapes. Callers map it to Postgres SQLSTATE 25006.
type ReadOnlyViolation struct {
	Statement string
}

func (e *ReadOnlyViolation) Error() string {
	return fmt.Sprintf("hooks: statement is not read-only: %s", e.Statement)
}

// Session is the per-connection identity the RLS hook pins every query to.
// Tenant is taken from the authenticated session, never from user input.
type Session struct {
	Username string
	Tenant   string
}

// Hook checks one already-parsed statement, either rejecting it with an
// error or accepting it, possibly after rewriting it. Statements are values
// from a single parsed pg_query tree; a hook rewrites by mutating the node
// graph in place.
type Hook interface {
	Name() string
	Apply(ctx context.Context, sess Session, stmt *pgq.RawStmt) error
}

// Pipeline runs the fixed ordered list of hooks over every statement of a
// parsed query and deparses the result back to executable SQL.
type Pipeline struct {
	hooks []Hook
}

// NewPipeline returns the pipeline in its fixed order: read-only gate,
// then row-level-security filter injection. This order must never change
// without a design review (spec.md §9).
func NewPipeline() *Pipeline {
	return &Pipeline{
		hooks: []Hook{
			&ReadOnlyGate{},
			&RLSFilter{},
		},
	}
}

// Run parses sql, applies every hook in order to every statement, and
// returns the rewritten SQL text ready for execution against the upstream.
func (p *Pipeline) Run(ctx context.Context, sess Session, sql string) (string, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrParse, err)
	}

	for _, raw := range tree.GetStmts() {
		for _, h := range p.hooks {
			if err := h.Apply(ctx, sess, raw); err != nil {
				return "", err
			}
		}
	}

	rewritten, err := pgq.Deparse(tree)
	if err != nil {
		return "", fmt.Errorf("hooks: deparse error: %w", err)
	}
	return rewritten, nil
}

// Statements returns how many top-level statements sql parses into, without
// running the pipeline.
func Statements(sql string) (int, error) {
	tree, err := pgq.Parse(sql)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return len(tree.GetStmts()), nil
}
