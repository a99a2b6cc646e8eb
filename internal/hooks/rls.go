// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"fmt"
	"strings"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

// systemSchemas are the schemas a table reference must be schema-qualified
// to in order to be exempt from row-level security. A bare table name
// ("FROM pg_class") is never exempt, even if a table of that name happens
// to live in a system schema — exemption is purely syntactic, decided by
// walking the AST, never by matching string literals or relation names.
var systemSchemas = map[string]bool{
	"pg_catalog":         true,
	"information_schema": true,
}

func isSystemSchema(schema string) bool {
	if systemSchemas[schema] {
		return true
	}
	return strings.HasPrefix(schema, "pg_")
}

// RLSFilter injects `tenant = <session.tenant>` below every TableScan whose
// relation is not schema-qualified to a recognized system schema. The
// predicate is attached directly to the base relation (by wrapping it in a
// filtered subselect) so it cannot be bypassed by aliasing, CTEs, or set
// operations layered above it.
type RLSFilter struct{}

func (f *RLSFilter) Name() string { return "rls-filter" }

func (f *RLSFilter) Apply(_ context.Context, sess Session, raw *pgq.RawStmt) error {
	return rewriteNode(raw.GetStmt(), sess.Tenant)
}

// rewriteNode walks a statement node, rewriting every eligible FROM-clause
// table reference it finds, recursing into joins, subqueries, CTEs and set
// operations.
func rewriteNode(n *pgq.Node, tenant string) error {
	switch stmt := n.GetNode().(type) {
	case *pgq.Node_SelectStmt:
		return rewriteSelect(stmt.SelectStmt, tenant)
	case *pgq.Node_ExplainStmt:
		return rewriteNode(stmt.ExplainStmt.GetQuery(), tenant)
	default:
		// VariableShowStmt and other accepted-but-FROM-less shapes: nothing
		// to rewrite.
		return nil
	}
}

func rewriteSelect(sel *pgq.SelectStmt, tenant string) error {
	if sel == nil {
		return nil
	}

	// Set operations (UNION/INTERSECT/EXCEPT): recurse into both arms.
	if sel.GetOp() != pgq.SetOperation_SETOP_NONE {
		if err := rewriteSelect(sel.GetLarg(), tenant); err != nil {
			return err
		}
		if err := rewriteSelect(sel.GetRarg(), tenant); err != nil {
			return err
		}
	}

	// CTEs: recurse into each WITH clause's query.
	if with := sel.GetWithClause(); with != nil {
		for _, cteNode := range with.GetCtes() {
			cte := cteNode.GetCommonTableExpr()
			if cte == nil {
				continue
			}
			if err := rewriteNode(cte.GetCtequery(), tenant); err != nil {
				return err
			}
		}
	}

	from := sel.GetFromClause()
	for i, item := range from {
		rewritten, err := rewriteFromItem(item, tenant)
		if err != nil {
			return err
		}
		from[i] = rewritten
	}
	return nil
}

// rewriteFromItem recurses into a single FROM-clause entry, which may be a
// bare table (RangeVar), a join (JoinExpr), or a subquery (RangeSubselect).
func rewriteFromItem(item *pgq.Node, tenant string) (*pgq.Node, error) {
	switch v := item.GetNode().(type) {
	case *pgq.Node_RangeVar:
		return rewriteRangeVar(v.RangeVar, tenant)
	case *pgq.Node_JoinExpr:
		larg, err := rewriteFromItem(v.JoinExpr.GetLarg(), tenant)
		if err != nil {
			return nil, err
		}
		rarg, err := rewriteFromItem(v.JoinExpr.GetRarg(), tenant)
		if err != nil {
			return nil, err
		}
		v.JoinExpr.Larg = larg
		v.JoinExpr.Rarg = rarg
		return item, nil
	case *pgq.Node_RangeSubselect:
		if err := rewriteNode(v.RangeSubselect.GetSubquery(), tenant); err != nil {
			return nil, err
		}
		return item, nil
	default:
		// Function calls, VALUES lists etc. carry no base-relation scan and
		// need no tenant filter.
		return item, nil
	}
}

// rewriteRangeVar decides whether rv is exempt (schema-qualified system
// table) or must be wrapped in a tenant-filtered subselect.
func rewriteRangeVar(rv *pgq.RangeVar, tenant string) (*pgq.Node, error) {
	if rv.GetSchemaname() != "" && isSystemSchema(rv.GetSchemaname()) {
		return &pgq.Node{Node: &pgq.Node_RangeVar{RangeVar: rv}}, nil
	}

	outerAlias := rv.GetRelname()
	if rv.GetAlias() != nil && rv.GetAlias().GetAliasname() != "" {
		outerAlias = rv.GetAlias().GetAliasname()
	}

	qualified := quoteIdent(rv.GetRelname())
	if rv.GetSchemaname() != "" {
		qualified = quoteIdent(rv.GetSchemaname()) + "." + qualified
	}

	wrapSQL := fmt.Sprintf(
		"SELECT * FROM (SELECT * FROM %s WHERE tenant = %s) AS %s",
		qualified, quoteLiteral(tenant), quoteIdent(outerAlias),
	)

	tree, err := pgq.Parse(wrapSQL)
	if err != nil {
		return nil, fmt.Errorf("hooks: building rls scan for %s: %w", qualified, err)
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return nil, fmt.Errorf("hooks: building rls scan for %s: unexpected statement count", qualified)
	}
	wrapped := stmts[0].GetStmt().GetSelectStmt().GetFromClause()
	if len(wrapped) != 1 {
		return nil, fmt.Errorf("hooks: building rls scan for %s: unexpected from-clause shape", qualified)
	}
	return wrapped[0], nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteLiteral(lit string) string {
	return `'` + strings.ReplaceAll(lit, `'`, `''`) + `'`
}
