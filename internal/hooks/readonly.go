// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"context"
	"fmt"

	pgq "github.com/pganalyze/pg_query_go/v6"
)

// ReadOnlyGate accepts only statement shapes whose semantics is "read":
// Query (SELECT), Show*, and Explain*. Every other shape is rejected. The
// accepted shapes are enumerated explicitly here; adding one requires
// touching this switch, which is the point of a review.
type ReadOnlyGate struct{}

func (g *ReadOnlyGate) Name() string { return "readonly-gate" }

func (g *ReadOnlyGate) Apply(_ context.Context, _ Session, raw *pgq.RawStmt) error {
	if isReadOnlyNode(raw.GetStmt()) {
		return nil
	}
	return &ReadOnlyViolation{Statement: fmt.Sprintf("%T", raw.GetStmt().GetNode())}
}

func isReadOnlyNode(n *pgq.Node) bool {
	switch n.GetNode().(type) {
	case *pgq.Node_SelectStmt:
		return true
	case *pgq.Node_VariableShowStmt:
		return true
	case *pgq.Node_ExplainStmt:
		return true
	default:
		return false
	}
}
