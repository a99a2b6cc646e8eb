// SPDX-License-Identifier: Apache-2.0

// Package wire implements the Postgres v3 frontend/backend protocol:
// startup handshake, cleartext and SCRAM-SHA-256 authentication, the
// access guard, simple and extended query flow, and SQLSTATE error
// mapping. It is built on jackc/pgx/v5/pgproto3, the library the rest of
// the reference pack (teleport's Postgres proxy engine among others)
// builds its own Postgres wire handling on.
package wire

import (
	"errors"

	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/lib/pq"

	"github.com/pgfedproxy/pgfedproxy/internal/accessguard"
	"github.com/pgfedproxy/pgfedproxy/internal/hooks"
)

// SQLSTATE codes this core maps engine/hook errors to, per spec.md §4.4.
const (
	sqlStateSyntaxError       = "42601"
	sqlStatePermissionDenied  = "42501"
	sqlStateReadOnlyViolation = "25006"
	sqlStateUndefinedRelation = "42P01"
	sqlStateInternalError     = "XX000"
)

// toErrorResponse maps an engine/hook error to a Postgres ErrorResponse,
// choosing a SQLSTATE from the small table spec.md §4.4 and §7 describe.
// A *pq.Error surfacing from the upstream (e.g. an unregistered relation
// rejected by the real Postgres with undefined_table) is passed through
// verbatim, since the upstream's own SQLSTATE is already authoritative.
func toErrorResponse(err error) *pgproto3.ErrorResponse {
	var roViolation *hooks.ReadOnlyViolation
	if errors.As(err, &roViolation) {
		return &pgproto3.ErrorResponse{
			Severity: "ERROR",
			Code:     sqlStateReadOnlyViolation,
			Message:  err.Error(),
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &pgproto3.ErrorResponse{
			Severity: "ERROR",
			Code:     string(pqErr.Code),
			Message:  pqErr.Message,
			Detail:   pqErr.Detail,
		}
	}

	if errors.Is(err, hooks.ErrParse) {
		return &pgproto3.ErrorResponse{
			Severity: "ERROR",
			Code:     sqlStateSyntaxError,
			Message:  err.Error(),
		}
	}

	if errors.Is(err, accessguard.ErrDataSourceNotFound) ||
		errors.Is(err, accessguard.ErrDataSourceInactive) ||
		errors.Is(err, accessguard.ErrAssignmentNotFound) {
		return &pgproto3.ErrorResponse{
			Severity: "FATAL",
			Code:     sqlStatePermissionDenied,
			Message:  err.Error(),
		}
	}

	return &pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     sqlStateInternalError,
		Message:  err.Error(),
	}
}

// toFatalResponse builds a FATAL-severity ErrorResponse for startup/access
// failures, sent before the connection is closed without ever requesting
// an engine context.
func toFatalResponse(err error) *pgproto3.ErrorResponse {
	resp := toErrorResponse(err)
	resp.Severity = "FATAL"
	return resp
}
