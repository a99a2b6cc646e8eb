// SPDX-License-Identifier: Apache-2.0

// Package accessguard enforces the startup allowlist: a connection is
// rejected before any engine context is requested unless its datasource
// exists and is active, and the authenticated user is explicitly assigned
// to it. is_admin never substitutes for an assignment row.
package accessguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

var (
	ErrDataSourceNotFound = errors.New("accessguard: datasource not found")
	ErrDataSourceInactive = errors.New("accessguard: datasource is not active")
	ErrAssignmentNotFound = errors.New("accessguard: user is not assigned to this datasource")
)

// Store is the subset of the admin persistence the guard needs: looking
// up a datasource by name and checking an assignment row exists.
type Store interface {
	DataSourceByName(ctx context.Context, name string) (model.DataSource, error)
	AssignmentExists(ctx context.Context, userID, dataSourceID uuid.UUID) (bool, error)
}

// Guard validates a (user, datasource) pairing before any engine work
// begins.
type Guard struct {
	store Store
}

// New builds a Guard backed by store.
func New(store Store) *Guard {
	return &Guard{store: store}
}

// Authorize returns the resolved DataSource if user may connect to
// dataSourceName, or one of the sentinel errors above. Every failure here
// must terminate the wire handshake with a FATAL error before any
// EngineCache.GetContext call (spec.md §4.4).
func (g *Guard) Authorize(ctx context.Context, user model.User, dataSourceName string) (model.DataSource, error) {
	ds, err := g.store.DataSourceByName(ctx, dataSourceName)
	if err != nil {
		return model.DataSource{}, fmt.Errorf("%w: %s: %w", ErrDataSourceNotFound, dataSourceName, err)
	}
	if !ds.IsActive {
		return model.DataSource{}, fmt.Errorf("%w: %s", ErrDataSourceInactive, dataSourceName)
	}

	ok, err := g.store.AssignmentExists(ctx, user.ID, ds.ID)
	if err != nil {
		return model.DataSource{}, fmt.Errorf("accessguard: checking assignment: %w", err)
	}
	if !ok {
		return model.DataSource{}, fmt.Errorf("%w: user=%s datasource=%s", ErrAssignmentNotFound, user.Username, dataSourceName)
	}
	return ds, nil
}
