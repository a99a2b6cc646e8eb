// SPDX-License-Identifier: Apache-2.0

package accessguard_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgfedproxy/pgfedproxy/internal/accessguard"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

type fakeStore struct {
	dataSources map[string]model.DataSource
	assignments map[[2]uuid.UUID]bool
}

func (f *fakeStore) DataSourceByName(_ context.Context, name string) (model.DataSource, error) {
	ds, ok := f.dataSources[name]
	if !ok {
		return model.DataSource{}, assert.AnError
	}
	return ds, nil
}

func (f *fakeStore) AssignmentExists(_ context.Context, userID, dataSourceID uuid.UUID) (bool, error) {
	return f.assignments[[2]uuid.UUID{userID, dataSourceID}], nil
}

func TestAuthorizeSucceedsWithAssignment(t *testing.T) {
	t.Parallel()

	dsID := uuid.New()
	userID := uuid.New()
	store := &fakeStore{
		dataSources: map[string]model.DataSource{
			"warehouse": {ID: dsID, Name: "warehouse", IsActive: true},
		},
		assignments: map[[2]uuid.UUID]bool{{userID, dsID}: true},
	}
	guard := accessguard.New(store)

	ds, err := guard.Authorize(context.Background(), model.User{ID: userID}, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, dsID, ds.ID)
}

func TestAuthorizeFailsWhenDataSourceUnknown(t *testing.T) {
	t.Parallel()

	store := &fakeStore{dataSources: map[string]model.DataSource{}}
	guard := accessguard.New(store)

	_, err := guard.Authorize(context.Background(), model.User{ID: uuid.New()}, "missing")
	assert.ErrorIs(t, err, accessguard.ErrDataSourceNotFound)
}

func TestAuthorizeFailsWhenDataSourceInactive(t *testing.T) {
	t.Parallel()

	dsID := uuid.New()
	store := &fakeStore{
		dataSources: map[string]model.DataSource{
			"warehouse": {ID: dsID, Name: "warehouse", IsActive: false},
		},
	}
	guard := accessguard.New(store)

	_, err := guard.Authorize(context.Background(), model.User{ID: uuid.New()}, "warehouse")
	assert.ErrorIs(t, err, accessguard.ErrDataSourceInactive)
}

func TestAuthorizeFailsWithoutAssignmentEvenForAdmin(t *testing.T) {
	t.Parallel()

	dsID := uuid.New()
	userID := uuid.New()
	store := &fakeStore{
		dataSources: map[string]model.DataSource{
			"warehouse": {ID: dsID, Name: "warehouse", IsActive: true},
		},
		assignments: map[[2]uuid.UUID]bool{},
	}
	guard := accessguard.New(store)

	// is_admin must never substitute for an explicit assignment row.
	_, err := guard.Authorize(context.Background(), model.User{ID: userID, IsAdmin: true}, "warehouse")
	assert.ErrorIs(t, err, accessguard.ErrAssignmentNotFound)
}
