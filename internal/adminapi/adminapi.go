// SPDX-License-Identifier: Apache-2.0

// Package adminapi defines the contracts an external admin HTTP surface
// consumes to submit discovery jobs, read catalogs, and stream job events.
// Per spec.md §1 the HTTP surface itself, its JWT/password-hashing
// workflow and its persistence schema are external collaborators; this
// package hosts the Go interfaces, a minimal in-memory reference
// implementation used by this core's own tests, and a thin,
// unauthenticated HTTP Server (httpserver.go) that the serve command
// mounts on the admin address.
package adminapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/pgfedproxy/pgfedproxy/internal/jobs"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// JobSubmitter starts a discovery job, mirroring internal/jobs.Runner.Submit
// without exposing the job runner's own concrete type to admin-surface code.
type JobSubmitter interface {
	Submit(ctx context.Context, dataSourceID uuid.UUID, action jobs.Action, payload any) (*jobs.Job, error)
}

// CatalogReader reads the persisted, selected catalog for a datasource, the
// read side of internal/catalogstore.Store the admin surface needs.
type CatalogReader interface {
	Load(ctx context.Context, dataSourceID uuid.UUID) (model.Catalog, error)
}

// EventSubscriber joins a job's event stream, for an SSE handler to relay
// frames to a connected admin client.
type EventSubscriber interface {
	Subscribe() <-chan jobs.Event
}

// staticJob is the reference EventSubscriber: a fixed, already-closed
// stream of events, useful for tests that don't need a live jobs.Runner.
type staticJob struct {
	events []jobs.Event
}

// NewStaticEventSubscriber returns an EventSubscriber that replays events
// once and then closes, without any job runner behind it.
func NewStaticEventSubscriber(events []jobs.Event) EventSubscriber {
	return staticJob{events: events}
}

func (s staticJob) Subscribe() <-chan jobs.Event {
	ch := make(chan jobs.Event, len(s.events))
	for _, e := range s.events {
		ch <- e
	}
	close(ch)
	return ch
}

// InMemoryCatalogReader is the reference CatalogReader: catalogs held in a
// map, for tests that stand in for a real catalogstore.Store without a
// database connection.
type InMemoryCatalogReader struct {
	catalogs map[uuid.UUID]model.Catalog
}

// NewInMemoryCatalogReader builds a reader seeded with catalogs.
func NewInMemoryCatalogReader(catalogs map[uuid.UUID]model.Catalog) *InMemoryCatalogReader {
	if catalogs == nil {
		catalogs = make(map[uuid.UUID]model.Catalog)
	}
	return &InMemoryCatalogReader{catalogs: catalogs}
}

// Load returns the seeded catalog for dataSourceID, or an empty catalog if
// none was seeded — matching a freshly provisioned datasource with nothing
// discovered yet.
func (r *InMemoryCatalogReader) Load(_ context.Context, dataSourceID uuid.UUID) (model.Catalog, error) {
	if cat, ok := r.catalogs[dataSourceID]; ok {
		return cat, nil
	}
	return model.Catalog{DataSourceID: dataSourceID}, nil
}
