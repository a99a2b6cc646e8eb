// SPDX-License-Identifier: Apache-2.0

// Package jobs runs asynchronous catalog discovery jobs: single-flight per
// datasource, a cancellable lifecycle, and a buffered event stream late
// subscribers can join without missing the terminal event.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// State is a job's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Action identifies which discovery operation a job performs.
type Action string

const (
	ActionDiscoverSchemas Action = "discover_schemas"
	ActionDiscoverTables  Action = "discover_tables"
	ActionDiscoverColumns Action = "discover_columns"
	ActionSaveCatalog     Action = "save_catalog"
	ActionSyncCatalog     Action = "sync_catalog"
)

// EventType tags one frame of a job's event stream.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventResult    EventType = "result"
	EventError     EventType = "error"
	EventCancelled EventType = "cancelled"
	EventDone      EventType = "done"
)

// Event is one frame on a job's event stream, matching the wire shape of
// spec.md §6's SSE frames.
type Event struct {
	Type    EventType `json:"type"`
	Phase   string    `json:"phase,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Data    any       `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Job is one in-flight or completed discovery job.
type Job struct {
	ID           uuid.UUID
	DataSourceID uuid.UUID
	Action       Action

	mu     sync.Mutex
	state  State
	events []Event
	subs   []chan Event

	cancel context.CancelFunc
}

func newJob(id, dataSourceID uuid.UUID, action Action, cancel context.CancelFunc) *Job {
	return &Job{ID: id, DataSourceID: dataSourceID, Action: action, state: StateRunning, cancel: cancel}
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Cancel trips the job's cancellation token. The discovery provider is
// expected to observe ctx.Done() at every I/O await and before each
// catalog row insert.
func (j *Job) Cancel() {
	j.cancel()
}

// Subscribe returns a channel of every future event, replayed from the
// start if the job already has a history, so a late subscriber always
// sees the terminal event even if it missed early progress.
func (j *Job) Subscribe() <-chan Event {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Event, len(j.events)+8)
	for _, e := range j.events {
		ch <- e
	}
	if n := len(j.events); n > 0 && j.events[n-1].Type == EventDone {
		close(ch)
		return ch
	}
	j.subs = append(j.subs, ch)
	return ch
}

func (j *Job) emit(e Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.events = append(j.events, e)
	for _, ch := range j.subs {
		ch <- e
	}
	if e.Type == EventDone {
		for _, ch := range j.subs {
			close(ch)
		}
		j.subs = nil
	}
}

func (j *Job) progress(phase, detail string) {
	j.emit(Event{Type: EventProgress, Phase: phase, Detail: detail})
}

func (j *Job) finishResult(data any) {
	j.mu.Lock()
	j.state = StateCompleted
	j.mu.Unlock()
	j.emit(Event{Type: EventResult, Data: data})
	j.emit(Event{Type: EventDone})
}

func (j *Job) finishError(err error) {
	j.mu.Lock()
	j.state = StateFailed
	j.mu.Unlock()
	j.emit(Event{Type: EventError, Message: err.Error()})
	j.emit(Event{Type: EventDone})
}

func (j *Job) finishCancelled() {
	j.mu.Lock()
	j.state = StateCancelled
	j.mu.Unlock()
	j.emit(Event{Type: EventCancelled})
	j.emit(Event{Type: EventDone})
}

// ConflictError is returned when a second job is submitted for a
// datasource that already has one running.
type ConflictError struct {
	ActiveJobID uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("jobs: a job is already running for this datasource: %s", e.ActiveJobID)
}

// Runner enforces at most one running job per datasource and dispatches
// each job's action to a Handler.
type Runner struct {
	handler Handler

	mu     sync.Mutex
	active map[uuid.UUID]*Job
	byID   map[uuid.UUID]*Job
}

// Handler performs the actual discovery/save/sync work for one job,
// reporting progress via j and returning the result payload or an error.
type Handler interface {
	Run(ctx context.Context, j *Job, payload any) (any, error)
}

// New builds a Runner dispatching to handler.
func New(handler Handler) *Runner {
	return &Runner{
		handler: handler,
		active:  make(map[uuid.UUID]*Job),
		byID:    make(map[uuid.UUID]*Job),
	}
}

// Submit starts a new job for dataSourceID, or returns a ConflictError
// carrying the already-active job's ID if one is running.
func (r *Runner) Submit(ctx context.Context, dataSourceID uuid.UUID, action Action, payload any) (*Job, error) {
	r.mu.Lock()
	if existing, ok := r.active[dataSourceID]; ok {
		r.mu.Unlock()
		return nil, &ConflictError{ActiveJobID: existing.ID}
	}

	id, err := uuid.NewV7()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("jobs: generating job id: %w", err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := newJob(id, dataSourceID, action, cancel)
	r.active[dataSourceID] = j
	r.byID[id] = j
	r.mu.Unlock()

	go r.run(jobCtx, j, payload)
	return j, nil
}

func (r *Runner) run(ctx context.Context, j *Job, payload any) {
	defer r.release(j)

	result, err := r.handler.Run(ctx, j, payload)
	switch {
	case ctx.Err() != nil:
		j.finishCancelled()
	case err != nil:
		j.finishError(err)
	default:
		j.finishResult(result)
	}
}

func (r *Runner) release(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[j.DataSourceID] == j {
		delete(r.active, j.DataSourceID)
	}
}

// Get returns a previously submitted job by ID.
func (r *Runner) Get(id uuid.UUID) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byID[id]
	return j, ok
}

// ActiveFor returns the currently running job for a datasource, if any.
func (r *Runner) ActiveFor(dataSourceID uuid.UUID) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.active[dataSourceID]
	return j, ok
}
