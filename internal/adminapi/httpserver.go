// SPDX-License-Identifier: Apache-2.0

package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/pgfedproxy/pgfedproxy/internal/jobs"
	"github.com/pgfedproxy/pgfedproxy/internal/jsonschema"
	"github.com/pgfedproxy/pgfedproxy/internal/logging"
	"github.com/pgfedproxy/pgfedproxy/internal/model"
)

// Runner is the subset of jobs.Runner the HTTP surface drives. It is an
// interface so tests can stand in a fake runner without a real catalog
// store or upstream behind it.
type Runner interface {
	Submit(ctx context.Context, dataSourceID uuid.UUID, action jobs.Action, payload any) (*jobs.Job, error)
	Get(id uuid.UUID) (*jobs.Job, bool)
}

// Server is the thin reference HTTP/JSON surface spec.md §6 describes as
// an external collaborator: JWT verification, CORS, and the full admin
// persistence schema live outside this core. This implementation exists
// so the job runner and catalog store are reachable end to end without a
// separate admin product attached; it deliberately does not authenticate
// requests — a production deployment terminates auth in front of it.
type Server struct {
	Runner    Runner
	Catalog   CatalogReader
	Validator *jsonschema.Validator
	Log       logging.Logger
}

// submitBody mirrors spec.md §6's tagged-union submit body. Only the
// fields relevant to the tagged action are read; save_catalog additionally
// accepts each table's already-discovered columns, since the reference
// admin client is expected to have assembled them from prior
// discover_columns calls before asking the core to persist a selection.
type submitBody struct {
	Action  string `json:"action"`
	Schemas []struct {
		SchemaName string `json:"schema_name"`
		IsSelected bool   `json:"is_selected"`
		Tables     []struct {
			TableName  string `json:"table_name"`
			TableType  string `json:"table_type"`
			IsSelected bool   `json:"is_selected"`
			Columns    []struct {
				ColumnName string  `json:"column_name"`
				ArrowType  *string `json:"arrow_type"`
			} `json:"columns"`
		} `json:"tables"`
	} `json:"schemas"`
	Tables []struct {
		Schema string `json:"schema"`
		Table  string `json:"table"`
	} `json:"tables"`
}

// ServeHTTP routes the four endpoints of spec.md §6's admin API table.
// Routing is a plain switch on method+path suffix, matching the small,
// enumerated style the rest of this core favors over a router dependency.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dataSourceID, rest, ok := parseDataSourcePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case rest == "/discover" && r.Method == http.MethodPost:
		s.handleSubmit(w, r, dataSourceID)
	case rest == "/catalog" && r.Method == http.MethodGet:
		s.handleCatalog(w, r, dataSourceID)
	case isEventsPath(rest) && r.Method == http.MethodGet:
		s.handleEvents(w, r, jobIDFromEventsPath(rest))
	case isJobPath(rest) && r.Method == http.MethodDelete:
		s.handleCancel(w, r, jobIDFromJobPath(rest))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, dataSourceID uuid.UUID) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if s.Validator != nil {
		if err := s.Validator.ValidateBody(raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var body submitBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	action, payload, err := translateSubmitBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.Runner.Submit(r.Context(), dataSourceID, action, payload)
	if err != nil {
		var conflict *jobs.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"active_job_id": conflict.ActiveJobID.String()})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID.String()})
}

func translateSubmitBody(body submitBody) (jobs.Action, any, error) {
	switch jobs.Action(body.Action) {
	case jobs.ActionDiscoverSchemas:
		return jobs.ActionDiscoverSchemas, nil, nil
	case jobs.ActionDiscoverTables:
		return jobs.ActionDiscoverTables, jobs.DiscoverTablesPayload{Schemas: extractSchemaNames(body)}, nil
	case jobs.ActionDiscoverColumns:
		tables := make([]struct{ Schema, Table string }, len(body.Tables))
		for i, t := range body.Tables {
			tables[i] = struct{ Schema, Table string }{Schema: t.Schema, Table: t.Table}
		}
		return jobs.ActionDiscoverColumns, jobs.DiscoverColumnsPayload{Tables: tables}, nil
	case jobs.ActionSaveCatalog:
		return jobs.ActionSaveCatalog, jobs.SaveCatalogPayload{Schemas: translateCatalogSchemas(body)}, nil
	case jobs.ActionSyncCatalog:
		return jobs.ActionSyncCatalog, nil, nil
	default:
		return "", nil, fmt.Errorf("adminapi: unknown action %q", body.Action)
	}
}

func extractSchemaNames(body submitBody) []string {
	names := make([]string, len(body.Schemas))
	for i, s := range body.Schemas {
		names[i] = s.SchemaName
	}
	return names
}

func translateCatalogSchemas(body submitBody) []model.CatalogSchema {
	out := make([]model.CatalogSchema, len(body.Schemas))
	for i, s := range body.Schemas {
		tables := make([]model.CatalogTable, len(s.Tables))
		for j, t := range s.Tables {
			cols := make([]model.DiscoveredColumn, len(t.Columns))
			for k, c := range t.Columns {
				cols[k] = model.DiscoveredColumn{ColumnName: c.ColumnName, ArrowType: c.ArrowType}
			}
			tables[j] = model.CatalogTable{
				Table: model.DiscoveredTable{
					TableName:  t.TableName,
					TableType:  model.TableType(t.TableType),
					IsSelected: t.IsSelected,
				},
				Columns: cols,
			}
		}
		out[i] = model.CatalogSchema{
			Schema: model.DiscoveredSchema{SchemaName: s.SchemaName, IsSelected: s.IsSelected},
			Tables: tables,
		}
	}
	return out
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request, dataSourceID uuid.UUID) {
	cat, err := s.Catalog.Load(r.Context(), dataSourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	job, ok := s.Runner.Get(jobID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	events := job.Subscribe()
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				if s.Log != nil {
					s.Log.Warn("adminapi: failed to marshal event", "error", err)
				}
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, jobID uuid.UUID) {
	job, ok := s.Runner.Get(jobID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	job.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
