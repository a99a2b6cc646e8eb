// SPDX-License-Identifier: Apache-2.0

package adminapi

import (
	"strings"

	"github.com/google/uuid"
)

// parseDataSourcePath splits "/datasources/{id}/rest..." into the
// datasource ID and the remainder ("/rest..."), the way the admin routes
// in spec.md §6 are all rooted under a single datasource.
func parseDataSourcePath(path string) (uuid.UUID, string, bool) {
	const prefix = "/datasources/"
	if !strings.HasPrefix(path, prefix) {
		return uuid.UUID{}, "", false
	}
	rest := path[len(prefix):]
	idStr, tail, found := strings.Cut(rest, "/")
	if !found {
		return uuid.UUID{}, "", false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, "", false
	}
	return id, "/" + tail, true
}

// isEventsPath matches "/discover/{job_id}/events".
func isEventsPath(rest string) bool {
	return strings.HasPrefix(rest, "/discover/") && strings.HasSuffix(rest, "/events")
}

func jobIDFromEventsPath(rest string) uuid.UUID {
	inner := strings.TrimPrefix(rest, "/discover/")
	inner = strings.TrimSuffix(inner, "/events")
	id, _ := uuid.Parse(inner)
	return id
}

// isJobPath matches "/discover/{job_id}" (no further segments).
func isJobPath(rest string) bool {
	inner := strings.TrimPrefix(rest, "/discover/")
	return strings.HasPrefix(rest, "/discover/") && inner != "" && !strings.Contains(inner, "/")
}

func jobIDFromJobPath(rest string) uuid.UUID {
	inner := strings.TrimPrefix(rest, "/discover/")
	id, _ := uuid.Parse(inner)
	return id
}
