// SPDX-License-Identifier: Apache-2.0

package jsonschema_test

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"github.com/pgfedproxy/pgfedproxy/internal/jsonschema"
)

const (
	schemaPath  = "../../schema.json"
	testDataDir = "./testdata"
)

// Each fixture is a two-file txtar archive: the raw submit body, then a
// "true"/"false" verdict, the same shape pgroll's own jsonschema_test.go
// uses for its migration-file fixtures.
func TestValidateBody(t *testing.T) {
	t.Parallel()

	v, err := jsonschema.Compile(schemaPath)
	require.NoError(t, err)

	files, err := os.ReadDir(testDataDir)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(file.Name(), func(t *testing.T) {
			t.Parallel()

			ac, err := txtar.ParseFile(filepath.Join(testDataDir, file.Name()))
			require.NoError(t, err)
			require.Len(t, ac.Files, 2)

			body := ac.Files[0].Data
			shouldValidate, err := strconv.ParseBool(strings.TrimSpace(string(ac.Files[1].Data)))
			require.NoError(t, err)

			err = v.ValidateBody(body)
			if shouldValidate {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
