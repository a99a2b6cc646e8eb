// SPDX-License-Identifier: Apache-2.0

// Package jsonschema validates discovery job submit bodies against the
// repository-root schema.json, the way pgroll validates migration files
// against its own schema.json in internal/jsonschema's tests — here the
// validator runs at the admin-API boundary, not just in tests.
package jsonschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles schema.json once and validates arbitrary submit
// bodies against it.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile loads and compiles the schema at path (the repository-root
// schema.json in production).
func Compile(path string) (*Validator, error) {
	sch, err := jsonschema.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: compiling %s: %w", path, err)
	}
	return &Validator{schema: sch}, nil
}

// ValidateBody validates raw JSON bytes against the compiled schema.
func (v *Validator) ValidateBody(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("jsonschema: invalid JSON: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("jsonschema: validation failed: %w", err)
	}
	return nil
}
