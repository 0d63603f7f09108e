package services

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/inaiurai/studio/internal/models"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrValidation can be used with errors.Is to detect rejected request parameters.
var ErrValidation = errors.New("validation failed")

// Validator checks generation parameters against the per-kind JSON schema.
type Validator struct {
	schemas map[models.Kind]*jsonschema.Schema
}

// NewValidator compiles every embedded schemas/<kind>.v1.json.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	schemas := make(map[models.Kind]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		kind := models.Kind(strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".json"), ".v1"))
		data, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		id := "https://studio.inaiurai.dev/schemas/" + string(kind) + ".params"
		schemas[kind], err = jsonschema.CompileString(id, string(data))
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", kind, err)
		}
	}
	for _, k := range []models.Kind{models.KindPhoto, models.KindVideo, models.KindAudio} {
		if _, ok := schemas[k]; !ok {
			return nil, fmt.Errorf("missing schema for kind %q", k)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate rejects params that do not match the kind's schema and decodes the rest.
func (v *Validator) Validate(kind models.Kind, params json.RawMessage) (*models.GenerationParams, error) {
	schema, ok := v.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrValidation, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var p models.GenerationParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return &p, nil
}
