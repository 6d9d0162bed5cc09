// Package payloads validates adjustment deltas against per-domain JSON Schemas.
package payloads

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jimdaga/plan-adjust/internal/models"
	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/*.schema.json
var builtinSchemas embed.FS

// ErrInvalidPayload wraps every validation failure.
var ErrInvalidPayload = errors.New("invalid adjustment payload")

// Registry holds one compiled schema per domain.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles the built-in schemas and then any
// "<domain>.schema.json" files found in overrideDir. An empty overrideDir
// means built-ins only.
func NewRegistry(overrideDir string) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*jsonschema.Schema)}
	compiler := jsonschema.NewCompiler()

	for _, domain := range models.Domains {
		data, err := builtinSchemas.ReadFile("schemas/" + domain + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("failed to read built-in schema for %s: %w", domain, err)
		}
		schema, err := compiler.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in schema for %s: %w", domain, err)
		}
		r.schemas[domain] = schema
	}

	if overrideDir == "" {
		return r, nil
	}

	for _, domain := range models.Domains {
		path := filepath.Join(overrideDir, domain+".schema.json")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file: %w", err)
		}
		schema, err := compiler.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", path, err)
		}
		r.schemas[domain] = schema
		log.Printf("Loaded payload schema override for %s from %s", domain, path)
	}

	return r, nil
}

// Validate checks a raw JSON payload against the domain's schema.
func (r *Registry) Validate(domain string, payload []byte) error {
	schema, ok := r.schemas[domain]
	if !ok {
		return fmt.Errorf("%w: no schema for domain %q", ErrInvalidPayload, domain)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	result := schema.Validate(doc)
	if !result.IsValid() {
		var errorMessages []string
		for field, evalErr := range result.Errors {
			errorMessages = append(errorMessages, fmt.Sprintf("%s: %s", field, evalErr.Error()))
		}
		sort.Strings(errorMessages)
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(errorMessages, "; "))
	}

	return nil
}
