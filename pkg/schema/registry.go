package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aspace-os/contractguard/pkg/contracts"
)

// ErrSchemaNotFound is returned when no schema document exists for a type.
var ErrSchemaNotFound = errors.New("schema file not found")

// Registry locates one schema document per contract type in a directory,
// named <lowercase-type>.schema.json. Documents are read on every call;
// callers that want caching wrap the registry.
type Registry struct {
	dir string
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Dir returns the schemas directory.
func (r *Registry) Dir() string { return r.dir }

// Path returns the schema document location for t.
func (r *Registry) Path(t contracts.Type) string {
	return filepath.Join(r.dir, t.SchemaFile())
}

// Load reads and decodes the schema document for t.
func (r *Registry) Load(t contracts.Type) (map[string]any, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown contract type %q", t)
	}
	path := r.Path(t)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, path)
		}
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	doc, err := DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse schema %s: document must be a JSON object", path)
	}
	return m, nil
}

// ValidateDocument validates data against the schema for t. Problems with
// the schema document itself come back as violations, never as errors.
func (r *Registry) ValidateDocument(t contracts.Type, data any) Outcome {
	if !t.Valid() {
		return Fail("Unknown contract type: %s", t)
	}
	doc, err := r.Load(t)
	if err != nil {
		if errors.Is(err, ErrSchemaNotFound) {
			return Fail("Schema file not found: %s", r.Path(t))
		}
		return Fail("Failed to load or parse schema: %v", err)
	}
	return Validate(data, doc)
}

// DecodeJSON decodes exactly one JSON value, keeping numbers as json.Number
// so integer/float discrimination sees the literal the author wrote.
func DecodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("invalid JSON: trailing data")
	}
	return v, nil
}
