package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a strict JSON schema for structured model output, compiled once
// for local validation and decoded once for the wire request.
type Schema struct {
	Name     string
	raw      string
	compiled *jsonschema.Schema
	doc      map[string]any
}

// NewSchema compiles a schema document.
func NewSchema(name, raw string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("loading schema %q: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema %q: %w", name, err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding schema %q: %w", name, err)
	}
	return &Schema{Name: name, raw: raw, compiled: compiled, doc: doc}, nil
}

// MustSchema is NewSchema for package-level schema literals.
func MustSchema(name, raw string) *Schema {
	s, err := NewSchema(name, raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Definition returns the decoded schema document for the response_format
// request field.
func (s *Schema) Definition() map[string]any {
	return s.doc
}

// Validate checks a decoded JSON document against the schema.
func (s *Schema) Validate(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema %q: %w", s.Name, err)
	}
	return nil
}
