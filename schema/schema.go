// Package schema embeds the JSON schemas for component specifications, data
// formats and DMaaP connection entries, and validates documents against them.
//
// Schemas are compiled on first use and shared:
//
//	s := schema.MustLoad(schema.ComponentSpec)
//	if err := s.Validate(spec); err != nil {
//		// errors.Is(err, errors.ErrInvalidSpec)
//	}
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/onboard/errors"
)

//go:embed schemas/*.json
var files embed.FS

// Embedded schema names.
const (
	ComponentSpec = "component-spec"
	DataFormat    = "data-format"
	DMaaP         = "dmaap"
)

// ValidationError lists every violation found in a document. It matches
// errors.ErrInvalidSpec.
type ValidationError struct {
	Schema string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(e.Issues, "; "))
}

// Is reports whether target is ErrInvalidSpec.
func (e *ValidationError) Is(target error) bool {
	return target == errors.ErrInvalidSpec
}

// Schema is a compiled JSON schema together with its raw document, which is
// kept for definition lookups and default extraction.
type Schema struct {
	name     string
	raw      map[string]any
	compiled *gojsonschema.Schema

	mu   sync.Mutex
	defs map[string]*gojsonschema.Schema
}

var (
	loadMu sync.Mutex
	loaded = map[string]*Schema{}
)

// Load returns the embedded schema called name.
func Load(name string) (*Schema, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if s, ok := loaded[name]; ok {
		return s, nil
	}

	data, err := files.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, errors.WrapFatal(err, "schema", "Load", "read "+name)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapFatal(err, "schema", "Load", "decode "+name)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, errors.WrapFatal(err, "schema", "Load", "compile "+name)
	}

	s := &Schema{
		name:     name,
		raw:      raw,
		compiled: compiled,
		defs:     make(map[string]*gojsonschema.Schema),
	}
	loaded[name] = s
	return s, nil
}

// MustLoad is Load for the embedded schema names, which always compile.
func MustLoad(name string) *Schema {
	s, err := Load(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Validate checks doc against the whole schema. doc may be a decoded JSON
// value or any value that marshals to JSON.
func (s *Schema) Validate(doc any) error {
	return validate(s.name, s.compiled, doc)
}

// ValidateDefinition checks doc against a single entry of the schema's
// definitions section.
func (s *Schema) ValidateDefinition(def string, doc any) error {
	compiled, err := s.definition(def)
	if err != nil {
		return err
	}
	return validate(s.name+"#"+def, compiled, doc)
}

// Properties returns the properties object of a definition, or of the root
// schema when def is empty. The result is shared and must not be modified.
func (s *Schema) Properties(def string) (map[string]any, bool) {
	node := s.raw
	if def != "" {
		defs, _ := s.raw["definitions"].(map[string]any)
		node, _ = defs[def].(map[string]any)
	}
	props, ok := node["properties"].(map[string]any)
	return props, ok
}

func (s *Schema) definition(def string) (*gojsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.defs[def]; ok {
		return c, nil
	}
	defs, _ := s.raw["definitions"].(map[string]any)
	if _, ok := defs[def]; !ok {
		return nil, errors.Invalid("schema", "ValidateDefinition",
			fmt.Sprintf("%s has no definition %q", s.name, def))
	}

	// Wrapping keeps intra-schema references resolvable.
	wrapper := map[string]any{
		"definitions": defs,
		"$ref":        "#/definitions/" + def,
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(wrapper))
	if err != nil {
		return nil, errors.WrapFatal(err, "schema", "ValidateDefinition", "compile "+def)
	}
	s.defs[def] = compiled
	return compiled, nil
}

func validate(name string, compiled *gojsonschema.Schema, doc any) error {
	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(errors.Join(errors.ErrParsingFailed, err), "schema", "Validate", "load "+name+" document")
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return &ValidationError{Schema: name, Issues: issues}
}

// ApplyDefaults fills target with the default of every property in
// properties that target lacks, recursing into nested objects that declare
// their own properties. Existing values are never replaced and no type
// checking is done. target is modified in place and returned; a nil target
// starts empty.
func ApplyDefaults(properties, target map[string]any) map[string]any {
	if target == nil {
		target = make(map[string]any)
	}

	for k, v := range properties {
		def, ok := v.(map[string]any)
		if !ok {
			continue
		}
		nested, ok := def["properties"].(map[string]any)
		if !ok {
			continue
		}
		switch inner := target[k].(type) {
		case nil:
			target[k] = ApplyDefaults(nested, nil)
		case map[string]any:
			target[k] = ApplyDefaults(nested, inner)
		}
	}

	for k, v := range properties {
		def, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if d, ok := def["default"]; ok {
			if _, exists := target[k]; !exists {
				target[k] = d
			}
		}
	}
	return target
}
