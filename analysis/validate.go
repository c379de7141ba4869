// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package analysis

import (
	"fmt"
	"strings"
)

// FieldKind is the expected JSON type of a schema field.
type FieldKind string

const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindObject FieldKind = "object"
	KindArray  FieldKind = "array"
)

// Field describes one expected field in a provider's findings.
type Field struct {
	Kind     FieldKind
	Required bool

	// Fields describes the members of an object kind.
	Fields map[string]Field
}

// Schema is the structural contract a provider's findings must satisfy.
// When Closed is set, unknown top-level fields are rejected; nested
// extras are tolerated.
type Schema struct {
	Fields map[string]Field
	Closed bool
}

// DefaultSchema returns the moderation verdict contract every adapter is
// prompted for: verdict, confidence, the six category flags, and an
// optional one-line reasoning.
func DefaultSchema() Schema {
	categories := map[string]Field{
		"spam":       {Kind: KindBool, Required: true},
		"harassment": {Kind: KindBool, Required: true},
		"hate":       {Kind: KindBool, Required: true},
		"sexual":     {Kind: KindBool, Required: true},
		"violence":   {Kind: KindBool, Required: true},
		"self_harm":  {Kind: KindBool, Required: true},
	}
	return Schema{
		Closed: true,
		Fields: map[string]Field{
			"verdict":    {Kind: KindString, Required: true},
			"confidence": {Kind: KindNumber, Required: true},
			"categories": {Kind: KindObject, Required: true, Fields: categories},
			"reasoning":  {Kind: KindString},
		},
	}
}

// Validate checks findings against the schema. A nil findings map fails
// whenever any field is required.
func (s Schema) Validate(findings map[string]interface{}) error {
	if err := validateFields(findings, s.Fields, ""); err != nil {
		return err
	}
	if s.Closed {
		for name := range findings {
			if _, ok := s.Fields[name]; !ok {
				return fmt.Errorf("findings: unexpected field %q", name)
			}
		}
	}
	return nil
}

func validateFields(values map[string]interface{}, fields map[string]Field, prefix string) error {
	for name, field := range fields {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		value, present := values[name]
		if !present {
			if field.Required {
				return fmt.Errorf("findings: missing required field %q", path)
			}
			continue
		}

		if err := checkKind(value, field.Kind, path); err != nil {
			return err
		}
		if field.Kind == KindObject && len(field.Fields) > 0 {
			nested := value.(map[string]interface{})
			if err := validateFields(nested, field.Fields, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkKind(value interface{}, kind FieldKind, path string) error {
	switch kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("findings: field %q is not a string", path)
		}
	case KindNumber:
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("findings: field %q is not a number", path)
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("findings: field %q is not a boolean", path)
		}
	case KindObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("findings: field %q is not an object", path)
		}
	case KindArray:
		if _, ok := value.([]interface{}); !ok {
			return fmt.Errorf("findings: field %q is not an array", path)
		}
	default:
		return fmt.Errorf("findings: field %q has unknown kind %q", path, kind)
	}
	return nil
}

// FieldPaths resolves dotted paths into findings through an explicit
// allow-list with a fixed maximum depth. Generic reflective access is
// off the table: an unlisted or too-deep path never resolves, no matter
// what the data contains.
type FieldPaths struct {
	allowed  map[string]bool
	maxDepth int
}

// DefaultMaxLookupDepth bounds path traversal when no depth is given.
const DefaultMaxLookupDepth = 4

// NewFieldPaths builds the allow-list. Paths deeper than maxDepth are
// rejected at construction so a misconfigured list fails fast.
func NewFieldPaths(paths []string, maxDepth int) (*FieldPaths, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxLookupDepth
	}
	allowed := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("field paths: empty path")
		}
		if depth := strings.Count(p, ".") + 1; depth > maxDepth {
			return nil, fmt.Errorf("field paths: %q exceeds max depth %d", p, maxDepth)
		}
		allowed[p] = true
	}
	return &FieldPaths{allowed: allowed, maxDepth: maxDepth}, nil
}

// DefaultFieldPaths allow-lists the fields of the default verdict
// contract.
func DefaultFieldPaths() *FieldPaths {
	paths, err := NewFieldPaths([]string{
		"verdict",
		"confidence",
		"reasoning",
		"categories.spam",
		"categories.harassment",
		"categories.hate",
		"categories.sexual",
		"categories.violence",
		"categories.self_harm",
	}, DefaultMaxLookupDepth)
	if err != nil {
		panic(err)
	}
	return paths
}

// Lookup resolves an allow-listed dotted path. The second return is
// false when the path is not listed, does not resolve, or traverses a
// non-object.
func (f *FieldPaths) Lookup(findings map[string]interface{}, path string) (interface{}, bool) {
	if findings == nil || !f.allowed[path] {
		return nil, false
	}

	parts := strings.Split(path, ".")
	if len(parts) > f.maxDepth {
		return nil, false
	}

	var current interface{} = findings
	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
