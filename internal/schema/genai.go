// Package schema converts JSON Schema documents into provider-specific
// schema shapes. Conversion is a pure function of its inputs; gateways
// choose which converter to apply when declaring tools.
package schema

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

const (
	componentsPrefix = "#/components/schemas/"
	defsPrefix       = "#/$defs/"
)

// Converter turns [jsonschema.Schema] values into [genai.Schema] values.
type Converter struct {
	// Components resolves "#/components/schemas/Name" references.
	Components map[string]*jsonschema.Schema

	// Logger receives warnings about lossy conversions. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// ToGenAI converts s with the given component schemas using the
// default logger.
func ToGenAI(s *jsonschema.Schema, components map[string]*jsonschema.Schema) (*genai.Schema, error) {
	return Converter{Components: components}.Convert(s)
}

// Convert converts s. References are resolved against c.Components and
// the $defs of s itself. A reference that is malformed, unresolvable,
// or circular is an error.
func (c Converter) Convert(s *jsonschema.Schema) (*genai.Schema, error) {
	if s == nil {
		return nil, nil
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c.convert(s, s.Defs, make(map[string]bool))
}

func (c Converter) convert(s *jsonschema.Schema, defs map[string]*jsonschema.Schema, inProgress map[string]bool) (*genai.Schema, error) {
	if s.Ref != "" {
		return c.resolve(s.Ref, defs, inProgress)
	}

	gs := &genai.Schema{
		Type:        c.typeOf(s),
		Format:      s.Format,
		Description: s.Description,
		Title:       s.Title,
		Pattern:     s.Pattern,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
		MinLength:   int64Ptr(s.MinLength),
		MaxLength:   int64Ptr(s.MaxLength),
		MinItems:    int64Ptr(s.MinItems),
		MaxItems:    int64Ptr(s.MaxItems),
	}
	if nullable(s) {
		gs.Nullable = genai.Ptr(true)
	}
	if len(s.Enum) > 0 {
		gs.Enum = c.enum(s.Enum)
	}

	switch gs.Type {
	case genai.TypeArray:
		if s.Items == nil {
			c.Logger.Warn("array schema has no items; provider may reject it")
			break
		}
		items, err := c.convert(s.Items, defs, inProgress)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		gs.Items = items

	case genai.TypeObject:
		if len(s.Properties) > 0 {
			gs.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, prop := range s.Properties {
				if prop == nil {
					continue
				}
				converted, err := c.convert(prop, defs, inProgress)
				if err != nil {
					return nil, fmt.Errorf("property %s: %w", name, err)
				}
				gs.Properties[name] = converted
			}
		}
		if len(s.Required) > 0 {
			gs.Required = append([]string(nil), s.Required...)
		}
	}
	return gs, nil
}

// resolve follows ref. The in-progress set holds every reference on
// the current path; meeting one again means the schema is circular.
func (c Converter) resolve(ref string, defs map[string]*jsonschema.Schema, inProgress map[string]bool) (*genai.Schema, error) {
	if inProgress[ref] {
		return nil, fmt.Errorf("circular reference %q", ref)
	}

	var (
		target *jsonschema.Schema
		ok     bool
	)
	switch {
	case strings.HasPrefix(ref, componentsPrefix):
		name := strings.TrimPrefix(ref, componentsPrefix)
		if name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("malformed reference %q: want #/components/schemas/Name", ref)
		}
		if c.Components == nil {
			return nil, fmt.Errorf("cannot resolve %q: no component schemas provided", ref)
		}
		target, ok = c.Components[name]

	case strings.HasPrefix(ref, defsPrefix):
		name := strings.TrimPrefix(ref, defsPrefix)
		if name == "" || strings.Contains(name, "/") {
			return nil, fmt.Errorf("malformed reference %q: want #/$defs/Name", ref)
		}
		target, ok = defs[name]

	default:
		return nil, fmt.Errorf("unsupported reference %q: only #/components/schemas/Name and #/$defs/Name are supported", ref)
	}
	if !ok || target == nil {
		return nil, fmt.Errorf("reference %q not found", ref)
	}

	inProgress[ref] = true
	defer delete(inProgress, ref)
	return c.convert(target, defs, inProgress)
}

func (c Converter) typeOf(s *jsonschema.Schema) genai.Type {
	name := s.Type
	if name == "" {
		var named []string
		for _, t := range s.Types {
			if t != "null" {
				named = append(named, t)
			}
		}
		if len(named) == 1 {
			name = named[0]
		} else if len(named) > 1 {
			c.Logger.Warn("union schema types are not supported; leaving type unspecified", "types", s.Types)
			return genai.TypeUnspecified
		}
	}

	switch name {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	case "null":
		return genai.TypeUnspecified
	case "":
	default:
		c.Logger.Warn("unsupported schema type; leaving type unspecified", "type", name)
		return genai.TypeUnspecified
	}

	if s.Items != nil {
		return genai.TypeArray
	}
	if s.Properties != nil || s.AdditionalProperties != nil {
		return genai.TypeObject
	}
	c.Logger.Warn("schema type is missing and cannot be inferred; leaving type unspecified")
	return genai.TypeUnspecified
}

func nullable(s *jsonschema.Schema) bool {
	if s.Type == "null" {
		return true
	}
	for _, t := range s.Types {
		if t == "null" {
			return true
		}
	}
	return false
}

// enum returns values as strings. Scalar non-string values are
// stringified with a warning; composite values drop the enum entirely.
func (c Converter) enum(values []any) []string {
	out := make([]string, 0, len(values))
	converted := false
	for _, v := range values {
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case nil:
			out = append(out, "null")
			converted = true
		case bool, float64, float32, int, int64, int32:
			out = append(out, fmt.Sprint(v))
			converted = true
		default:
			c.Logger.Warn("enum contains composite values; dropping enum", "value", v)
			return nil
		}
	}
	if converted {
		c.Logger.Warn("enum contains non-string values; converted to strings")
	}
	return out
}

func int64Ptr(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}
