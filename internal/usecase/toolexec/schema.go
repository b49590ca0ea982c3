package toolexec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"conductor/internal/domain"
)

// JSON schema types accepted in ParamSpec.Type. An empty type accepts any value.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// jsonSchema renders params as a JSON Schema object document.
func jsonSchema(params map[string]domain.ParamSpec) map[string]any {
	props := make(map[string]any, len(params))
	required := make([]string, 0)
	for name, p := range params {
		prop := map[string]any{}
		if p.Type != "" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// compileSchema compiles the parameter table for argument validation.
func compileSchema(tool string, params map[string]domain.ParamSpec) (*jsonschema.Schema, error) {
	for name, p := range params {
		switch p.Type {
		case "", TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		default:
			return nil, fmt.Errorf("%w: tool %s parameter %s has unknown type %q", domain.ErrInvalidInput, tool, name, p.Type)
		}
	}
	raw, err := json.Marshal(jsonSchema(params))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %q: %w", tool, err)
	}
	url := tool + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", tool, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", tool, err)
	}
	return compiled, nil
}

// normalize round-trips args through encoding/json so the validator sees
// the same value shapes a wire client would send.
func normalize(args map[string]any) (any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// paramsFromStruct derives a parameter table from the exported fields of a
// struct type. Field names come from json tags; pointer fields and
// omitempty fields are optional; `default:"..."` supplies a default and
// `desc:"..."` a description.
func paramsFromStruct(t reflect.Type) (map[string]domain.ParamSpec, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: parameter type %s is not a struct", domain.ErrInvalidInput, t)
	}

	params := make(map[string]domain.ParamSpec, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		omitempty := false
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, opts, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
			omitempty = strings.Contains(opts, "omitempty")
		}

		ft := f.Type
		optional := omitempty
		if ft.Kind() == reflect.Pointer {
			optional = true
			ft = ft.Elem()
		}

		spec := domain.ParamSpec{
			Type:        kindType(ft),
			Description: f.Tag.Get("desc"),
		}
		if def, ok := f.Tag.Lookup("default"); ok {
			v, err := parseDefault(ft, def)
			if err != nil {
				return nil, fmt.Errorf("%w: field %s default %q: %v", domain.ErrInvalidInput, f.Name, def, err)
			}
			spec.Default = v
			optional = true
		}
		spec.Required = !optional
		params[name] = spec
	}
	return params, nil
}

func kindType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return TypeString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeNumber
	case reflect.Bool:
		return TypeBoolean
	case reflect.Slice, reflect.Array:
		return TypeArray
	case reflect.Map, reflect.Struct:
		return TypeObject
	default:
		return ""
	}
}

func parseDefault(t reflect.Type, s string) (any, error) {
	switch kindType(t) {
	case TypeString:
		return s, nil
	case TypeInteger:
		return strconv.ParseInt(s, 10, 64)
	case TypeNumber:
		return strconv.ParseFloat(s, 64)
	case TypeBoolean:
		return strconv.ParseBool(s)
	default:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
