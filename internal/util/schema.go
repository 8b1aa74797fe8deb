package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a value rejected by a JSON schema.
type ValidationError struct {
	Field   string `json:"field,omitempty"` // JSON pointer of the offending location
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}

	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Unwrap returns the underlying schema error.
func (e *ValidationError) Unwrap() error { return e.Cause }

// Schema is a compiled JSON schema.
type Schema struct {
	compiled *jsonschema.Schema
}

// CompileSchema compiles a JSON schema given as a Go map. The map is
// normalized through JSON first so []string and other typed Go values are
// accepted.
func CompileSchema(schema map[string]any) (*Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("normalize schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Schema{compiled: compiled}, nil
}

// Validate checks value against the schema. A nil schema accepts everything.
func (s *Schema) Validate(value any) error {
	if s == nil {
		return nil
	}

	v, err := toJSONValue(value)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("value is not JSON encodable: %v", err), Cause: err}
	}

	if err := s.compiled.Validate(v); err != nil {
		ve := &ValidationError{Message: err.Error(), Cause: err}

		if verr, ok := err.(*jsonschema.ValidationError); ok {
			for len(verr.Causes) > 0 {
				verr = verr.Causes[0]
			}
			ve.Field = "/" + strings.Join(verr.InstanceLocation, "/")
		}

		return ve
	}

	return nil
}

// ValidateJSON decodes raw JSON and validates it, returning the decoded value.
func (s *Schema) ValidateJSON(raw string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("invalid JSON: %v", err), Cause: err}
	}

	if err := s.Validate(v); err != nil {
		return nil, err
	}

	return v, nil
}

// ValidateParameters validates params against a JSON schema map.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	s, err := CompileSchema(schema)
	if err != nil {
		return err
	}

	if params == nil {
		params = map[string]any{}
	}

	return s.Validate(params)
}

func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// CreateSchema creates a JSON schema from a Go struct using reflection.
// Fields tagged omitempty or typed as pointers are optional.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}

	properties := make(map[string]any)
	required := make([]string, 0)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		fieldName := field.Name
		if name, _, _ := strings.Cut(jsonTag, ","); name != "" {
			fieldName = name
		}

		fieldSchema := map[string]any{
			"type": jsonType(field.Type),
		}

		if description := field.Tag.Get("description"); description != "" {
			fieldSchema["description"] = description
		}

		properties[fieldName] = fieldSchema

		if !hasOmitEmpty(jsonTag) && field.Type.Kind() != reflect.Ptr {
			required = append(required, fieldName)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}

	return false
}
