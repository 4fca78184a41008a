// Package jsonschema validates task input/output schemas and instances.
//
// Kiln tasks carry their schemas as JSON strings so they diff cleanly on
// disk. Only object schemas with declared properties are accepted; top level
// arrays are valid JSON Schema but routinely confuse providers.
package jsonschema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiled pairs the parsed document with its compiled validator.
type compiled struct {
	doc    map[string]any
	schema *jsonschema.Schema
}

func compile(schemaStr string) (*compiled, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaStr))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("JSON schema must be an object, got %T", doc)
	}
	if t, _ := obj["type"].(string); t != "object" {
		return nil, fmt.Errorf("JSON schema must have \"type\": \"object\"")
	}
	if _, ok := obj["properties"]; !ok {
		return nil, fmt.Errorf("JSON schema must declare properties")
	}

	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	schema, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return &compiled{doc: obj, schema: schema}, nil
}

// Check verifies that schemaStr is a valid object schema.
func Check(schemaStr string) error {
	_, err := compile(schemaStr)
	return err
}

// Parse returns the schema document as a map, after validating it.
func Parse(schemaStr string) (map[string]any, error) {
	c, err := compile(schemaStr)
	if err != nil {
		return nil, err
	}
	return c.doc, nil
}

// ValidateInstance validates a decoded JSON value against a schema string.
// The returned error is user facing; it points at the structured data docs
// because schema mismatches are almost always a model output problem.
func ValidateInstance(instance any, schemaStr string) error {
	c, err := compile(schemaStr)
	if err != nil {
		return err
	}
	if err := c.schema.Validate(instance); err != nil {
		return fmt.Errorf("this task requires a specific output schema. While the model produced JSON, that JSON didn't meet the schema. Search 'Troubleshooting Structured Data Issues' in our docs for more information. The error from the schema check was: %w", err)
	}
	return nil
}

var jsonKeyRe = regexp.MustCompile(`[^a-z0-9_]`)

// JSONKey converts a free-form name to a valid JSON key.
func JSONKey(s string) string {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	return jsonKeyRe.ReplaceAllString(s, "")
}
