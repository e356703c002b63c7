// Package validate provides JSON Schema and semantic validation for awf
// policy configuration.
package validate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/githubnext/gh-aw-firewall-sub005/schemas"
)

// The policy schema compiles once; every Load and every validate subcommand
// invocation reuses it.
var (
	policySchema    *gojsonschema.Schema
	policySchemaErr error
	schemaOnce      sync.Once
)

func compiledPolicySchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		src := gojsonschema.NewBytesLoader(schemas.PolicyV1Schema)
		policySchema, policySchemaErr = gojsonschema.NewSchema(src)
	})
	return policySchema, policySchemaErr
}

// ValidateSchema validates a policy document (as JSON bytes) against the v1
// schema. It returns a slice of violation descriptions and an error if
// schema compilation or validation itself fails.
func ValidateSchema(jsonData []byte) ([]string, error) {
	schema, err := compiledPolicySchema()
	if err != nil {
		return nil, fmt.Errorf("compiling policy schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("validating policy config: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		violations = append(violations, re.String())
	}
	return violations, nil
}

// YAMLToJSON re-encodes a YAML document as JSON for schema validation.
func YAMLToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting to json: %w", err)
	}
	return out, nil
}
