// Package schemas provides embedded JSON Schema documents for awf
// configuration files.
package schemas

import _ "embed"

// PolicyV1Schema is the JSON Schema for the v1 policy configuration file.
//
//go:embed policy_v1.json
var PolicyV1Schema []byte
