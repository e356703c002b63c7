package validate

import (
	"strings"
	"testing"
)

func TestValidateSchema_AcceptsWellFormedPolicy(t *testing.T) {
	doc := []byte(`{
		"version": 1,
		"allow": ["github.com", "*.githubusercontent.com"],
		"block": ["evil.example.com"],
		"proxy": {"port": 3128, "memory": "256m"},
		"workload": {"image": "node:22", "env": {"CI": "true"}},
		"ssl_bump": {"enabled": true, "ca_cert": "/tmp/ca.crt", "ca_key": "/tmp/ca.key"},
		"host_access": {"ports": ["8080"]},
		"dns_servers": ["172.30.0.1"],
		"logs": {"audit_db": "audit.db"}
	}`)
	violations, err := ValidateSchema(doc)
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("violations = %v", violations)
	}
}

func TestValidateSchema_AcceptsEmptyPolicy(t *testing.T) {
	violations, err := ValidateSchema([]byte(`{}`))
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if len(violations) != 0 {
		t.Errorf("violations = %v", violations)
	}
}

func TestValidateSchema_RejectsUnknownKey(t *testing.T) {
	violations, err := ValidateSchema([]byte(`{"allowed": ["github.com"]}`))
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if len(violations) == 0 {
		t.Error("unknown key produced no violations")
	}
}

func TestValidateSchema_RejectsWrongType(t *testing.T) {
	violations, err := ValidateSchema([]byte(`{"allow": "github.com"}`))
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if len(violations) == 0 {
		t.Error("wrong type produced no violations")
	}
}

func TestValidateSchema_RejectsBadVersion(t *testing.T) {
	violations, err := ValidateSchema([]byte(`{"version": 2}`))
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if len(violations) == 0 {
		t.Error("version 2 produced no violations")
	}
}

func TestYAMLToJSON(t *testing.T) {
	out, err := YAMLToJSON([]byte("allow:\n  - github.com\nversion: 1\n"))
	if err != nil {
		t.Fatalf("YAMLToJSON: %v", err)
	}
	s := string(out)
	if !strings.Contains(s, `"allow":["github.com"]`) || !strings.Contains(s, `"version":1`) {
		t.Errorf("YAMLToJSON = %s", s)
	}
}

func TestYAMLToJSON_InvalidYAML(t *testing.T) {
	if _, err := YAMLToJSON([]byte("allow: [broken\n")); err == nil {
		t.Error("YAMLToJSON did not fail on invalid yaml")
	}
}
