package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
version: 1
allow:
  - github.com
  - "*.githubusercontent.com"
  - http://archive.ubuntu.com
block:
  - evil.example.com
proxy:
  port: 3129
  memory: 512m
workload:
  image: node:22
  env:
    CI: "true"
  binds:
    - /src:/workspace:ro
ssl_bump:
  enabled: true
  ca_cert: /tmp/ca.crt
  ca_key: /tmp/ca.key
  allow_urls:
    - https://api.github.com/repos/*
host_access:
  ports: ["8080", "9000-9010"]
dns_servers: ["172.30.0.1"]
logs:
  audit_db: /var/lib/awf/audit.db
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Allow) != 3 || cfg.Allow[1] != "*.githubusercontent.com" {
		t.Errorf("Allow = %v", cfg.Allow)
	}
	if len(cfg.Block) != 1 || cfg.Block[0] != "evil.example.com" {
		t.Errorf("Block = %v", cfg.Block)
	}
	if cfg.Proxy.Port != 3129 || cfg.Proxy.Memory != "512m" {
		t.Errorf("Proxy = %+v", cfg.Proxy)
	}
	if cfg.Workload.Image != "node:22" || cfg.Workload.Env["CI"] != "true" {
		t.Errorf("Workload = %+v", cfg.Workload)
	}
	if !cfg.SSLBump.Enabled || cfg.SSLBump.CACert != "/tmp/ca.crt" {
		t.Errorf("SSLBump = %+v", cfg.SSLBump)
	}
	if len(cfg.HostAccess.Ports) != 2 {
		t.Errorf("HostAccess = %+v", cfg.HostAccess)
	}
	if cfg.Logs.AuditDB != "/var/lib/awf/audit.db" {
		t.Errorf("Logs = %+v", cfg.Logs)
	}
}

func TestParse_DefaultsVersion(t *testing.T) {
	cfg, err := Parse([]byte("allow: [github.com]\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
}

func TestParse_RejectsUnsupportedVersion(t *testing.T) {
	_, err := Parse([]byte("version: 2\n"))
	if err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Errorf("Parse version 2: %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("allow: [unterminated\n")); err == nil {
		t.Error("Parse did not fail on invalid yaml")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "awf.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Allow) != 3 {
		t.Errorf("Allow = %v", cfg.Allow)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load did not fail on missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Version != 1 || len(cfg.Allow) != 0 {
		t.Errorf("Default = %+v", cfg)
	}
}
