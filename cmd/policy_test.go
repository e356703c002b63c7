package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/githubnext/gh-aw-firewall-sub005/config"
)

func writeTestAwfYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "awf.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing awf.yaml: %v", err)
	}
	return path
}

func TestLoadPolicyConfig_Defaults(t *testing.T) {
	oldCfg := cfgFile
	cfgFile = ""
	defer func() { cfgFile = oldCfg }()

	cfg, err := loadPolicyConfig([]string{"github.com"}, []string{"evil.test"})
	if err != nil {
		t.Fatalf("loadPolicyConfig() error: %v", err)
	}
	if len(cfg.Allow) != 1 || cfg.Allow[0] != "github.com" {
		t.Errorf("Allow = %v, want [github.com]", cfg.Allow)
	}
	if len(cfg.Block) != 1 || cfg.Block[0] != "evil.test" {
		t.Errorf("Block = %v, want [evil.test]", cfg.Block)
	}
	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
}

func TestLoadPolicyConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := writeTestAwfYAML(t, dir, `
version: 1
allow:
  - github.com
  - "*.npmjs.org"
workload:
  image: node:22
`)

	oldCfg := cfgFile
	cfgFile = path
	defer func() { cfgFile = oldCfg }()

	cfg, err := loadPolicyConfig([]string{"pypi.org"}, nil)
	if err != nil {
		t.Fatalf("loadPolicyConfig() error: %v", err)
	}
	if len(cfg.Allow) != 3 {
		t.Fatalf("Allow = %v, want file domains plus flag domain", cfg.Allow)
	}
	if cfg.Allow[2] != "pypi.org" {
		t.Errorf("flag domains should append after file domains, got %v", cfg.Allow)
	}
	if cfg.Workload.Image != "node:22" {
		t.Errorf("Workload.Image = %q, want node:22", cfg.Workload.Image)
	}
}

func TestLoadPolicyFile_SchemaRejectsScalarAllow(t *testing.T) {
	dir := t.TempDir()
	path := writeTestAwfYAML(t, dir, `
version: 1
allow: github.com
`)

	if _, err := loadPolicyFile(path); err == nil {
		t.Fatal("expected schema error when allow is not a list")
	}
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	if _, err := loadPolicyFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing policy file")
	}
}

func TestValidatePolicy_BadDomain(t *testing.T) {
	cfg := config.Default()
	cfg.Allow = []string{"evil..com"}

	if err := validatePolicy(cfg); err == nil {
		t.Fatal("expected error for malformed domain")
	}
}

func TestValidatePolicy_WarningsDoNotFail(t *testing.T) {
	// Empty allowlist warns but stays valid.
	if err := validatePolicy(config.Default()); err != nil {
		t.Fatalf("warnings must not fail validation: %v", err)
	}
}

func TestCompileProxyPolicy_SSLBumpContainerPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Allow = []string{"github.com"}
	cfg.SSLBump.Enabled = true
	cfg.SSLBump.CACert = "/opt/awf/certs/ca.crt"
	cfg.SSLBump.CAKey = "/opt/awf/certs/ca.key"
	cfg.SSLBump.AllowURLs = []string{"https://github.com/myorg/*"}

	pol, err := compileProxyPolicy(cfg)
	if err != nil {
		t.Fatalf("compileProxyPolicy() error: %v", err)
	}
	if pol.SSLBump == nil {
		t.Fatal("SSLBump not compiled")
	}
	if pol.SSLBump.CACertPath != "/etc/squid/ssl/ca.crt" {
		t.Errorf("CACertPath = %q, want container path", pol.SSLBump.CACertPath)
	}
	if pol.SSLBump.CAKeyPath != "/etc/squid/ssl/ca.key" {
		t.Errorf("CAKeyPath = %q, want container path", pol.SSLBump.CAKeyPath)
	}
	if len(pol.SSLBump.URLPatterns) != 1 {
		t.Errorf("URLPatterns = %v", pol.SSLBump.URLPatterns)
	}
}

func TestCompileProxyPolicy_HostAccess(t *testing.T) {
	cfg := config.Default()
	cfg.Allow = []string{"github.com"}

	pol, err := compileProxyPolicy(cfg)
	if err != nil {
		t.Fatalf("compileProxyPolicy() error: %v", err)
	}
	if pol.HostAccess != nil {
		t.Error("HostAccess should be nil without extra ports")
	}

	cfg.HostAccess.Ports = []string{"5432"}
	pol, err = compileProxyPolicy(cfg)
	if err != nil {
		t.Fatalf("compileProxyPolicy() error: %v", err)
	}
	if pol.HostAccess == nil || len(pol.HostAccess.ExtraPorts) != 1 {
		t.Errorf("HostAccess = %+v, want one extra port", pol.HostAccess)
	}
}

func TestPlanFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workload.Image = "node:22"
	cfg.Workload.Memory = "1g"
	cfg.Workload.PidsLimit = 256
	cfg.SSLBump.Enabled = true
	cfg.SSLBump.CACert = "/opt/awf/certs/ca.crt"

	plan := planFromConfig(cfg, "/tmp/awf-test", []string{"curl", "https://github.com"})
	if plan.WorkloadImage != "node:22" {
		t.Errorf("WorkloadImage = %q", plan.WorkloadImage)
	}
	if plan.MemLimit != "1g" {
		t.Errorf("MemLimit = %q", plan.MemLimit)
	}
	if plan.PidsLimit != 256 {
		t.Errorf("PidsLimit = %d", plan.PidsLimit)
	}
	if plan.SSLBumpCADir != "/opt/awf/certs" {
		t.Errorf("SSLBumpCADir = %q", plan.SSLBumpCADir)
	}
	if plan.SquidConfPath() != "/tmp/awf-test/squid.conf" {
		t.Errorf("SquidConfPath = %q", plan.SquidConfPath())
	}
	if len(plan.Command) != 2 {
		t.Errorf("Command = %v", plan.Command)
	}
}
