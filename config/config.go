// Package config holds the policy configuration file types for awf.yaml.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level awf.yaml policy file.
type Config struct {
	Version    int            `yaml:"version"`
	Allow      []string       `yaml:"allow,omitempty"`
	Block      []string       `yaml:"block,omitempty"`
	Proxy      ProxyConfig    `yaml:"proxy,omitempty"`
	Workload   WorkloadConfig `yaml:"workload,omitempty"`
	SSLBump    SSLBumpConfig  `yaml:"ssl_bump,omitempty"`
	HostAccess HostAccess     `yaml:"host_access,omitempty"`
	DNSServers []string       `yaml:"dns_servers,omitempty"`
	Logs       LogsConfig     `yaml:"logs,omitempty"`
}

// ProxyConfig tunes the proxy container.
type ProxyConfig struct {
	Image     string `yaml:"image,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	Memory    string `yaml:"memory,omitempty"`
	PidsLimit int    `yaml:"pids_limit,omitempty"`
}

// WorkloadConfig tunes the workload container.
type WorkloadConfig struct {
	Image     string            `yaml:"image,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Binds     []string          `yaml:"binds,omitempty"`
	Memory    string            `yaml:"memory,omitempty"`
	PidsLimit int               `yaml:"pids_limit,omitempty"`
}

// SSLBumpConfig enables TLS interception with externally generated CA
// material.
type SSLBumpConfig struct {
	Enabled   bool     `yaml:"enabled,omitempty"`
	CACert    string   `yaml:"ca_cert,omitempty"`
	CAKey     string   `yaml:"ca_key,omitempty"`
	AllowURLs []string `yaml:"allow_urls,omitempty"`
}

// HostAccess widens the proxy's port allowlist beyond 80/443.
type HostAccess struct {
	Ports []string `yaml:"ports,omitempty"`
}

// LogsConfig controls where run artifacts are kept.
type LogsConfig struct {
	PreserveDir string `yaml:"preserve_dir,omitempty"`
	AuditDB     string `yaml:"audit_db,omitempty"`
}

// Default returns an empty v1 policy. With no allow entries every egress
// request is denied.
func Default() *Config {
	return &Config{Version: 1}
}

// Parse parses raw YAML bytes into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Version != 1 {
		return nil, fmt.Errorf("policy config: unsupported version %d", cfg.Version)
	}
	return &cfg, nil
}

// Load reads and parses a policy file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config %s: %w", path, err)
	}
	return Parse(data)
}
