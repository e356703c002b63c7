package validate

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/githubnext/gh-aw-firewall-sub005/config"
	"github.com/githubnext/gh-aw-firewall-sub005/policy"
	"github.com/githubnext/gh-aw-firewall-sub005/squidconf"
)

var memoryPattern = regexp.MustCompile(`(?i)^[1-9][0-9]*[bkmg]?$`)

// ValidationResult holds errors and warnings from policy validation.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// ValidateConfig checks a parsed policy for errors and warnings beyond what
// the JSON schema expresses: domain syntax, URL patterns, port specs and
// cross-field consistency.
func ValidateConfig(cfg *config.Config) *ValidationResult {
	r := &ValidationResult{}

	checkDomains(r, "allow", cfg.Allow)
	checkDomains(r, "block", cfg.Block)

	if len(cfg.Allow) == 0 {
		r.Warnings = append(r.Warnings, "no allowed domains configured; every egress request will be denied")
	}
	for _, b := range cfg.Block {
		for _, a := range cfg.Allow {
			if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
				r.Warnings = append(r.Warnings, fmt.Sprintf("%q appears in both allow and block; block wins", b))
			}
		}
	}

	if cfg.SSLBump.Enabled {
		if cfg.SSLBump.CACert == "" || cfg.SSLBump.CAKey == "" {
			r.Errors = append(r.Errors, "ssl_bump: ca_cert and ca_key are required when enabled")
		}
		for i, u := range cfg.SSLBump.AllowURLs {
			if err := squidconf.ValidateURLPattern(u); err != nil {
				r.Errors = append(r.Errors, fmt.Sprintf("ssl_bump.allow_urls[%d]: %v", i, err))
			}
		}
	} else if len(cfg.SSLBump.AllowURLs) > 0 {
		r.Warnings = append(r.Warnings, "ssl_bump.allow_urls set but ssl_bump.enabled is false; URL patterns are ignored")
	}

	for i, p := range cfg.HostAccess.Ports {
		if err := squidconf.ValidatePortSpec(p); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("host_access.ports[%d]: %v", i, err))
		}
	}

	for i, ip := range cfg.DNSServers {
		if net.ParseIP(ip) == nil {
			r.Errors = append(r.Errors, fmt.Sprintf("dns_servers[%d]: %q is not an IP address", i, ip))
		}
	}

	if cfg.Proxy.Port != 0 && (cfg.Proxy.Port < 1 || cfg.Proxy.Port > 65535) {
		r.Errors = append(r.Errors, fmt.Sprintf("proxy.port %d is out of range", cfg.Proxy.Port))
	}
	if cfg.Proxy.Memory != "" && !memoryPattern.MatchString(cfg.Proxy.Memory) {
		r.Errors = append(r.Errors, fmt.Sprintf("proxy.memory %q is not a size (e.g. 256m, 2g)", cfg.Proxy.Memory))
	}
	if cfg.Workload.Memory != "" && !memoryPattern.MatchString(cfg.Workload.Memory) {
		r.Errors = append(r.Errors, fmt.Sprintf("workload.memory %q is not a size (e.g. 256m, 2g)", cfg.Workload.Memory))
	}

	for i, bind := range cfg.Workload.Binds {
		parts := strings.Split(bind, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			r.Errors = append(r.Errors, fmt.Sprintf("workload.binds[%d]: %q is not src:dst[:mode]", i, bind))
		}
	}

	return r
}

func checkDomains(r *ValidationResult, field string, entries []string) {
	for i, raw := range entries {
		parsed := policy.ParseDomainWithProtocol(raw)
		if err := policy.ValidateDomainOrPattern(parsed.Domain); err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("%s[%d]: %v", field, i, err))
		}
	}
}
