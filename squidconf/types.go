// Package squidconf generates the forward-proxy ACL configuration that
// enforces a compiled domain policy.
package squidconf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/githubnext/gh-aw-firewall-sub005/policy"
)

// DefaultListenPort is the proxy port clients are pointed at.
const DefaultListenPort = 3128

// ProxyPolicy aggregates everything the generator needs: compiled allow and
// block lists, the listen port, and the optional SSL-Bump and host-access
// extensions.
type ProxyPolicy struct {
	Allowed    *policy.ParsedDomainList
	Blocked    *policy.ParsedDomainList
	ListenPort int
	SSLBump    *SSLBumpConfig
	HostAccess *HostAccessConfig
}

// SSLBumpConfig enables TLS interception. The CA material is generated
// externally per run; only the paths are referenced here.
type SSLBumpConfig struct {
	CACertPath string
	CAKeyPath  string
	CertDBPath string
	// URLPatterns are wildcard expressions over full decrypted request
	// URLs, evaluated after interception.
	URLPatterns []string
}

// HostAccessConfig widens the permitted destination ports beyond 80/443.
type HostAccessConfig struct {
	// ExtraPorts holds single ports ("8080") or ranges ("9000-9100").
	ExtraPorts []string
}

// ValidateURLPattern rejects URL patterns that do not carry an explicit
// https:// scheme or whose path is wildcard-only. Plain domain filtering
// must go through the domain list, not URL patterns.
func ValidateURLPattern(pattern string) error {
	p := strings.TrimSpace(pattern)
	if !strings.HasPrefix(strings.ToLower(p), "https://") {
		return fmt.Errorf("url pattern %q must use an explicit https:// scheme", pattern)
	}
	rest := p[len("https://"):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return fmt.Errorf("url pattern %q has no path; use a domain entry instead", pattern)
	}
	if strings.Trim(rest[slash:], "/*") == "" {
		return fmt.Errorf("url pattern %q has a wildcard-only path; use a domain entry instead", pattern)
	}
	if rest[:slash] == "" {
		return fmt.Errorf("url pattern %q has no host", pattern)
	}
	return nil
}

// ValidatePortSpec accepts a single port or an inclusive low-high range.
func ValidatePortSpec(spec string) error {
	parse := func(s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 65535 {
			return 0, fmt.Errorf("port %q out of range", s)
		}
		return n, nil
	}

	low, high, ok := strings.Cut(spec, "-")
	l, err := parse(low)
	if err != nil {
		return fmt.Errorf("invalid port spec %q: %w", spec, err)
	}
	if !ok {
		return nil
	}
	h, err := parse(high)
	if err != nil {
		return fmt.Errorf("invalid port spec %q: %w", spec, err)
	}
	if h < l {
		return fmt.Errorf("invalid port spec %q: range is reversed", spec)
	}
	return nil
}

func (p *ProxyPolicy) validate() error {
	if p.ListenPort < 0 || p.ListenPort > 65535 {
		return fmt.Errorf("invalid listen port %d", p.ListenPort)
	}
	if p.SSLBump != nil {
		if p.SSLBump.CACertPath == "" || p.SSLBump.CAKeyPath == "" {
			return fmt.Errorf("ssl-bump requires CA cert and key paths")
		}
		for _, u := range p.SSLBump.URLPatterns {
			if err := ValidateURLPattern(u); err != nil {
				return err
			}
		}
	}
	if p.HostAccess != nil {
		for _, spec := range p.HostAccess.ExtraPorts {
			if err := ValidatePortSpec(spec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *ProxyPolicy) listenPort() int {
	if p.ListenPort == 0 {
		return DefaultListenPort
	}
	return p.ListenPort
}
