// Package policy compiles user-supplied domain allow/block lists into
// validated, protocol-aware match rules.
package policy

import (
	"regexp"
	"strings"
)

// Protocol restricts which request schemes an entry covers.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
	ProtocolBoth  Protocol = "both"
)

// Covers reports whether p satisfies requests scoped to other. Coverage is
// asymmetric: a both entry is only covered by a both pattern, while a both
// pattern covers everything.
func (p Protocol) Covers(other Protocol) bool {
	return p == ProtocolBoth || p == other
}

// ParsedDomain is a raw entry with its scheme prefix stripped. Domain keeps
// the original case for display; matching lowercases both sides.
type ParsedDomain struct {
	Domain   string
	Protocol Protocol
}

// DomainPattern is a wildcard entry plus its compiled, anchored match
// expression.
type DomainPattern struct {
	Original string
	Regex    string
	Protocol Protocol

	re *regexp.Regexp
}

// Matches reports whether host matches the pattern, ignoring case.
func (p *DomainPattern) Matches(host string) bool {
	return p.re.MatchString(strings.ToLower(host))
}

// PlainDomainEntry is a non-wildcard entry.
type PlainDomainEntry struct {
	Domain   string
	Protocol Protocol
}

// ParsedDomainList is a compiled policy list: plain domains partitioned
// from wildcard patterns. Produced atomically by ParseDomainList.
type ParsedDomainList struct {
	PlainDomains []PlainDomainEntry
	Patterns     []DomainPattern
}

// Empty reports whether the list holds no entries at all.
func (l *ParsedDomainList) Empty() bool {
	return l == nil || (len(l.PlainDomains) == 0 && len(l.Patterns) == 0)
}
