package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// ParseDomainWithProtocol strips an optional http:// or https:// prefix and
// a trailing slash from a raw entry. No prefix means the entry covers both
// protocols. The stored domain keeps its original case.
func ParseDomainWithProtocol(input string) ParsedDomain {
	s := strings.TrimSpace(input)
	proto := ProtocolBoth
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"):
		proto = ProtocolHTTP
		s = s[len("http://"):]
	case strings.HasPrefix(lower, "https://"):
		proto = ProtocolHTTPS
		s = s[len("https://"):]
	}
	s = strings.TrimSuffix(s, "/")
	return ParsedDomain{Domain: s, Protocol: proto}
}

// IsWildcardPattern reports whether the protocol-stripped entry contains a
// wildcard.
func IsWildcardPattern(domain string) bool {
	return strings.Contains(domain, "*")
}

var onlyWildcardsAndDots = regexp.MustCompile(`^[*.]+$`)

// ValidateDomainOrPattern rejects entries that are malformed or so broad
// they would effectively disable filtering. An operator typo like "*" must
// fail loudly instead of silently allowing everything.
func ValidateDomainOrPattern(input string) error {
	d := ParseDomainWithProtocol(input).Domain
	switch {
	case d == "":
		return fmt.Errorf("invalid domain %q: empty", input)
	case strings.Contains(d, ".."):
		return fmt.Errorf("invalid domain %q: empty label", input)
	case d == "." || d == "*." || d == ".*" || d == "*" || d == "*.*":
		return fmt.Errorf("invalid domain %q: matches everything", input)
	case onlyWildcardsAndDots.MatchString(d):
		return fmt.Errorf("invalid domain %q: only wildcards and dots", input)
	}

	segments := strings.Split(d, ".")
	wildcards := 0
	for _, seg := range segments {
		if strings.Contains(seg, "*") {
			wildcards++
		}
	}
	// A pattern whose wildcard segments reach all but one of its labels
	// (*.com, *.*.com) matches far too much to be an intentional policy.
	if wildcards >= len(segments)-1 {
		return fmt.Errorf("pattern %q is too broad", input)
	}
	return nil
}

// WildcardToRegex translates a wildcard pattern into an anchored regular
// expression. Anchoring is load-bearing: an unanchored expression would let
// evil-github.com satisfy a github.com policy.
func WildcardToRegex(pattern string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, c := range pattern {
		switch c {
		case '*':
			b.WriteString(".*")
		case '.':
			b.WriteString(`\.`)
		case '^', '$', '+', '?', '{', '}', '[', ']', '|', '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteRune(c)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('$')
	return b.String()
}

// ParseDomainList validates and compiles a raw domain list. Compilation is
// atomic: the first invalid entry fails the whole list and no partial
// result is returned.
func ParseDomainList(domains []string) (*ParsedDomainList, error) {
	list := &ParsedDomainList{}
	for _, raw := range domains {
		if err := ValidateDomainOrPattern(raw); err != nil {
			return nil, err
		}
		parsed := ParseDomainWithProtocol(raw)
		if !IsWildcardPattern(parsed.Domain) {
			list.PlainDomains = append(list.PlainDomains, PlainDomainEntry{
				Domain:   parsed.Domain,
				Protocol: parsed.Protocol,
			})
			continue
		}
		expr := WildcardToRegex(parsed.Domain)
		re, err := regexp.Compile(WildcardToRegex(strings.ToLower(parsed.Domain)))
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", raw, err)
		}
		list.Patterns = append(list.Patterns, DomainPattern{
			Original: parsed.Domain,
			Regex:    expr,
			Protocol: parsed.Protocol,
			re:       re,
		})
	}
	return list, nil
}

// IsDomainMatchedByPattern reports whether entry is already covered by one
// of patterns, for redundant-entry detection. Coverage needs both a regex
// match and protocol coverage: a single-protocol pattern never covers a
// both-tagged entry even when the strings match.
func IsDomainMatchedByPattern(entry PlainDomainEntry, patterns []DomainPattern) bool {
	for i := range patterns {
		p := &patterns[i]
		if !p.Protocol.Covers(entry.Protocol) {
			continue
		}
		if p.Matches(entry.Domain) {
			return true
		}
	}
	return false
}
