package policy

import "strings"

// Decision is the result of evaluating a host against a compiled policy.
type Decision struct {
	Allowed  bool
	Matched  string   // entry that decided the outcome, empty when unlisted
	Protocol Protocol // protocol scope of the matching entry
}

// MatchDomain evaluates host the way the generated proxy ACLs would: plain
// entries match the exact domain and any subdomain, wildcard patterns match
// by their compiled expression. Unlisted hosts are denied.
func MatchDomain(list *ParsedDomainList, host string) Decision {
	if list == nil {
		return Decision{}
	}
	h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	for _, e := range list.PlainDomains {
		d := strings.ToLower(e.Domain)
		if h == d || strings.HasSuffix(h, "."+d) {
			return Decision{Allowed: true, Matched: e.Domain, Protocol: e.Protocol}
		}
	}
	for i := range list.Patterns {
		p := &list.Patterns[i]
		if p.Matches(h) {
			return Decision{Allowed: true, Matched: p.Original, Protocol: p.Protocol}
		}
	}
	return Decision{}
}
