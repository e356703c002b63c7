package policy

import "testing"

func TestMatchDomain_SubdomainInclusive(t *testing.T) {
	list, err := ParseDomainList([]string{"github.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	for _, host := range []string{"github.com", "api.github.com", "raw.api.github.com"} {
		d := MatchDomain(list, host)
		if !d.Allowed {
			t.Errorf("MatchDomain(%q).Allowed = false, want true", host)
		}
		if d.Matched != "github.com" {
			t.Errorf("MatchDomain(%q).Matched = %q, want %q", host, d.Matched, "github.com")
		}
	}
}

func TestMatchDomain_NoSuffixBypass(t *testing.T) {
	list, err := ParseDomainList([]string{"github.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	if MatchDomain(list, "evil-github.com").Allowed {
		t.Error("evil-github.com must not be allowed by a github.com entry")
	}
}

func TestMatchDomain_Wildcard(t *testing.T) {
	list, err := ParseDomainList([]string{"*.example.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	if !MatchDomain(list, "foo.example.com").Allowed {
		t.Error("foo.example.com should match *.example.com")
	}
	if MatchDomain(list, "example.org").Allowed {
		t.Error("example.org should be denied")
	}
}

func TestMatchDomain_DenyUnlisted(t *testing.T) {
	list, err := ParseDomainList([]string{"github.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	d := MatchDomain(list, "malware.test")
	if d.Allowed {
		t.Error("unlisted host should be denied")
	}
	if d.Matched != "" {
		t.Errorf("Matched = %q, want empty", d.Matched)
	}
}

func TestMatchDomain_CaseInsensitive(t *testing.T) {
	list, err := ParseDomainList([]string{"GitHub.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	if !MatchDomain(list, "API.GITHUB.COM").Allowed {
		t.Error("matching should be case-insensitive")
	}
}

func TestMatchDomain_ReportsProtocolScope(t *testing.T) {
	list, err := ParseDomainList([]string{"https://api.github.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	d := MatchDomain(list, "api.github.com")
	if !d.Allowed {
		t.Fatal("api.github.com should be allowed")
	}
	if d.Protocol != ProtocolHTTPS {
		t.Errorf("Protocol = %q, want %q", d.Protocol, ProtocolHTTPS)
	}
}

func TestMatchDomain_NilList(t *testing.T) {
	if MatchDomain(nil, "github.com").Allowed {
		t.Error("nil list should deny everything")
	}
}
