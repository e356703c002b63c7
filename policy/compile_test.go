package policy

import (
	"regexp"
	"strings"
	"testing"
)

func TestParseDomainWithProtocol_NoPrefix(t *testing.T) {
	p := ParseDomainWithProtocol("github.com")
	if p.Domain != "github.com" {
		t.Errorf("Domain = %q, want %q", p.Domain, "github.com")
	}
	if p.Protocol != ProtocolBoth {
		t.Errorf("Protocol = %q, want %q", p.Protocol, ProtocolBoth)
	}
}

func TestParseDomainWithProtocol_HTTPSPrefix(t *testing.T) {
	p := ParseDomainWithProtocol("https://Example.com/")
	if p.Domain != "Example.com" {
		t.Errorf("Domain = %q, want case preserved %q", p.Domain, "Example.com")
	}
	if p.Protocol != ProtocolHTTPS {
		t.Errorf("Protocol = %q, want %q", p.Protocol, ProtocolHTTPS)
	}
}

func TestParseDomainWithProtocol_HTTPPrefix(t *testing.T) {
	p := ParseDomainWithProtocol("http://api.example.com")
	if p.Domain != "api.example.com" {
		t.Errorf("Domain = %q, want %q", p.Domain, "api.example.com")
	}
	if p.Protocol != ProtocolHTTP {
		t.Errorf("Protocol = %q, want %q", p.Protocol, ProtocolHTTP)
	}
}

func TestParseDomainWithProtocol_TrimsWhitespace(t *testing.T) {
	p := ParseDomainWithProtocol("  github.com  ")
	if p.Domain != "github.com" {
		t.Errorf("Domain = %q, want %q", p.Domain, "github.com")
	}
}

func TestValidateDomainOrPattern_Rejections(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"*",
		"*.*",
		"*.*.*",
		"*.*.com",
		"*.com",
		"github..com",
		".",
		"*.",
		".*",
	}
	for _, in := range invalid {
		if err := ValidateDomainOrPattern(in); err == nil {
			t.Errorf("ValidateDomainOrPattern(%q) = nil, want error", in)
		}
	}
}

func TestValidateDomainOrPattern_Accepts(t *testing.T) {
	valid := []string{
		"github.com",
		"*.github.com",
		"api*.github.com",
		"a.*.example.com",
		"https://raw.githubusercontent.com",
		"http://*.example.com",
	}
	for _, in := range valid {
		if err := ValidateDomainOrPattern(in); err != nil {
			t.Errorf("ValidateDomainOrPattern(%q) = %v, want nil", in, err)
		}
	}
}

func TestWildcardToRegex_Anchored(t *testing.T) {
	patterns := []string{"*.github.com", "api*.example.com", "a.*.b.com"}
	for _, p := range patterns {
		expr := WildcardToRegex(p)
		if !strings.HasPrefix(expr, "^") || !strings.HasSuffix(expr, "$") {
			t.Errorf("WildcardToRegex(%q) = %q, want anchored", p, expr)
		}
		if _, err := regexp.Compile(expr); err != nil {
			t.Errorf("WildcardToRegex(%q) does not compile: %v", p, err)
		}
	}
}

func TestWildcardToRegex_Translation(t *testing.T) {
	got := WildcardToRegex("*.github.com")
	want := `^.*\.github\.com$`
	if got != want {
		t.Errorf("WildcardToRegex = %q, want %q", got, want)
	}
}

func TestWildcardToRegex_EscapesMetacharacters(t *testing.T) {
	got := WildcardToRegex("a+b.com")
	want := `^a\+b\.com$`
	if got != want {
		t.Errorf("WildcardToRegex = %q, want %q", got, want)
	}
}

func TestWildcardToRegex_NoSuffixBypass(t *testing.T) {
	re := regexp.MustCompile(WildcardToRegex("github.com"))
	if re.MatchString("evil-github.com") {
		t.Error("evil-github.com must not match a github.com policy")
	}
	if !re.MatchString("github.com") {
		t.Error("github.com should match its own policy")
	}
}

func TestParseDomainList_Partition(t *testing.T) {
	list, err := ParseDomainList([]string{"github.com", "*.example.com", "https://api.github.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	if len(list.PlainDomains) != 2 {
		t.Errorf("PlainDomains count = %d, want 2", len(list.PlainDomains))
	}
	if len(list.Patterns) != 1 {
		t.Errorf("Patterns count = %d, want 1", len(list.Patterns))
	}
	if list.Patterns[0].Original != "*.example.com" {
		t.Errorf("pattern Original = %q, want %q", list.Patterns[0].Original, "*.example.com")
	}
	if list.PlainDomains[1].Protocol != ProtocolHTTPS {
		t.Errorf("api.github.com Protocol = %q, want %q", list.PlainDomains[1].Protocol, ProtocolHTTPS)
	}
}

func TestParseDomainList_FailFast(t *testing.T) {
	list, err := ParseDomainList([]string{"github.com", "*", "example.com"})
	if err == nil {
		t.Fatal("expected error for over-broad entry")
	}
	if list != nil {
		t.Errorf("expected no partial result, got %+v", list)
	}
}

func TestPatternMatches_CaseInsensitive(t *testing.T) {
	list, err := ParseDomainList([]string{"*.GitHub.com"})
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	if !list.Patterns[0].Matches("API.github.COM") {
		t.Error("matching should lowercase both sides")
	}
}

func TestIsDomainMatchedByPattern_ProtocolCoverage(t *testing.T) {
	patterns := mustPatterns(t, []string{"https://*.example.com"})
	entry := PlainDomainEntry{Domain: "api.example.com", Protocol: ProtocolBoth}
	if IsDomainMatchedByPattern(entry, patterns) {
		t.Error("https-only pattern must not cover a both-tagged entry")
	}

	patterns = mustPatterns(t, []string{"*.example.com"})
	if !IsDomainMatchedByPattern(entry, patterns) {
		t.Error("both-tagged pattern should cover a both-tagged entry")
	}
}

func TestIsDomainMatchedByPattern_SameProtocol(t *testing.T) {
	patterns := mustPatterns(t, []string{"https://*.example.com"})
	entry := PlainDomainEntry{Domain: "api.example.com", Protocol: ProtocolHTTPS}
	if !IsDomainMatchedByPattern(entry, patterns) {
		t.Error("https pattern should cover an https entry")
	}
}

func TestIsDomainMatchedByPattern_NoMatch(t *testing.T) {
	patterns := mustPatterns(t, []string{"*.example.com"})
	entry := PlainDomainEntry{Domain: "github.com", Protocol: ProtocolBoth}
	if IsDomainMatchedByPattern(entry, patterns) {
		t.Error("github.com should not match *.example.com")
	}
}

func mustPatterns(t *testing.T, raw []string) []DomainPattern {
	t.Helper()
	list, err := ParseDomainList(raw)
	if err != nil {
		t.Fatalf("ParseDomainList: %v", err)
	}
	return list.Patterns
}
