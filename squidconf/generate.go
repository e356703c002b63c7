package squidconf

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/githubnext/gh-aw-firewall-sub005/policy"
)

const squidConfTemplate = `# Egress policy for sandboxed workloads. Generated by awf; do not edit,
# regenerate instead.
http_port {{.ListenPort}}{{if .SSLBump}} ssl-bump generate-host-certificates=on dynamic_cert_mem_cache_size=8MB tls-cert={{.CACert}} tls-key={{.CAKey}}{{end}}
{{- if .SSLBump}}
sslcrtd_program /usr/lib/squid/security_file_certgen -s {{.CertDB}} -M 8MB
sslcrtd_children 4
{{- end}}

logformat firewall_detailed %ts.%03tu %>a:%>p %>rd:%>rP %<a:%<p HTTP/%rv %rm %>Hs %Ss:%Sh %ru "%{User-Agent}>h"
access_log /var/log/squid/access.log firewall_detailed

acl SSL_ports port 443
acl Safe_ports port 80
acl Safe_ports port 443
{{- range .ExtraPorts}}
acl Safe_ports port {{.}}
acl SSL_ports port {{.}}
{{- end}}
acl CONNECT method CONNECT
acl plain_http port 80
{{- if .BlockedPlain}}
acl blocked_domains dstdomain {{.BlockedPlain}}
{{- end}}
{{- if .BlockedRegex}}
acl blocked_domains_regex dstdom_regex -i {{.BlockedRegex}}
{{- end}}
{{- if .AllowedBoth}}
acl allowed_domains dstdomain {{.AllowedBoth}}
{{- end}}
{{- if .AllowedBothRegex}}
acl allowed_domains_regex dstdom_regex -i {{.AllowedBothRegex}}
{{- end}}
{{- if .AllowedHTTP}}
acl allowed_http_domains dstdomain {{.AllowedHTTP}}
{{- end}}
{{- if .AllowedHTTPRegex}}
acl allowed_http_domains_regex dstdom_regex -i {{.AllowedHTTPRegex}}
{{- end}}
{{- if .AllowedHTTPS}}
acl allowed_https_domains dstdomain {{.AllowedHTTPS}}
{{- end}}
{{- if .AllowedHTTPSRegex}}
acl allowed_https_domains_regex dstdom_regex -i {{.AllowedHTTPSRegex}}
{{- end}}
{{- if .BumpPlain}}
acl ssl_bump_domains dstdomain {{.BumpPlain}}
{{- end}}
{{- if .BumpRegex}}
acl ssl_bump_domains_regex dstdom_regex -i {{.BumpRegex}}
{{- end}}
{{- if .URLRegex}}
acl allowed_urls url_regex -i {{.URLRegex}}
{{- end}}
{{- if .SSLBump}}
acl step1 at_step SslBump1
ssl_bump peek step1
{{- if .BumpPlain}}
ssl_bump bump ssl_bump_domains
{{- end}}
{{- if .BumpRegex}}
ssl_bump bump ssl_bump_domains_regex
{{- end}}
ssl_bump splice all
{{- end}}

http_access deny !Safe_ports
http_access deny CONNECT !SSL_ports
{{- if .BlockedPlain}}
http_access deny blocked_domains
{{- end}}
{{- if .BlockedRegex}}
http_access deny blocked_domains_regex
{{- end}}
{{- if .AllowedBoth}}
http_access allow allowed_domains
{{- end}}
{{- if .AllowedBothRegex}}
http_access allow allowed_domains_regex
{{- end}}
{{- if .AllowedHTTP}}
http_access allow allowed_http_domains plain_http
{{- end}}
{{- if .AllowedHTTPRegex}}
http_access allow allowed_http_domains_regex plain_http
{{- end}}
{{- if .AllowedHTTPS}}
http_access allow allowed_https_domains SSL_ports
{{- end}}
{{- if .AllowedHTTPSRegex}}
http_access allow allowed_https_domains_regex SSL_ports
{{- end}}
{{- if .BumpPlain}}
http_access allow CONNECT ssl_bump_domains SSL_ports
{{- end}}
{{- if .BumpRegex}}
http_access allow CONNECT ssl_bump_domains_regex SSL_ports
{{- end}}
{{- if .URLRegex}}
http_access allow allowed_urls
{{- end}}
http_access deny all

cache deny all
via off
forwarded_for delete
httpd_suppress_version_string on
coredump_dir /var/spool/squid
`

type squidTemplateData struct {
	ListenPort int
	SSLBump    bool
	CACert     string
	CAKey      string
	CertDB     string
	ExtraPorts []string

	BlockedPlain      string
	BlockedRegex      string
	AllowedBoth       string
	AllowedBothRegex  string
	AllowedHTTP       string
	AllowedHTTPRegex  string
	AllowedHTTPS      string
	AllowedHTTPSRegex string
	BumpPlain         string
	BumpRegex         string
	URLRegex          string
}

// Generate renders the proxy configuration for pol. Output is deterministic:
// the same policy always produces byte-identical text, with deny rules
// ordered before every allow rule.
func Generate(pol *ProxyPolicy) ([]byte, error) {
	if pol == nil {
		return nil, fmt.Errorf("proxy policy is nil")
	}
	if err := pol.validate(); err != nil {
		return nil, err
	}

	data := squidTemplateData{
		ListenPort: pol.listenPort(),
	}
	if pol.HostAccess != nil {
		data.ExtraPorts = append(data.ExtraPorts, pol.HostAccess.ExtraPorts...)
		sort.Strings(data.ExtraPorts)
	}
	if pol.Blocked != nil {
		data.BlockedPlain = dstdomainWordsAll(pol.Blocked.PlainDomains)
		data.BlockedRegex = regexWordsAll(pol.Blocked.Patterns)
	}
	if pol.Allowed != nil {
		data.AllowedBoth = dstdomainWords(pol.Allowed.PlainDomains, policy.ProtocolBoth)
		data.AllowedBothRegex = regexWords(pol.Allowed.Patterns, policy.ProtocolBoth)
		data.AllowedHTTP = dstdomainWords(pol.Allowed.PlainDomains, policy.ProtocolHTTP)
		data.AllowedHTTPRegex = regexWords(pol.Allowed.Patterns, policy.ProtocolHTTP)
		data.AllowedHTTPS = dstdomainWords(pol.Allowed.PlainDomains, policy.ProtocolHTTPS)
		data.AllowedHTTPSRegex = regexWords(pol.Allowed.Patterns, policy.ProtocolHTTPS)
	}
	if pol.SSLBump != nil {
		data.SSLBump = true
		data.CACert = pol.SSLBump.CACertPath
		data.CAKey = pol.SSLBump.CAKeyPath
		data.CertDB = pol.SSLBump.CertDBPath
		if data.CertDB == "" {
			data.CertDB = "/var/spool/squid/ssl_db"
		}
		data.BumpPlain, data.BumpRegex = bumpDomainWords(pol.SSLBump.URLPatterns)
		data.URLRegex = urlRegexWords(pol.SSLBump.URLPatterns)
	}

	tmpl, err := template.New("squid-conf").Parse(squidConfTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing squid config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering squid config: %w", err)
	}
	return buf.Bytes(), nil
}

// dstdomainWords builds the sorted dstdomain word list for entries tagged
// with exactly proto. Each domain emits its dotted form first so subdomains
// match too.
func dstdomainWords(entries []policy.PlainDomainEntry, proto policy.Protocol) string {
	var domains []string
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Protocol != proto {
			continue
		}
		d := strings.ToLower(e.Domain)
		if !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)
	words := make([]string, 0, len(domains)*2)
	for _, d := range domains {
		words = append(words, "."+d, d)
	}
	return strings.Join(words, " ")
}

// dstdomainWordsAll is dstdomainWords without protocol filtering; blocked
// entries deny on every protocol regardless of their tag.
func dstdomainWordsAll(entries []policy.PlainDomainEntry) string {
	var domains []string
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		d := strings.ToLower(e.Domain)
		if !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)
	words := make([]string, 0, len(domains)*2)
	for _, d := range domains {
		words = append(words, "."+d, d)
	}
	return strings.Join(words, " ")
}

func regexWords(patterns []policy.DomainPattern, proto policy.Protocol) string {
	var exprs []string
	seen := make(map[string]bool, len(patterns))
	for i := range patterns {
		if patterns[i].Protocol != proto {
			continue
		}
		expr := policy.WildcardToRegex(strings.ToLower(patterns[i].Original))
		if !seen[expr] {
			seen[expr] = true
			exprs = append(exprs, expr)
		}
	}
	sort.Strings(exprs)
	return strings.Join(exprs, " ")
}

func regexWordsAll(patterns []policy.DomainPattern) string {
	var exprs []string
	seen := make(map[string]bool, len(patterns))
	for i := range patterns {
		expr := policy.WildcardToRegex(strings.ToLower(patterns[i].Original))
		if !seen[expr] {
			seen[expr] = true
			exprs = append(exprs, expr)
		}
	}
	sort.Strings(exprs)
	return strings.Join(exprs, " ")
}

// bumpDomainWords derives the CONNECT-phase ACL words from URL patterns:
// the host part of each pattern, split into plain dstdomain words and
// dstdom_regex expressions when the host itself carries a wildcard.
func bumpDomainWords(urlPatterns []string) (plain, regex string) {
	var plains, exprs []string
	seenPlain := make(map[string]bool)
	seenExpr := make(map[string]bool)
	for _, u := range urlPatterns {
		host := urlPatternHost(u)
		if host == "" {
			continue
		}
		if strings.Contains(host, "*") {
			expr := policy.WildcardToRegex(host)
			if !seenExpr[expr] {
				seenExpr[expr] = true
				exprs = append(exprs, expr)
			}
			continue
		}
		if !seenPlain[host] {
			seenPlain[host] = true
			plains = append(plains, host)
		}
	}
	sort.Strings(plains)
	sort.Strings(exprs)
	return strings.Join(plains, " "), strings.Join(exprs, " ")
}

func urlRegexWords(urlPatterns []string) string {
	var exprs []string
	seen := make(map[string]bool, len(urlPatterns))
	for _, u := range urlPatterns {
		expr := policy.WildcardToRegex(strings.TrimSpace(u))
		if !seen[expr] {
			seen[expr] = true
			exprs = append(exprs, expr)
		}
	}
	sort.Strings(exprs)
	return strings.Join(exprs, " ")
}

func urlPatternHost(pattern string) string {
	p := strings.TrimSpace(strings.ToLower(pattern))
	p = strings.TrimPrefix(p, "https://")
	if i := strings.Index(p, "/"); i >= 0 {
		p = p[:i]
	}
	return p
}
