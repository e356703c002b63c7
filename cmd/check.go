package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/idna"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/orchestrate"
	"github.com/githubnext/gh-aw-firewall-sub005/policy"
	"github.com/githubnext/gh-aw-firewall-sub005/topology"
)

var (
	checkAllowDomains  []string
	checkBlockDomains  []string
	checkAllowlistOnly bool
	checkSuggestFix    bool
	checkLogPath       string
	checkFormat        string
)

var checkCmd = &cobra.Command{
	Use:   "check <domain>",
	Short: "Check whether a domain is reachable through the firewall",
	Long: `Check tests a domain against the configured allowlist and, when access
logs from a previous run are available, against what the proxy actually
decided. Exits nonzero when the domain is blocked or untested.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringSliceVar(&checkAllowDomains, "allow-domains", nil, "domains to allow (comma-separated, wildcards like *.example.com supported)")
	checkCmd.Flags().StringSliceVar(&checkBlockDomains, "block-domains", nil, "domains to block even when a broader allow matches")
	checkCmd.Flags().BoolVar(&checkAllowlistOnly, "check-allowlist", false, "only check the allowlist, skip the log lookup")
	checkCmd.Flags().BoolVar(&checkSuggestFix, "suggest-fix", false, "print the flag change that would allow the domain")
	checkCmd.Flags().StringVar(&checkLogPath, "log", "", "access log to inspect (default: running proxy, then preserved logs)")
	checkCmd.Flags().StringVar(&checkFormat, "format", "text", "output format: text or json")
}

// checkLogStatus is what the proxy decided for the most recent request to
// the domain.
type checkLogStatus struct {
	Allowed    bool   `json:"allowed"`
	StatusCode int    `json:"status_code"`
	Decision   string `json:"decision"`
}

type checkReport struct {
	Domain         string          `json:"domain"`
	InAllowlist    bool            `json:"in_allowlist"`
	MatchedPattern string          `json:"matched_pattern,omitempty"`
	BlockedBy      string          `json:"blocked_by,omitempty"`
	InLogs         bool            `json:"in_logs"`
	LogStatus      *checkLogStatus `json:"log_status,omitempty"`
	Status         string          `json:"status"`
	Suggestion     string          `json:"suggestion,omitempty"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkFormat != "text" && checkFormat != "json" {
		return fmt.Errorf("unknown format %q: want text or json", checkFormat)
	}

	cfg, err := loadPolicyConfig(checkAllowDomains, checkBlockDomains)
	if err != nil {
		return err
	}
	allowed, err := policy.ParseDomainList(cfg.Allow)
	if err != nil {
		return err
	}
	blocked, err := policy.ParseDomainList(cfg.Block)
	if err != nil {
		return err
	}

	domain := strings.ToLower(args[0])
	// Clients send punycode; match and search with the same form.
	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = ascii
	}
	rep := checkReport{Domain: domain}

	allowMatch := policy.MatchDomain(allowed, domain)
	blockMatch := policy.MatchDomain(blocked, domain)
	rep.InAllowlist = allowMatch.Allowed && !blockMatch.Allowed
	if rep.InAllowlist {
		rep.MatchedPattern = allowMatch.Matched
	}
	if blockMatch.Allowed {
		rep.BlockedBy = blockMatch.Matched
	}

	if !checkAllowlistOnly {
		if last := lastLogEntry(domain); last != nil {
			rep.InLogs = true
			rep.LogStatus = &checkLogStatus{
				Allowed:    last.Allowed,
				StatusCode: last.Status,
				Decision:   last.Decision,
			}
		}
	}

	switch {
	case rep.InAllowlist:
		switch {
		case rep.InLogs && rep.LogStatus.Allowed:
			rep.Status = "ALLOWED"
		case rep.InLogs:
			rep.Status = "BLOCKED"
		default:
			rep.Status = "ALLOWED (in allowlist)"
		}
	case rep.BlockedBy != "":
		// The policy denies the domain regardless of what the logs say.
		if rep.InLogs && rep.LogStatus.Allowed {
			rep.Status = "ALLOWED (unexpected)"
		} else {
			rep.Status = "BLOCKED"
		}
	default:
		switch {
		case rep.InLogs && rep.LogStatus.Allowed:
			rep.Status = "ALLOWED (unexpected)"
		case rep.InLogs:
			rep.Status = "BLOCKED"
		default:
			rep.Status = "NOT TESTED"
		}
	}

	if checkSuggestFix && !rep.InAllowlist && rep.BlockedBy == "" {
		if len(cfg.Allow) > 0 {
			rep.Suggestion = fmt.Sprintf("awf run --allow-domains %s,%s -- your-command", strings.Join(cfg.Allow, ","), domain)
		} else {
			rep.Suggestion = fmt.Sprintf("awf run --allow-domains %s -- your-command", domain)
		}
	}

	if checkFormat == "json" {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(formatCheckText(&rep))
	}

	if !strings.Contains(rep.Status, "ALLOWED") {
		return fmt.Errorf("%s: %s", domain, rep.Status)
	}
	return nil
}

func formatCheckText(rep *checkReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Testing: %s\n\n", rep.Domain)

	switch {
	case rep.InAllowlist:
		match := fmt.Sprintf("'%s'", rep.MatchedPattern)
		if rep.MatchedPattern != rep.Domain {
			match += " (subdomain matching)"
		}
		fmt.Fprintf(&b, "[✓] Allowlist check: Matched by %s\n", match)
	case rep.BlockedBy != "":
		fmt.Fprintf(&b, "[✗] Allowlist check: Blocked by '%s'\n", rep.BlockedBy)
	default:
		b.WriteString("[✗] Allowlist check: Not in allowlist\n")
	}

	switch {
	case rep.InLogs && rep.LogStatus.Allowed:
		fmt.Fprintf(&b, "[✓] Reachability: Found in logs (%d %s)\n", rep.LogStatus.StatusCode, rep.LogStatus.Decision)
	case rep.InLogs:
		fmt.Fprintf(&b, "[✗] Reachability: Blocked (%d %s)\n", rep.LogStatus.StatusCode, rep.LogStatus.Decision)
	case rep.InAllowlist:
		b.WriteString("[?] Reachability: No logs found (not tested yet)\n")
	default:
		b.WriteString("[?] Reachability: Not tested (not in allowlist)\n")
	}

	mark := "✗"
	if strings.Contains(rep.Status, "ALLOWED") {
		mark = "✓"
	}
	fmt.Fprintf(&b, "[%s] Status: %s\n", mark, rep.Status)

	switch {
	case rep.Suggestion != "":
		fmt.Fprintf(&b, "\nSuggested fix:\n  %s", rep.Suggestion)
	case rep.Status == "ALLOWED":
		b.WriteString("\nNo action needed.")
	case rep.Status == "NOT TESTED":
		fmt.Fprintf(&b, "\nTo test: awf run --allow-domains %s -- curl https://%s", rep.Domain, rep.Domain)
	}
	return b.String()
}

// lastLogEntry finds the most recent access log entry mentioning the domain.
// Sources, in order: an explicit --log path, the running proxy container,
// preserved log directories, then leftover run work directories.
func lastLogEntry(domain string) *accesslog.Entry {
	var last *accesslog.Entry
	keep := func(e *accesslog.Entry) {
		if strings.Contains(e.Domain, domain) {
			last = e
		}
	}

	if checkLogPath != "" {
		accesslog.ReadFile(checkLogPath, keep) //nolint:errcheck
		return last
	}

	engine := &orchestrate.DockerEngine{}
	if engine.Available() {
		ctx := context.Background()
		if state, err := engine.ContainerState(ctx, topology.ProxyContainer); err == nil && state == "running" {
			if out, err := engine.Exec(ctx, topology.ProxyContainer, "cat", "/var/log/squid/access.log"); err == nil {
				accesslog.Read(strings.NewReader(out), keep) //nolint:errcheck
				return last
			}
		}
	}

	for _, pattern := range []string{"/tmp/squid-logs-*/access.log", "/tmp/awf-*/squid-logs/access.log"} {
		paths, _ := filepath.Glob(pattern)
		sort.Sort(sort.Reverse(sort.StringSlice(paths)))
		for _, p := range paths {
			if _, err := accesslog.ReadFile(p, keep); err == nil {
				return last
			}
		}
	}
	return last
}
