package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gnet "github.com/shirou/gopsutil/net"
	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"

	"github.com/githubnext/gh-aw-firewall-sub005/orchestrate"
	"github.com/githubnext/gh-aw-firewall-sub005/topology"
)

var diagnoseFormat string

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Run diagnostic checks against the firewall setup",
	Long: `Diagnose inspects the containers, network, proxy health, and host state
of the current or most recent run and reports anything that would break
egress control, with a suggested fix per finding.`,
	RunE: runDiagnose,
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagnoseFormat, "format", "text", "output format: text or json")
}

// containerProber is the slice of the container runtime diagnostics look at.
type containerProber interface {
	ContainerState(ctx context.Context, container string) (string, error)
	ContainerExitCode(ctx context.Context, container string) (int, error)
	HealthStatus(ctx context.Context, container string) (string, error)
	NetworkSubnet(ctx context.Context, name string) (string, error)
	Exec(ctx context.Context, container string, argv ...string) (string, error)
	ListContainers(ctx context.Context, namePrefix string) ([]string, error)
}

type diagCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Fix     string `json:"fix,omitempty"`
}

type diagReport struct {
	Summary struct {
		TotalChecks int `json:"total_checks"`
		Passed      int `json:"passed"`
		Failed      int `json:"failed"`
	} `json:"summary"`
	Checks []diagCheck `json:"checks"`
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	if diagnoseFormat != "text" && diagnoseFormat != "json" {
		return fmt.Errorf("unknown format %q: want text or json", diagnoseFormat)
	}

	engine := &orchestrate.DockerEngine{}
	if !engine.Available() {
		return errors.New("docker is not available: is the daemon running?")
	}
	checks := runChecks(context.Background(), engine)

	issues := 0
	for _, c := range checks {
		if !c.Passed {
			issues++
		}
	}

	if diagnoseFormat == "json" {
		var rep diagReport
		rep.Summary.TotalChecks = len(checks)
		rep.Summary.Passed = len(checks) - issues
		rep.Summary.Failed = issues
		rep.Checks = checks
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(formatDiagText(checks))
	}

	if issues > 0 {
		word := "issues"
		if issues == 1 {
			word = "issue"
		}
		return fmt.Errorf("%d %s found", issues, word)
	}
	return nil
}

func runChecks(ctx context.Context, p containerProber) []diagCheck {
	squidState, _ := p.ContainerState(ctx, topology.ProxyContainer)
	agentState, _ := p.ContainerState(ctx, topology.AgentContainer)

	checks := []diagCheck{
		checkContainers(ctx, p, squidState, agentState),
		checkHealth(ctx, p),
		checkNetwork(ctx, p),
		checkConnectivity(ctx, p, squidState, agentState),
		checkDNS(ctx, p, agentState),
		checkSquidConfig(),
	}
	if c, conflict := checkPortConflict(); conflict {
		checks = append(checks, c)
	}
	if c, orphans := checkOrphans(ctx, p); orphans {
		checks = append(checks, c)
	}
	return checks
}

func checkContainers(ctx context.Context, p containerProber, squidState, agentState string) diagCheck {
	var msgs []string
	switch squidState {
	case "":
		msgs = append(msgs, topology.ProxyContainer+" (missing)")
	case "running":
		msgs = append(msgs, topology.ProxyContainer+" (running)")
	default:
		code, _ := p.ContainerExitCode(ctx, topology.ProxyContainer)
		msgs = append(msgs, fmt.Sprintf("%s (stopped, exit:%d)", topology.ProxyContainer, code))
	}
	switch agentState {
	case "":
		msgs = append(msgs, topology.AgentContainer+" (missing)")
	case "running":
		msgs = append(msgs, topology.AgentContainer+" (running)")
	default:
		code, _ := p.ContainerExitCode(ctx, topology.AgentContainer)
		msgs = append(msgs, fmt.Sprintf("%s (exited:%d)", topology.AgentContainer, code))
	}

	check := diagCheck{Name: "Containers", Passed: squidState != "" && agentState != "", Message: strings.Join(msgs, ", ")}
	if !check.Passed {
		check.Fix = "Start containers with awf run, or check if they were cleaned up"
	}
	return check
}

func checkHealth(ctx context.Context, p containerProber) diagCheck {
	health, err := p.HealthStatus(ctx, topology.ProxyContainer)
	if err != nil || health == "" || health == "<no value>" {
		return diagCheck{Name: "Health", Passed: true, Message: "No healthcheck configured (normal for older versions)"}
	}
	check := diagCheck{Name: "Health", Passed: health == "healthy", Message: "Squid " + health}
	switch health {
	case "unhealthy":
		check.Fix = "Check Squid logs: docker logs " + topology.ProxyContainer
	case "starting":
		check.Fix = "Wait for healthcheck to complete"
	}
	return check
}

func checkNetwork(ctx context.Context, p containerProber) diagCheck {
	subnet, err := p.NetworkSubnet(ctx, topology.NetworkName)
	if err != nil || subnet == "" {
		return diagCheck{
			Name:    "Network",
			Message: topology.NetworkName + " does not exist",
			Fix:     "The network is created automatically by awf run",
		}
	}
	return diagCheck{Name: "Network", Passed: true, Message: fmt.Sprintf("%s exists (%s)", topology.NetworkName, subnet)}
}

func checkConnectivity(ctx context.Context, p containerProber, squidState, agentState string) diagCheck {
	if squidState != "running" || agentState != "running" {
		return diagCheck{Name: "Connectivity", Passed: true, Message: "Skipped (containers not running)"}
	}
	addr := fmt.Sprintf("%s:%d", topology.ProxyIP, topology.ProxyPort)
	_, err := p.Exec(ctx, topology.AgentContainer, "nc", "-zv", "-w", "2", topology.ProxyIP, fmt.Sprint(topology.ProxyPort))
	if err != nil {
		return diagCheck{
			Name:    "Connectivity",
			Message: "Squid NOT reachable on " + addr,
			Fix:     fmt.Sprintf("Check if Squid is listening: docker exec %s netstat -ln | grep %d", topology.ProxyContainer, topology.ProxyPort),
		}
	}
	return diagCheck{Name: "Connectivity", Passed: true, Message: "Squid reachable on " + addr}
}

func checkDNS(ctx context.Context, p containerProber, agentState string) diagCheck {
	if agentState != "running" {
		return diagCheck{Name: "DNS", Passed: true, Message: "Skipped (agent not running)"}
	}
	out, err := p.Exec(ctx, topology.AgentContainer, "cat", "/etc/resolv.conf")
	if err == nil {
		var servers []string
		for _, line := range strings.Split(out, "\n") {
			fields := strings.Fields(line)
			if len(fields) >= 2 && fields[0] == "nameserver" {
				servers = append(servers, fields[1])
			}
		}
		if len(servers) > 0 {
			return diagCheck{Name: "DNS", Passed: true, Message: "DNS servers: " + strings.Join(servers, ", ")}
		}
	}
	return diagCheck{
		Name:    "DNS",
		Message: "Could not read DNS configuration",
		Fix:     fmt.Sprintf("Check agent container resolv.conf: docker exec %s cat /etc/resolv.conf", topology.AgentContainer),
	}
}

// squidConfGlob locates the config of the current or most recent run.
var squidConfGlob = "/tmp/awf-*/squid.conf"

func checkSquidConfig() diagCheck {
	paths, _ := filepath.Glob(squidConfGlob)
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))

	var conf string
	for _, p := range paths {
		if data, err := os.ReadFile(p); err == nil {
			conf = string(data)
			break
		}
	}
	if conf == "" {
		return diagCheck{
			Name:    "Config",
			Message: "Squid config not found",
			Fix:     "The config is written to the run work directory while containers are running",
		}
	}

	domains := allowlistDomains(conf)
	if len(domains) == 0 {
		return diagCheck{
			Name:    "Config",
			Message: "No domains in allowlist",
			Fix:     "Check squid.conf for 'acl allowed_domains' lines",
		}
	}

	sample := domains
	if len(sample) > 3 {
		sample = sample[:3]
	}
	list := strings.Join(sample, ", ")
	if len(domains) > 3 {
		list += fmt.Sprintf(", ... (%d total)", len(domains))
	}
	return diagCheck{Name: "Config", Passed: true, Message: fmt.Sprintf("%d domains in allowlist (%s)", len(domains), list)}
}

// allowlistDomains extracts the unique domains behind the allowed_domains
// ACLs. The dotted subdomain form and the bare form of a domain count once.
func allowlistDomains(conf string) []string {
	var domains []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(conf, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 4 || fields[0] != "acl" || fields[2] != "dstdomain" {
			continue
		}
		if !strings.HasPrefix(fields[1], "allowed_") || !strings.HasSuffix(fields[1], "domains") {
			continue
		}
		if strings.HasPrefix(fields[3], `"`) {
			continue
		}
		for _, w := range fields[3:] {
			d := strings.TrimPrefix(w, ".")
			if !seen[d] {
				seen[d] = true
				domains = append(domains, d)
			}
		}
	}
	return domains
}

// portOwner names the process listening on a local TCP port, "" when free.
// Swapped out in tests.
var portOwner = gopsutilPortOwner

func gopsutilPortOwner(port uint32) string {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		return ""
	}
	for _, c := range conns {
		if c.Laddr.Port != port || c.Status != "LISTEN" || c.Pid <= 0 {
			continue
		}
		proc, err := process.NewProcess(c.Pid)
		if err != nil {
			continue
		}
		name, err := proc.Name()
		if err != nil {
			continue
		}
		return name
	}
	return ""
}

func checkPortConflict() (diagCheck, bool) {
	owner := portOwner(uint32(topology.ProxyPort))
	if owner == "" || strings.Contains(strings.ToLower(owner), "squid") {
		return diagCheck{}, false
	}
	return diagCheck{
		Name:    fmt.Sprintf("Port %d", topology.ProxyPort),
		Message: fmt.Sprintf("Port %d in use by another process (%s)", topology.ProxyPort, owner),
		Fix:     fmt.Sprintf("Stop the process using port %d", topology.ProxyPort),
	}, true
}

func checkOrphans(ctx context.Context, p containerProber) (diagCheck, bool) {
	names, err := p.ListContainers(ctx, "awf-")
	if err != nil || len(names) <= 2 {
		return diagCheck{}, false
	}
	return diagCheck{
		Name:    "Orphaned",
		Message: fmt.Sprintf("%d awf containers found (expected 2)", len(names)),
		Fix:     "Clean up with: docker rm -f $(docker ps -a --filter name=awf- -q)",
	}, true
}

func formatDiagText(checks []diagCheck) string {
	var b strings.Builder
	b.WriteString("AWF Diagnostic Report\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	issues := 0
	for _, c := range checks {
		mark := "✓"
		if !c.Passed {
			mark = "✗"
			issues++
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", mark, c.Name, c.Message)
		if !c.Passed && c.Fix != "" {
			fmt.Fprintf(&b, "    Fix: %s\n", c.Fix)
		}
	}

	b.WriteString("\n")
	if issues == 0 {
		b.WriteString("Summary: All checks passed ✓")
	} else {
		word := "issues"
		if issues == 1 {
			word = "issue"
		}
		fmt.Fprintf(&b, "Summary: %d %s found", issues, word)
	}
	return b.String()
}
