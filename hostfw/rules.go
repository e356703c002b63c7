// Package hostfw manages the kernel-level egress tier for the managed
// container subnet. It is the second enforcement layer next to the proxy:
// any container joined to the subnet is filtered identically, including
// containers the sandboxed workload spawned itself.
package hostfw

import "fmt"

// Chain is the packet-filter chain owned by this package. It is jumped to
// from DOCKER-USER, which the kernel evaluates before any per-container
// chain.
const Chain = "AWF-EGRESS"

const dockerUserChain = "DOCKER-USER"

// Config describes the managed network seen from the host.
type Config struct {
	// Subnet in CIDR form, e.g. 172.30.0.0/24.
	Subnet string
	// ProxyIP is the proxy's static address inside Subnet.
	ProxyIP string
	// ProxyPort is the proxy's listen port.
	ProxyPort int
	// DNSServers are the only resolvers containers may query directly.
	// An empty list blocks all direct DNS from the subnet.
	DNSServers []string
}

// Rule is the argument list of a single rule inside Chain.
type Rule []string

// Rules computes the owned chain's content in evaluation order: the proxy
// is unrestricted, DNS goes only to trusted resolvers, the subnet reaches
// the proxy port, everything else is dropped.
func (c Config) Rules() []Rule {
	rules := []Rule{
		{"-s", c.ProxyIP, "-j", "RETURN"},
	}
	for _, dns := range c.DNSServers {
		for _, proto := range []string{"udp", "tcp"} {
			rules = append(rules, Rule{
				"-s", c.Subnet, "-d", dns, "-p", proto, "--dport", "53", "-j", "RETURN",
			})
		}
	}
	rules = append(rules,
		Rule{"-s", c.Subnet, "-p", "udp", "--dport", "53", "-j", "DROP"},
		Rule{"-s", c.Subnet, "-p", "tcp", "--dport", "53", "-j", "DROP"},
		Rule{"-s", c.Subnet, "-d", c.ProxyIP, "-p", "tcp", "--dport", fmt.Sprintf("%d", c.ProxyPort), "-j", "RETURN"},
		Rule{"-s", c.Subnet, "-j", "DROP"},
	)
	return rules
}
