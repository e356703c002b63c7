// Package topology plans the fixed-subnet container network that makes the
// proxy configuration and host firewall rules load-bearing.
package topology

import "path/filepath"

// Fixed addressing for the managed network. The host firewall rules and
// the proxy configuration both key off these values, so they are constants
// rather than knobs.
const (
	NetworkName = "awf-net"
	Subnet      = "172.30.0.0/24"
	ProxyIP     = "172.30.0.10"
	AgentIP     = "172.30.0.20"
	ProxyPort   = 3128

	ProxyContainer = "awf-squid"
	AgentContainer = "awf-agent"
)

// Image and ceiling defaults. Overridable per run.
const (
	DefaultProxyImage    = "ubuntu/squid:latest"
	DefaultWorkloadImage = "ubuntu:24.04"

	defaultProxyMemLimit = "256m"
	defaultProxyPids     = 128
	defaultAgentMemLimit = "2g"
	defaultAgentPids     = 512
)

// Plan describes one run's topology: the workload to sandbox plus the
// proxy sidecar that fronts all of its egress.
type Plan struct {
	// WorkDir is the per-run directory holding squid.conf, the compose
	// file, and the proxy's log directory.
	WorkDir string

	ProxyImage    string
	WorkloadImage string
	// Command is the workload entrypoint; empty keeps the image default.
	Command []string
	// Env is extra workload environment on top of the proxy wiring.
	Env map[string]string
	// Binds are extra host:container mounts for the workload.
	Binds []string

	MemLimit  string
	PidsLimit int64

	// SSLBumpCADir holds externally generated CA material (ca.crt,
	// ca.key). Empty disables interception mounts.
	SSLBumpCADir string

	// TransparentRedirect grants the workload NET_ADMIN for its own
	// internal traffic redirection. Off by default: the workload gets no
	// capabilities at all.
	TransparentRedirect bool
}

// SquidConfPath is where the generated proxy configuration is written.
func (p *Plan) SquidConfPath() string { return filepath.Join(p.WorkDir, "squid.conf") }

// ComposePath is where the compose descriptor is written.
func (p *Plan) ComposePath() string { return filepath.Join(p.WorkDir, "docker-compose.yml") }

// LogDir is the host directory bind-mounted over the proxy's log path.
func (p *Plan) LogDir() string { return filepath.Join(p.WorkDir, "squid-logs") }

// AccessLogPath is the proxy access log as seen from the host.
func (p *Plan) AccessLogPath() string { return filepath.Join(p.LogDir(), "access.log") }

func (p *Plan) proxyImage() string {
	if p.ProxyImage == "" {
		return DefaultProxyImage
	}
	return p.ProxyImage
}

func (p *Plan) workloadImage() string {
	if p.WorkloadImage == "" {
		return DefaultWorkloadImage
	}
	return p.WorkloadImage
}

func (p *Plan) agentMemLimit() string {
	if p.MemLimit == "" {
		return defaultAgentMemLimit
	}
	return p.MemLimit
}

func (p *Plan) agentPidsLimit() int64 {
	if p.PidsLimit == 0 {
		return defaultAgentPids
	}
	return p.PidsLimit
}
