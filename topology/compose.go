package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Compose descriptor structs. Field order here is output order; service and
// environment maps marshal with sorted keys, keeping output deterministic.

type composeFile struct {
	Name     string                    `yaml:"name"`
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks"`
}

type composeService struct {
	ContainerName string                    `yaml:"container_name"`
	Image         string                    `yaml:"image"`
	Command       []string                  `yaml:"command,omitempty"`
	Environment   map[string]string         `yaml:"environment,omitempty"`
	Volumes       []string                  `yaml:"volumes,omitempty"`
	Networks      map[string]serviceNetwork `yaml:"networks"`
	DependsOn     map[string]dependsOn      `yaml:"depends_on,omitempty"`
	Healthcheck   *healthcheck              `yaml:"healthcheck,omitempty"`
	CapDrop       []string                  `yaml:"cap_drop"`
	CapAdd        []string                  `yaml:"cap_add,omitempty"`
	MemLimit      string                    `yaml:"mem_limit"`
	PidsLimit     int64                     `yaml:"pids_limit"`
}

type serviceNetwork struct {
	IPv4Address string `yaml:"ipv4_address"`
}

type dependsOn struct {
	Condition string `yaml:"condition"`
}

type healthcheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval"`
	Timeout     string   `yaml:"timeout"`
	Retries     int      `yaml:"retries"`
	StartPeriod string   `yaml:"start_period"`
}

type composeNetwork struct {
	Name   string     `yaml:"name"`
	Driver string     `yaml:"driver"`
	IPAM   ipamConfig `yaml:"ipam"`
}

type ipamConfig struct {
	Config []ipamPool `yaml:"config"`
}

type ipamPool struct {
	Subnet string `yaml:"subnet"`
}

// Compose renders the descriptor for the plan. The workload's startup is
// gated on the proxy reporting healthy, so filtering is live before the
// workload can reach the network.
func (p *Plan) Compose() ([]byte, error) {
	if p.WorkDir == "" {
		return nil, fmt.Errorf("plan has no work directory")
	}

	proxy := composeService{
		ContainerName: ProxyContainer,
		Image:         p.proxyImage(),
		Volumes: []string{
			p.SquidConfPath() + ":/etc/squid/squid.conf:ro",
			p.LogDir() + ":/var/log/squid",
		},
		Networks: map[string]serviceNetwork{
			NetworkName: {IPv4Address: ProxyIP},
		},
		Healthcheck: &healthcheck{
			Test:        []string{"CMD-SHELL", "squid -k check || exit 1"},
			Interval:    "2s",
			Timeout:     "3s",
			Retries:     10,
			StartPeriod: "2s",
		},
		CapDrop:   []string{"ALL"},
		CapAdd:    []string{"SETUID", "SETGID", "NET_BIND_SERVICE"},
		MemLimit:  defaultProxyMemLimit,
		PidsLimit: defaultProxyPids,
	}

	env := map[string]string{
		"HTTP_PROXY":  fmt.Sprintf("http://%s:%d", ProxyIP, ProxyPort),
		"HTTPS_PROXY": fmt.Sprintf("http://%s:%d", ProxyIP, ProxyPort),
		"http_proxy":  fmt.Sprintf("http://%s:%d", ProxyIP, ProxyPort),
		"https_proxy": fmt.Sprintf("http://%s:%d", ProxyIP, ProxyPort),
		"NO_PROXY":    "localhost,127.0.0.1",
		"no_proxy":    "localhost,127.0.0.1",
	}
	for k, v := range p.Env {
		env[k] = v
	}

	agent := composeService{
		ContainerName: AgentContainer,
		Image:         p.workloadImage(),
		Command:       p.Command,
		Environment:   env,
		Volumes:       append([]string(nil), p.Binds...),
		Networks: map[string]serviceNetwork{
			NetworkName: {IPv4Address: AgentIP},
		},
		DependsOn: map[string]dependsOn{
			"squid": {Condition: "service_healthy"},
		},
		CapDrop:   []string{"ALL"},
		MemLimit:  p.agentMemLimit(),
		PidsLimit: p.agentPidsLimit(),
	}
	if p.TransparentRedirect {
		agent.CapAdd = []string{"NET_ADMIN"}
	}
	if p.SSLBumpCADir != "" {
		proxy.Volumes = append(proxy.Volumes, p.SSLBumpCADir+":/etc/squid/ssl:ro")
		agent.Volumes = append(agent.Volumes, p.SSLBumpCADir+"/ca.crt:/etc/awf/ca.crt:ro")
		env["SSL_CERT_FILE"] = "/etc/awf/ca.crt"
		env["NODE_EXTRA_CA_CERTS"] = "/etc/awf/ca.crt"
	}

	doc := composeFile{
		Name: "awf",
		Services: map[string]composeService{
			"squid": proxy,
			"agent": agent,
		},
		Networks: map[string]composeNetwork{
			NetworkName: {
				Name:   NetworkName,
				Driver: "bridge",
				IPAM:   ipamConfig{Config: []ipamPool{{Subnet: Subnet}}},
			},
		},
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshalling compose descriptor: %w", err)
	}
	return out, nil
}
