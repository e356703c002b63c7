package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/githubnext/gh-aw-firewall-sub005/config"
	"github.com/githubnext/gh-aw-firewall-sub005/logging"
	"github.com/githubnext/gh-aw-firewall-sub005/policy"
	"github.com/githubnext/gh-aw-firewall-sub005/squidconf"
	"github.com/githubnext/gh-aw-firewall-sub005/topology"
	"github.com/githubnext/gh-aw-firewall-sub005/validate"
)

// newLogger builds the structured logger commands share. Debug entries only
// appear with --verbose.
func newLogger() logging.Logger {
	return logging.NewJSONLogger(os.Stderr, verbose)
}

// quietLogger is for commands that own the terminal, like the follow view.
func quietLogger() logging.Logger {
	if verbose {
		return logging.NewJSONLogger(os.Stderr, true)
	}
	return logging.Nop()
}

// loadPolicyConfig loads the policy file when --config is set, otherwise
// starts from defaults, then folds command-line domain lists in.
func loadPolicyConfig(allow, block []string) (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := loadPolicyFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Allow = append(cfg.Allow, allow...)
	cfg.Block = append(cfg.Block, block...)
	return cfg, nil
}

// loadPolicyFile reads a policy file, checking it against the JSON schema
// before the semantic checks see it.
func loadPolicyFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config %s: %w", path, err)
	}
	if jsonData, err := validate.YAMLToJSON(data); err == nil {
		schemaErrs, err := validate.ValidateSchema(jsonData)
		if err != nil {
			return nil, err
		}
		if len(schemaErrs) > 0 {
			for _, e := range schemaErrs {
				fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
			}
			return nil, fmt.Errorf("policy config %s failed schema validation: %d error(s)", path, len(schemaErrs))
		}
	}
	return config.Parse(data)
}

// validatePolicy runs semantic validation, printing warnings to stderr and
// failing on the first batch of errors.
func validatePolicy(cfg *config.Config) error {
	result := validate.ValidateConfig(cfg)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}
	if !result.IsValid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
		}
		return fmt.Errorf("policy validation failed: %d error(s)", len(result.Errors))
	}
	return nil
}

// compileProxyPolicy builds the generator input from a validated config.
// SSL-Bump paths are rewritten to where the CA material lands inside the
// proxy container.
func compileProxyPolicy(cfg *config.Config) (*squidconf.ProxyPolicy, error) {
	allowed, err := policy.ParseDomainList(cfg.Allow)
	if err != nil {
		return nil, err
	}
	blocked, err := policy.ParseDomainList(cfg.Block)
	if err != nil {
		return nil, err
	}

	pol := &squidconf.ProxyPolicy{
		Allowed:    allowed,
		Blocked:    blocked,
		ListenPort: cfg.Proxy.Port,
	}
	if cfg.SSLBump.Enabled {
		pol.SSLBump = &squidconf.SSLBumpConfig{
			CACertPath:  "/etc/squid/ssl/" + filepath.Base(cfg.SSLBump.CACert),
			CAKeyPath:   "/etc/squid/ssl/" + filepath.Base(cfg.SSLBump.CAKey),
			URLPatterns: cfg.SSLBump.AllowURLs,
		}
	}
	if len(cfg.HostAccess.Ports) > 0 {
		pol.HostAccess = &squidconf.HostAccessConfig{ExtraPorts: cfg.HostAccess.Ports}
	}
	return pol, nil
}

// planFromConfig maps the policy config onto a run topology.
func planFromConfig(cfg *config.Config, workDir string, command []string) *topology.Plan {
	plan := &topology.Plan{
		WorkDir:       workDir,
		ProxyImage:    cfg.Proxy.Image,
		WorkloadImage: cfg.Workload.Image,
		Command:       command,
		Env:           cfg.Workload.Env,
		Binds:         cfg.Workload.Binds,
		MemLimit:      cfg.Workload.Memory,
		PidsLimit:     int64(cfg.Workload.PidsLimit),
	}
	if cfg.SSLBump.Enabled && cfg.SSLBump.CACert != "" {
		plan.SSLBumpCADir = filepath.Dir(cfg.SSLBump.CACert)
	}
	return plan
}
