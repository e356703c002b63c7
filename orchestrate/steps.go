package orchestrate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/githubnext/gh-aw-firewall-sub005/logging"
	"github.com/githubnext/gh-aw-firewall-sub005/squidconf"
	"github.com/githubnext/gh-aw-firewall-sub005/topology"
)

// Step is a single unit of work in a run. Steps execute strictly in order;
// the first error aborts the remaining steps.
type Step interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext) error
}

// RunContext carries shared state through the run's steps.
type RunContext struct {
	Plan   *topology.Plan
	Policy *squidconf.ProxyPolicy

	// ExitCode is the workload's exit code, -1 until it has exited.
	ExitCode int
}

// ensureNetworkStep clears stale network state from a prior unclean
// shutdown. The compose descriptor materializes the network itself, so this
// step only has to guarantee the name is absent or correctly configured.
type ensureNetworkStep struct {
	engine Engine
	logger logging.Logger
}

func (s *ensureNetworkStep) Name() string { return "ensure-network" }

func (s *ensureNetworkStep) Execute(ctx context.Context, rc *RunContext) error {
	subnet, err := s.engine.NetworkSubnet(ctx, topology.NetworkName)
	if err != nil {
		return fmt.Errorf("inspecting network %s: %w", topology.NetworkName, err)
	}
	if subnet == "" || subnet == topology.Subnet {
		return nil
	}

	// The static proxy and agent addresses only hold inside the expected
	// subnet, so a drifted network must be replaced, not reused.
	s.logger.Warn("replacing stale network", map[string]any{
		"network": topology.NetworkName,
		"have":    subnet,
		"want":    topology.Subnet,
	})
	for _, name := range []string{topology.AgentContainer, topology.ProxyContainer} {
		if err := s.engine.RemoveContainer(ctx, name); err != nil {
			s.logger.Debug("stale container removal skipped", map[string]any{
				"container": name,
				"error":     err.Error(),
			})
		}
	}
	if err := s.engine.RemoveNetwork(ctx, topology.NetworkName); err != nil {
		return fmt.Errorf("removing stale network %s: %w", topology.NetworkName, err)
	}
	return nil
}

// hostRulesStep installs the kernel-level egress tier.
type hostRulesStep struct {
	rules RuleInstaller
}

func (s *hostRulesStep) Name() string { return "host-rules" }

func (s *hostRulesStep) Execute(ctx context.Context, rc *RunContext) error {
	return s.rules.Install(ctx)
}

// writeArtifactsStep renders squid.conf and the compose descriptor into the
// work directory.
type writeArtifactsStep struct {
	logger logging.Logger
}

func (s *writeArtifactsStep) Name() string { return "write-artifacts" }

func (s *writeArtifactsStep) Execute(ctx context.Context, rc *RunContext) error {
	if err := os.MkdirAll(rc.Plan.WorkDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	// The proxy writes logs as an unprivileged uid across the bind mount.
	if err := os.MkdirAll(rc.Plan.LogDir(), 0o777); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	if err := os.Chmod(rc.Plan.LogDir(), 0o777); err != nil {
		return fmt.Errorf("opening log dir permissions: %w", err)
	}

	conf, err := squidconf.Generate(rc.Policy)
	if err != nil {
		return fmt.Errorf("generating proxy config: %w", err)
	}
	if err := os.WriteFile(rc.Plan.SquidConfPath(), conf, 0o644); err != nil {
		return fmt.Errorf("writing proxy config: %w", err)
	}

	compose, err := rc.Plan.Compose()
	if err != nil {
		return err
	}
	if err := os.WriteFile(rc.Plan.ComposePath(), compose, 0o644); err != nil {
		return fmt.Errorf("writing compose descriptor: %w", err)
	}

	s.logger.Info("run artifacts written", map[string]any{"dir": rc.Plan.WorkDir})
	return nil
}

// startProxyStep brings the proxy up and polls its healthcheck until it
// reports healthy. The workload is not started until then, so filtering is
// live before anything can reach the network.
type startProxyStep struct {
	engine   Engine
	logger   logging.Logger
	interval time.Duration
	attempts int
}

func (s *startProxyStep) Name() string { return "start-proxy" }

func (s *startProxyStep) Execute(ctx context.Context, rc *RunContext) error {
	if err := s.engine.ComposeUp(ctx, rc.Plan.ComposePath(), "squid"); err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for attempt := 1; attempt <= s.attempts; attempt++ {
		status, err := s.engine.HealthStatus(ctx, topology.ProxyContainer)
		if err == nil && status == "healthy" {
			s.logger.Info("proxy healthy", map[string]any{"attempts": attempt})
			return nil
		}
		s.logger.Debug("waiting for proxy", map[string]any{"attempt": attempt, "status": status})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return fmt.Errorf("proxy %s not healthy after %d attempts", topology.ProxyContainer, s.attempts)
}

// startWorkloadStep launches the sandboxed workload.
type startWorkloadStep struct {
	engine Engine
}

func (s *startWorkloadStep) Name() string { return "start-workload" }

func (s *startWorkloadStep) Execute(ctx context.Context, rc *RunContext) error {
	if err := s.engine.ComposeUp(ctx, rc.Plan.ComposePath(), "agent"); err != nil {
		return fmt.Errorf("starting workload: %w", err)
	}
	return nil
}

// awaitWorkloadStep blocks until the workload exits and records its exit
// code. A nonzero code is a run result, not a step failure.
type awaitWorkloadStep struct {
	engine Engine
	logger logging.Logger
}

func (s *awaitWorkloadStep) Name() string { return "await-workload" }

func (s *awaitWorkloadStep) Execute(ctx context.Context, rc *RunContext) error {
	code, err := s.engine.WaitExit(ctx, topology.AgentContainer)
	if err != nil {
		return fmt.Errorf("waiting for workload: %w", err)
	}
	rc.ExitCode = code
	s.logger.Info("workload exited", map[string]any{"exit_code": code})
	return nil
}
