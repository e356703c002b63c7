// Package orchestrate sequences a firewalled run: network preparation, host
// rules, artifact generation, container start, workload execution, and
// teardown. Steps never reorder or skip; the first failure aborts the rest
// and tears down what was set up, so partial enforcement is never left
// running.
package orchestrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/logging"
	"github.com/githubnext/gh-aw-firewall-sub005/squidconf"
	"github.com/githubnext/gh-aw-firewall-sub005/topology"
)

// State names one phase of a run's lifecycle.
type State string

const (
	StateInit               State = "init"
	StateNetworkReady       State = "network-ready"
	StateHostRulesInstalled State = "host-rules-installed"
	StateConfigWritten      State = "config-written"
	StateContainersStarted  State = "containers-started"
	StateWorkloadRunning    State = "workload-running"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
	StateCleanedUp          State = "cleaned-up"
)

// RuleInstaller applies and removes the host firewall tier.
type RuleInstaller interface {
	Install(ctx context.Context) error
	Uninstall(ctx context.Context)
}

// Options configures a run.
type Options struct {
	Plan   *topology.Plan
	Policy *squidconf.ProxyPolicy

	// KeepLogs preserves the proxy log directory even on success. Failed
	// runs always preserve it.
	KeepLogs bool
	// PreserveRoot is where preserved logs land. Default /tmp.
	PreserveRoot string

	// HealthInterval and HealthAttempts bound the proxy readiness poll.
	// Defaults: 500ms, 60 attempts.
	HealthInterval time.Duration
	HealthAttempts int

	// CleanupGrace bounds teardown once the run context is gone. Default 30s.
	CleanupGrace time.Duration
}

// Orchestrator owns one run. The managed network, proxy config, and host
// rule chain are exclusive to a single run per host; there is no
// cross-session locking.
type Orchestrator struct {
	opts   Options
	engine Engine
	rules  RuleInstaller
	logger logging.Logger

	runID       string
	state       State
	stats       *accesslog.Stats
	cleanupOnce sync.Once
}

// New creates an Orchestrator with a fresh run ID.
func New(opts Options, engine Engine, rules RuleInstaller, logger logging.Logger) *Orchestrator {
	if opts.PreserveRoot == "" {
		opts.PreserveRoot = "/tmp"
	}
	if opts.HealthInterval == 0 {
		opts.HealthInterval = 500 * time.Millisecond
	}
	if opts.HealthAttempts == 0 {
		opts.HealthAttempts = 60
	}
	if opts.CleanupGrace == 0 {
		opts.CleanupGrace = 30 * time.Second
	}
	runID := uuid.NewString()
	return &Orchestrator{
		opts:   opts,
		engine: engine,
		rules:  rules,
		logger: logging.Scoped(logger, map[string]any{"run_id": runID}),
		runID:  runID,
		state:  StateInit,
	}
}

// RunID identifies this run in logs and the audit store.
func (o *Orchestrator) RunID() string { return o.runID }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State { return o.state }

// Stats returns the access-log aggregate captured during teardown, or nil
// when no readable log existed. Valid once Run has returned.
func (o *Orchestrator) Stats() *accesslog.Stats { return o.stats }

func (o *Orchestrator) transition(next State) {
	o.state = next
	o.logger.Info("run state", map[string]any{"state": string(next)})
}

type boundStep struct {
	step Step
	next State
}

// Run drives all steps in order and returns the workload's exit code.
// Teardown happens on every path out: completion, step failure, or
// cancellation through ctx.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	rc := &RunContext{
		Plan:     o.opts.Plan,
		Policy:   o.opts.Policy,
		ExitCode: -1,
	}
	defer o.cleanup(rc)

	steps := []boundStep{
		{&ensureNetworkStep{engine: o.engine, logger: o.logger}, StateNetworkReady},
		{&hostRulesStep{rules: o.rules}, StateHostRulesInstalled},
		{&writeArtifactsStep{logger: o.logger}, StateConfigWritten},
		{&startProxyStep{
			engine:   o.engine,
			logger:   o.logger,
			interval: o.opts.HealthInterval,
			attempts: o.opts.HealthAttempts,
		}, StateContainersStarted},
		{&startWorkloadStep{engine: o.engine}, StateWorkloadRunning},
		{&awaitWorkloadStep{engine: o.engine, logger: o.logger}, StateCompleted},
	}

	for _, bs := range steps {
		if err := ctx.Err(); err != nil {
			o.transition(StateFailed)
			return 1, fmt.Errorf("run cancelled before step %s: %w", bs.step.Name(), err)
		}
		if err := bs.step.Execute(ctx, rc); err != nil {
			o.transition(StateFailed)
			return 1, fmt.Errorf("step %s: %w", bs.step.Name(), err)
		}
		o.transition(bs.next)
	}

	return rc.ExitCode, nil
}

// cleanup tears the run down exactly once: containers and network go away,
// host rules come out, logs are preserved or the work dir removed. The run
// context may already be cancelled, so teardown gets its own bounded one.
func (o *Orchestrator) cleanup(rc *RunContext) {
	o.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.opts.CleanupGrace)
		defer cancel()

		failed := o.state == StateFailed

		if err := o.engine.ComposeDown(ctx, rc.Plan.ComposePath()); err != nil {
			o.logger.Warn("compose teardown failed", map[string]any{"error": err.Error()})
		}
		o.rules.Uninstall(ctx)

		if o.opts.KeepLogs || failed {
			dest, err := o.preserveLogs(rc.Plan)
			switch {
			case err != nil:
				o.logger.Warn("preserving proxy logs failed", map[string]any{"error": err.Error()})
			case dest != "":
				o.logger.Info("proxy logs preserved", map[string]any{"dir": dest})
			}
		}

		// Totals must be folded before the work dir goes away.
		if stats, _, err := accesslog.AggregateFile(rc.Plan.AccessLogPath()); err == nil {
			o.stats = stats
		}

		if err := os.RemoveAll(rc.Plan.WorkDir); err != nil {
			o.logger.Warn("removing work dir failed", map[string]any{"error": err.Error()})
		}

		o.transition(StateCleanedUp)
	})
}

// preserveLogs copies the proxy log directory to a timestamped directory
// under PreserveRoot. Returns "" when there was nothing to preserve.
func (o *Orchestrator) preserveLogs(plan *topology.Plan) (string, error) {
	entries, err := os.ReadDir(plan.LogDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	dest := filepath.Join(o.opts.PreserveRoot, "squid-logs-"+time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(plan.LogDir(), entry.Name())
		if err := copyFile(src, filepath.Join(dest, entry.Name())); err != nil {
			return "", fmt.Errorf("copying %s: %w", src, err)
		}
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
