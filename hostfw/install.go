package hostfw

import (
	"context"
	"fmt"
	"strings"

	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

// Installer applies and removes the host rule set through a Runner.
type Installer struct {
	cfg    Config
	runner Runner
	logger logging.Logger
}

// NewInstaller creates an Installer for cfg.
func NewInstaller(cfg Config, runner Runner, logger logging.Logger) *Installer {
	return &Installer{cfg: cfg, runner: runner, logger: logger}
}

// Install builds the owned chain and wires it into DOCKER-USER. It is
// idempotent: the chain is flushed and rebuilt on every call, and the jump
// is check-before-insert so repeated runs never accumulate duplicates.
func (ins *Installer) Install(ctx context.Context) error {
	if err := ins.runner.Run(ctx, "-N", Chain); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("creating chain %s: %w", Chain, err)
		}
	}
	if err := ins.runner.Run(ctx, "-F", Chain); err != nil {
		return fmt.Errorf("flushing chain %s: %w", Chain, err)
	}

	for _, rule := range ins.cfg.Rules() {
		args := append([]string{"-A", Chain}, rule...)
		if err := ins.runner.Run(ctx, args...); err != nil {
			return fmt.Errorf("installing rule %v: %w", rule, err)
		}
	}

	// The jump must sit at position 1 so no earlier DOCKER-USER rule can
	// accept subnet traffic first.
	if err := ins.runner.Run(ctx, "-C", dockerUserChain, "-j", Chain); err != nil {
		if err := ins.runner.Run(ctx, "-I", dockerUserChain, "1", "-j", Chain); err != nil {
			return fmt.Errorf("inserting jump into %s: %w", dockerUserChain, err)
		}
	}

	ins.logger.Info("host firewall rules installed", map[string]any{
		"chain":  Chain,
		"subnet": ins.cfg.Subnet,
		"proxy":  fmt.Sprintf("%s:%d", ins.cfg.ProxyIP, ins.cfg.ProxyPort),
	})
	return nil
}

// Uninstall removes the jump and the owned chain. Partial or missing state
// is tolerated so cleanup after a failed run cannot itself fail.
func (ins *Installer) Uninstall(ctx context.Context) {
	steps := [][]string{
		{"-D", dockerUserChain, "-j", Chain},
		{"-F", Chain},
		{"-X", Chain},
	}
	for _, args := range steps {
		if err := ins.runner.Run(ctx, args...); err != nil {
			ins.logger.Debug("host firewall cleanup step skipped", map[string]any{
				"args":  strings.Join(args, " "),
				"error": err.Error(),
			})
		}
	}
	ins.logger.Info("host firewall rules removed", map[string]any{"chain": Chain})
}
