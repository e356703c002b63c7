package hostfw

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes packet-filter control commands. Tests inject a fake to
// verify sequencing without touching the kernel.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// ExecRunner shells out to the iptables binary.
type ExecRunner struct {
	// Binary overrides the iptables executable, default "iptables".
	Binary string
}

func (r *ExecRunner) binary() string {
	if r.Binary == "" {
		return "iptables"
	}
	return r.Binary
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, r.binary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v failed: %s: %w", r.binary(), args, bytes.TrimSpace(stderr.Bytes()), err)
	}
	return nil
}
