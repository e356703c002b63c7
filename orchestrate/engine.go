package orchestrate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Engine is the container-runtime surface the orchestrator drives. Tests
// inject a fake to verify sequencing without a daemon.
type Engine interface {
	// NetworkSubnet returns the subnet of a named network, or "" when the
	// network does not exist.
	NetworkSubnet(ctx context.Context, name string) (string, error)
	RemoveNetwork(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	// ComposeUp starts the named services of a compose file detached.
	ComposeUp(ctx context.Context, composePath string, services ...string) error
	ComposeDown(ctx context.Context, composePath string) error
	// HealthStatus returns the container's healthcheck state, e.g.
	// "starting" or "healthy".
	HealthStatus(ctx context.Context, container string) (string, error)
	// WaitExit blocks until the container stops and returns its exit code.
	WaitExit(ctx context.Context, container string) (int, error)
}

// DockerEngine drives containers through the docker CLI.
type DockerEngine struct{}

// Available reports whether a docker daemon is reachable.
func (e *DockerEngine) Available() bool {
	return exec.Command("docker", "info").Run() == nil
}

func (e *DockerEngine) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("docker %s failed: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (e *DockerEngine) NetworkSubnet(ctx context.Context, name string) (string, error) {
	out, err := e.run(ctx, "network", "inspect", "-f", "{{range .IPAM.Config}}{{.Subnet}}{{end}}", name)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "no such network") || strings.Contains(msg, "not found") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

func (e *DockerEngine) RemoveNetwork(ctx context.Context, name string) error {
	_, err := e.run(ctx, "network", "rm", name)
	return err
}

func (e *DockerEngine) RemoveContainer(ctx context.Context, name string) error {
	_, err := e.run(ctx, "rm", "-f", name)
	return err
}

func (e *DockerEngine) ComposeUp(ctx context.Context, composePath string, services ...string) error {
	args := append([]string{"compose", "-f", composePath, "up", "-d"}, services...)
	_, err := e.run(ctx, args...)
	return err
}

func (e *DockerEngine) ComposeDown(ctx context.Context, composePath string) error {
	_, err := e.run(ctx, "compose", "-f", composePath, "down", "-v", "--remove-orphans")
	return err
}

func (e *DockerEngine) HealthStatus(ctx context.Context, container string) (string, error) {
	return e.run(ctx, "inspect", "-f", "{{.State.Health.Status}}", container)
}

// ContainerState returns the container's run state ("running", "exited") or
// "" when no such container exists.
func (e *DockerEngine) ContainerState(ctx context.Context, container string) (string, error) {
	out, err := e.run(ctx, "inspect", "-f", "{{.State.Status}}", container)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "no such object") || strings.Contains(msg, "no such container") {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// ContainerExitCode returns the recorded exit code of a stopped container.
func (e *DockerEngine) ContainerExitCode(ctx context.Context, container string) (int, error) {
	out, err := e.run(ctx, "inspect", "-f", "{{.State.ExitCode}}", container)
	if err != nil {
		return -1, err
	}
	code, err := strconv.Atoi(out)
	if err != nil {
		return -1, fmt.Errorf("parsing exit code %q: %w", out, err)
	}
	return code, nil
}

func (e *DockerEngine) WaitExit(ctx context.Context, container string) (int, error) {
	out, err := e.run(ctx, "wait", container)
	if err != nil {
		return -1, err
	}
	code, err := strconv.Atoi(out)
	if err != nil {
		return -1, fmt.Errorf("parsing exit code %q: %w", out, err)
	}
	return code, nil
}

// Exec runs argv inside a container and returns its combined trimmed output.
func (e *DockerEngine) Exec(ctx context.Context, container string, argv ...string) (string, error) {
	args := append([]string{"exec", container}, argv...)
	return e.run(ctx, args...)
}

// ListContainers returns the names of all containers, running or not, whose
// name matches the filter prefix.
func (e *DockerEngine) ListContainers(ctx context.Context, namePrefix string) ([]string, error) {
	out, err := e.run(ctx, "ps", "-a", "--filter", "name="+namePrefix, "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
