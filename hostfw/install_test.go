package hostfw

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

var testConfig = Config{
	Subnet:    "172.30.0.0/24",
	ProxyIP:   "172.30.0.10",
	ProxyPort: 3128,
}

// fakeRunner records invocations and returns scripted errors by prefix.
type fakeRunner struct {
	calls []string
	fail  map[string]error
}

func (f *fakeRunner) Run(_ context.Context, args ...string) error {
	call := strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for prefix, err := range f.fail {
		if strings.HasPrefix(call, prefix) {
			return err
		}
	}
	return nil
}

func testLogger() logging.Logger {
	return logging.NewJSONLogger(&bytes.Buffer{}, false)
}

func TestRules_Order(t *testing.T) {
	cfg := testConfig
	cfg.DNSServers = []string{"1.1.1.1"}
	rules := cfg.Rules()

	first := strings.Join(rules[0], " ")
	if first != "-s 172.30.0.10 -j RETURN" {
		t.Errorf("first rule = %q, want proxy RETURN", first)
	}
	last := strings.Join(rules[len(rules)-1], " ")
	if last != "-s 172.30.0.0/24 -j DROP" {
		t.Errorf("last rule = %q, want subnet DROP", last)
	}

	joined := make([]string, len(rules))
	for i, r := range rules {
		joined[i] = strings.Join(r, " ")
	}
	all := strings.Join(joined, "\n")
	if !strings.Contains(all, "-d 1.1.1.1 -p udp --dport 53 -j RETURN") {
		t.Error("missing trusted resolver udp rule")
	}
	if !strings.Contains(all, "-d 1.1.1.1 -p tcp --dport 53 -j RETURN") {
		t.Error("missing trusted resolver tcp rule")
	}
	if !strings.Contains(all, "-s 172.30.0.0/24 -p tcp --dport 53 -j DROP") {
		t.Error("missing tcp DNS drop")
	}
	if !strings.Contains(all, "-d 172.30.0.10 -p tcp --dport 3128 -j RETURN") {
		t.Error("missing subnet-to-proxy rule")
	}

	dnsDrop := indexOf(joined, "-s 172.30.0.0/24 -p udp --dport 53 -j DROP")
	dnsAllow := indexOf(joined, "-s 172.30.0.0/24 -d 1.1.1.1 -p udp --dport 53 -j RETURN")
	if dnsAllow < 0 || dnsDrop < 0 || dnsAllow > dnsDrop {
		t.Error("trusted resolver rule must precede the DNS drop")
	}
}

func TestRules_NoResolversBlocksAllDNS(t *testing.T) {
	rules := testConfig.Rules()
	for _, r := range rules {
		s := strings.Join(r, " ")
		if strings.Contains(s, "--dport 53 -j RETURN") {
			t.Errorf("unexpected DNS allow rule with empty resolver list: %q", s)
		}
	}
}

func TestInstall_Sequence(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"-C DOCKER-USER": errors.New("no such rule"),
	}}
	ins := NewInstaller(testConfig, runner, testLogger())

	if err := ins.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	want := []string{
		"-N AWF-EGRESS",
		"-F AWF-EGRESS",
	}
	for i, w := range want {
		if runner.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, runner.calls[i], w)
		}
	}
	lastTwo := runner.calls[len(runner.calls)-2:]
	if lastTwo[0] != "-C DOCKER-USER -j AWF-EGRESS" {
		t.Errorf("expected jump check, got %q", lastTwo[0])
	}
	if lastTwo[1] != "-I DOCKER-USER 1 -j AWF-EGRESS" {
		t.Errorf("expected jump insert at position 1, got %q", lastTwo[1])
	}
}

func TestInstall_JumpAlreadyPresent(t *testing.T) {
	runner := &fakeRunner{}
	ins := NewInstaller(testConfig, runner, testLogger())

	if err := ins.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "-I DOCKER-USER") {
			t.Error("jump must not be inserted when the check succeeds")
		}
	}
}

func TestInstall_ChainAlreadyExists(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"-N AWF-EGRESS": errors.New("iptables: Chain already exists."),
	}}
	ins := NewInstaller(testConfig, runner, testLogger())

	if err := ins.Install(context.Background()); err != nil {
		t.Fatalf("Install should tolerate an existing chain: %v", err)
	}
	if runner.calls[1] != "-F AWF-EGRESS" {
		t.Error("existing chain should be flushed, not abandoned")
	}
}

func TestInstall_PropagatesFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"-F AWF-EGRESS": errors.New("permission denied"),
	}}
	ins := NewInstaller(testConfig, runner, testLogger())

	if err := ins.Install(context.Background()); err == nil {
		t.Fatal("expected error when flush fails")
	}
}

func TestUninstall_ToleratesMissingState(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{
		"-D": errors.New("no such rule"),
		"-F": errors.New("no such chain"),
		"-X": errors.New("no such chain"),
	}}
	ins := NewInstaller(testConfig, runner, testLogger())

	ins.Uninstall(context.Background())

	want := []string{
		"-D DOCKER-USER -j AWF-EGRESS",
		"-F AWF-EGRESS",
		"-X AWF-EGRESS",
	}
	if len(runner.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", runner.calls, want)
	}
	for i, w := range want {
		if runner.calls[i] != w {
			t.Errorf("call %d = %q, want %q", i, runner.calls[i], w)
		}
	}
}

func indexOf(items []string, want string) int {
	for i, s := range items {
		if s == want {
			return i
		}
	}
	return -1
}
