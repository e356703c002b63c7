// Package pidtrack attributes proxied connections back to the host
// processes that opened them, by source port.
package pidtrack

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

// Result of a source-port attribution. Always fully populated: failed
// lookups carry PID -1 and Err instead of an error return, so a missed
// attribution can never interrupt the log stream.
type Result struct {
	PID     int    `json:"pid"`
	Comm    string `json:"comm"`
	Cmdline string `json:"cmdline"`
	Inode   uint64 `json:"inode,omitempty"`
	Err     string `json:"error,omitempty"`
}

// cacheTTL bounds how long a successful port attribution is reused. The
// kernel recycles ephemeral ports, so entries must age out.
const cacheTTL = 30 * time.Second

// Correlator resolves source ports to processes via the socket table and
// per-process fd links, memoizing successes for the follow-mode refresh
// loop.
type Correlator struct {
	proc   ProcProvider
	logger logging.Logger
	cache  otter.Cache[int, Result]
}

func NewCorrelator(proc ProcProvider, logger logging.Logger) *Correlator {
	cache, err := otter.MustBuilder[int, Result](1024).
		Cost(func(_ int, _ Result) uint32 { return 1 }).
		WithTTL(cacheTTL).
		Build()
	if err != nil {
		panic("pidtrack: building lookup cache: " + err.Error())
	}
	return &Correlator{proc: proc, logger: logger, cache: cache}
}

// Correlate attributes a connection's source port to a process. Attribution
// is a diagnostic aid: any failure degrades to PID -1 with Err set and the
// caller's stream continues. Only successes are cached, so a lookup that
// raced a connection setup gets retried on the next line.
func (c *Correlator) Correlate(ctx context.Context, port int) Result {
	if r, ok := c.cache.Get(port); ok {
		return r
	}
	r := c.lookup(ctx, port)
	if r.Err == "" {
		c.cache.Set(port, r)
	} else {
		c.logger.Debug("pid attribution failed", map[string]any{"port": port, "error": r.Err})
	}
	return r
}

// Close releases the lookup cache.
func (c *Correlator) Close() {
	c.cache.Close()
}

func (c *Correlator) lookup(ctx context.Context, port int) Result {
	miss := Result{PID: -1, Comm: "unknown", Cmdline: "unknown"}

	if port <= 0 || port > 65535 {
		miss.Err = fmt.Sprintf("invalid source port %d", port)
		return miss
	}

	socks, err := c.proc.Sockets()
	if err != nil {
		miss.Err = fmt.Sprintf("reading socket table: %v", err)
		return miss
	}
	var inode uint64
	for _, s := range socks {
		if int(s.LocalPort) == port {
			inode = s.Inode
			break
		}
	}
	if inode == 0 {
		miss.Err = fmt.Sprintf("no socket with source port %d", port)
		return miss
	}
	miss.Inode = inode

	pid, err := c.findPIDByInode(ctx, inode)
	if err != nil {
		miss.Err = err.Error()
		return miss
	}

	r := Result{PID: pid, Inode: inode, Comm: "unknown", Cmdline: "unknown"}
	if comm, err := c.proc.Comm(pid); err == nil && comm != "" {
		r.Comm = comm
	}
	if cmdline, err := c.proc.Cmdline(pid); err == nil && cmdline != "" {
		r.Cmdline = cmdline
	}
	return r
}

func (c *Correlator) findPIDByInode(ctx context.Context, inode uint64) (int, error) {
	pids, err := c.proc.PIDs()
	if err != nil {
		return -1, fmt.Errorf("listing processes: %v", err)
	}
	want := fmt.Sprintf("socket:[%d]", inode)
	for _, pid := range pids {
		if ctx.Err() != nil {
			return -1, fmt.Errorf("lookup canceled for inode %d", inode)
		}
		links, err := c.proc.FDLinks(pid)
		if err != nil {
			// Exited or not ours to read.
			continue
		}
		for _, l := range links {
			if l == want {
				return pid, nil
			}
		}
	}
	return -1, fmt.Errorf("no process owns socket inode %d", inode)
}
