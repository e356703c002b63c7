package pidtrack

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Socket is one row of the kernel TCP socket table.
type Socket struct {
	LocalPort uint16
	Inode     uint64
}

// ProcProvider abstracts the /proc reads a lookup needs so attribution is
// testable without a live kernel.
type ProcProvider interface {
	// Sockets returns the live TCP socket table, v4 and v6 combined.
	Sockets() ([]Socket, error)
	// PIDs lists the numeric process directories under /proc.
	PIDs() ([]int, error)
	// FDLinks returns the symlink targets of /proc/<pid>/fd/*.
	FDLinks(pid int) ([]string, error)
	// Comm returns the short process name from /proc/<pid>/comm.
	Comm(pid int) (string, error)
	// Cmdline returns the full command line from /proc/<pid>/cmdline.
	Cmdline(pid int) (string, error)
}

// LinuxProc reads the real /proc filesystem. Root overrides the mount
// point in tests.
type LinuxProc struct {
	Root string
}

func (p LinuxProc) root() string {
	if p.Root == "" {
		return "/proc"
	}
	return p.Root
}

func (p LinuxProc) Sockets() ([]Socket, error) {
	var out []Socket
	var firstErr error
	for _, name := range []string{"tcp", "tcp6"} {
		socks, err := readSocketTable(filepath.Join(p.root(), "net", name))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, socks...)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (p LinuxProc) PIDs() ([]int, error) {
	entries, err := os.ReadDir(p.root())
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func (p LinuxProc) FDLinks(pid int) ([]string, error) {
	fdDir := filepath.Join(p.root(), strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil {
			continue
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func (p LinuxProc) Comm(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.root(), strconv.Itoa(pid), "comm"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (p LinuxProc) Cmdline(pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.root(), strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " ")), nil
}

func readSocketTable(path string) ([]Socket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Socket
	sc := bufio.NewScanner(f)
	sc.Scan() // header
	for sc.Scan() {
		s, ok := parseSocketLine(sc.Text())
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// parseSocketLine reads one socket table row:
//
//	sl local_address rem_address st tx_queue rx_queue tr tm->when retrnsmt uid timeout inode
//
// local_address is hex "IP:PORT"; the port is all this lookup matches on.
func parseSocketLine(line string) (Socket, bool) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return Socket{}, false
	}
	_, portHex, ok := strings.Cut(fields[1], ":")
	if !ok {
		return Socket{}, false
	}
	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return Socket{}, false
	}
	inode, err := strconv.ParseUint(fields[9], 10, 64)
	if err != nil {
		return Socket{}, false
	}
	return Socket{LocalPort: uint16(port), Inode: inode}, true
}
