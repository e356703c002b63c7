package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/auditdb"
	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

const (
	testLineAllowed = `1700000000.123 172.30.0.20:45678 github.com:443 140.82.112.3:443 HTTP/1.1 CONNECT 200 TCP_TUNNEL:HIER_DIRECT github.com:443 "curl/8.5.0"`
	testLineDenied  = `1700000001.456 172.30.0.20:45680 evil.example.com:443 -:0 HTTP/1.1 CONNECT 403 TCP_DENIED:HIER_NONE evil.example.com:443 "curl/8.5.0"`
)

func saveLogsFlags(t *testing.T) {
	t.Helper()
	oldFormat, oldBlocked, oldTop, oldDB, oldRun := logsFormat, logsBlockedOnly, logsTop, logsDB, logsRunID
	t.Cleanup(func() {
		logsFormat, logsBlockedOnly, logsTop, logsDB, logsRunID = oldFormat, oldBlocked, oldTop, oldDB, oldRun
	})
}

func writeTestAccessLog(t *testing.T, dir string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, "access.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("writing access log: %v", err)
	}
	return path
}

func TestRunLogs_CleanLogPasses(t *testing.T) {
	saveLogsFlags(t)
	logsFormat = "json"
	logsDB = ""
	path := writeTestAccessLog(t, t.TempDir(), testLineAllowed)

	if err := runLogs(nil, []string{path}); err != nil {
		t.Fatalf("runLogs() error: %v", err)
	}
}

func TestRunLogs_DeniedRequestsFailTheGate(t *testing.T) {
	saveLogsFlags(t)
	logsFormat = "json"
	logsDB = ""
	path := writeTestAccessLog(t, t.TempDir(), testLineAllowed, testLineDenied)

	err := runLogs(nil, []string{path})
	if err == nil {
		t.Fatal("expected error when the log contains denied requests")
	}
	if !strings.Contains(err.Error(), "denied request") {
		t.Errorf("error = %v, want denied request count", err)
	}
}

func TestRunLogs_ResolvesWorkDir(t *testing.T) {
	saveLogsFlags(t)
	logsFormat = "json"
	logsDB = ""
	dir := t.TempDir()
	logDir := filepath.Join(dir, "squid-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		t.Fatalf("creating log dir: %v", err)
	}
	writeTestAccessLog(t, logDir, testLineAllowed)

	if err := runLogs(nil, []string{dir}); err != nil {
		t.Fatalf("runLogs() with work directory error: %v", err)
	}
}

func TestRunLogs_NoSource(t *testing.T) {
	saveLogsFlags(t)
	logsFormat = "json"
	logsDB = ""

	if err := runLogs(nil, nil); err == nil {
		t.Fatal("expected error without a log path or --db")
	}
}

func TestRunLogs_UnknownFormat(t *testing.T) {
	saveLogsFlags(t)
	logsFormat = "xml"

	if err := runLogs(nil, []string{"ignored"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRunLogs_FromAuditDB(t *testing.T) {
	saveLogsFlags(t)
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	logger := logging.NewJSONLogger(io.Discard, false)

	store, err := auditdb.Open(dbPath, logger)
	if err != nil {
		t.Fatalf("opening audit db: %v", err)
	}
	if err := store.BeginRun("run-1", time.Now(), "curl https://github.com"); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	var entries []*accesslog.Entry
	for _, line := range []string{testLineAllowed, testLineDenied} {
		e, ok := accesslog.ParseLine(line)
		if !ok {
			t.Fatalf("unparseable test line %q", line)
		}
		entries = append(entries, e)
	}
	if _, err := store.InsertBatch("run-1", entries); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if err := store.FinishRun("run-1", time.Now(), 0, 0); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	logsFormat = "json"
	logsDB = dbPath
	logsRunID = ""

	err = runLogs(nil, nil)
	if err == nil {
		t.Fatal("expected denied-request error from audit db stats")
	}
	if !strings.Contains(err.Error(), "1 denied request") {
		t.Errorf("error = %v, want 1 denied request", err)
	}
}
