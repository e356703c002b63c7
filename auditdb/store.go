package auditdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/githubnext/gh-aw-firewall-sub005/accesslog"
	"github.com/githubnext/gh-aw-firewall-sub005/logging"
)

// Store is a single-writer handle on the audit database. The schema is
// applied on open, so pointing at a fresh path just works.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Run is one recorded firewall session.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	ExitCode int
	Command  string
	Dropped  int64
}

// Open opens or creates the audit database at path.
func Open(path string, logger logging.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating audit db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit db %s: %w", path, err)
	}
	// Single writer: one connection is all we need.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, path, err)
		}
	}

	if _, err := db.Exec(createDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying audit schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a session.
func (s *Store) BeginRun(id string, started time.Time, command string) error {
	_, err := s.db.Exec(`INSERT INTO runs (id, started_ns, command) VALUES (?, ?, ?)`,
		id, started.UnixNano(), command)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun records the session outcome, including how many entries the
// async writer had to drop.
func (s *Store) FinishRun(id string, finished time.Time, exitCode int, dropped int64) error {
	_, err := s.db.Exec(`UPDATE runs SET finished_ns = ?, exit_code = ?, dropped = ? WHERE id = ?`,
		finished.UnixNano(), exitCode, dropped, id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// Runs lists recorded sessions, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT id, started_ns, finished_ns, exit_code, command, dropped FROM runs ORDER BY started_ns DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedNs, finishedNs int64
		if err := rows.Scan(&r.ID, &startedNs, &finishedNs, &r.ExitCode, &r.Command, &r.Dropped); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.Started = time.Unix(0, startedNs).UTC()
		if finishedNs != 0 {
			r.Finished = time.Unix(0, finishedNs).UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// InsertBatch writes a batch of entries in one transaction. Individual bad
// rows are skipped with a warning rather than failing the batch.
func (s *Store) InsertBatch(runID string, entries []*accesslog.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning audit tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`INSERT INTO requests (
		run_id, ts, client_ip, client_port, domain, method, status, decision, url, allowed, https
	) VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing request insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		_, err := stmt.Exec(
			runID, e.Timestamp, e.ClientIP, e.ClientPort, e.Domain,
			e.Method, e.Status, e.Decision, e.URL,
			boolToInt(e.Allowed), boolToInt(e.HTTPS),
		)
		if err != nil {
			s.logger.Warn("skipping audit row", map[string]any{"domain": e.Domain, "error": err.Error()})
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing audit tx: %w", err)
	}
	return inserted, nil
}

// Stats rebuilds the aggregation snapshot for a run from stored rows. It
// folds through the same accumulator the live log path uses, so totals,
// per-domain counts and the time range carry identical semantics.
func (s *Store) Stats(runID string) (*accesslog.Stats, error) {
	rows, err := s.db.Query(`SELECT ts, domain, allowed FROM requests WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying requests: %w", err)
	}
	defer rows.Close()

	agg := accesslog.NewAggregator()
	for rows.Next() {
		var ts float64
		var domain string
		var allowed int
		if err := rows.Scan(&ts, &domain, &allowed); err != nil {
			return nil, fmt.Errorf("scanning request row: %w", err)
		}
		agg.Add(&accesslog.Entry{Timestamp: ts, Domain: domain, Allowed: allowed != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return agg.Snapshot(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
