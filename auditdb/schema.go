// Package auditdb persists parsed access-log entries to a per-host SQLite
// database so egress decisions stay reviewable after the run's work
// directory is gone. Writes are asynchronous and never block the log
// stream.
package auditdb

// createDDL defines the audit schema. One row per run plus one row per
// proxied request.
const createDDL = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_ns  INTEGER NOT NULL,
	finished_ns INTEGER NOT NULL DEFAULT 0,
	exit_code   INTEGER NOT NULL DEFAULT -1,
	command     TEXT NOT NULL DEFAULT '',
	dropped     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS requests (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	ts          REAL NOT NULL,
	client_ip   TEXT NOT NULL DEFAULT '',
	client_port INTEGER NOT NULL DEFAULT 0,
	domain      TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL DEFAULT '',
	status      INTEGER NOT NULL DEFAULT 0,
	decision    TEXT NOT NULL DEFAULT '',
	url         TEXT NOT NULL DEFAULT '',
	allowed     INTEGER NOT NULL DEFAULT 0,
	https       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_requests_run_id  ON requests(run_id);
CREATE INDEX IF NOT EXISTS idx_requests_domain  ON requests(domain);
CREATE INDEX IF NOT EXISTS idx_requests_allowed ON requests(allowed);
`
