package ledger

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	mailbox     TEXT NOT NULL,
	account     TEXT NOT NULL DEFAULT 'me',
	dry_run     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME,
	state       TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS outcomes (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	message_id  TEXT NOT NULL,
	folder      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	remote_ids  TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 1,
	error       TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id, status);
CREATE INDEX IF NOT EXISTS idx_outcomes_message ON outcomes(message_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
