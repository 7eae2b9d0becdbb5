package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	email       TEXT NOT NULL,
	occurred_at TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (kind, email)
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_kind ON ledger_entries(kind, id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
