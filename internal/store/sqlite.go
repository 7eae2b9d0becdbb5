package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/outreach/internal/model"
)

// SQLiteLedger implements Ledger on a single SQLite table. The
// (kind, email) uniqueness constraint enforces set semantics.
type SQLiteLedger struct {
	db *sqlx.DB
}

// NewSQLiteLedger opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One writer at a time; also keeps ":memory:" databases on a single
	// connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting synchronous mode: %w", err)
	}

	l := &SQLiteLedger{db: db}
	if err := l.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return l, nil
}

// Close closes the underlying database connection.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (l *SQLiteLedger) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := l.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = l.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := l.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Addresses implements Ledger.
func (l *SQLiteLedger) Addresses(ctx context.Context, kind model.LedgerKind) (model.AddressSet, error) {
	var emails []string
	err := l.db.SelectContext(ctx, &emails,
		"SELECT email FROM ledger_entries WHERE kind = ?", string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying %s addresses: %w", kind, err)
	}
	return model.NewAddressSet(emails...), nil
}

// Records implements Ledger.
func (l *SQLiteLedger) Records(ctx context.Context, kind model.LedgerKind) ([]model.Record, error) {
	var rows []entry
	err := l.db.SelectContext(ctx, &rows,
		"SELECT kind, email, occurred_at, detail FROM ledger_entries WHERE kind = ? ORDER BY id",
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying %s records: %w", kind, err)
	}

	out := make([]model.Record, 0, len(rows))
	for _, e := range rows {
		out = append(out, e.record())
	}
	return out, nil
}

// Contains implements Ledger.
func (l *SQLiteLedger) Contains(ctx context.Context, kind model.LedgerKind, addr string) (bool, error) {
	var n int
	err := l.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM ledger_entries WHERE kind = ? AND email = ?",
		string(kind), model.NormalizeEmail(addr))
	if err != nil {
		return false, fmt.Errorf("checking %s ledger: %w", kind, err)
	}
	return n > 0, nil
}

// Append implements Ledger. INSERT OR IGNORE keeps the first record for
// an address.
func (l *SQLiteLedger) Append(ctx context.Context, rec model.Record) (bool, error) {
	e, err := toEntry(rec)
	if err != nil {
		return false, err
	}

	res, err := l.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_entries (kind, email, occurred_at, detail)
		VALUES (:kind, :email, :occurred_at, :detail)`, e)
	if err != nil {
		return false, fmt.Errorf("%w: inserting %s entry: %w", ErrLedgerWrite, e.Kind, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: reading affected rows: %w", ErrLedgerWrite, err)
	}
	return n > 0, nil
}

// Snapshot writes a consistent copy of the database to dst, which must
// not exist yet.
func (l *SQLiteLedger) Snapshot(ctx context.Context, dst string) error {
	if _, err := l.db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("snapshotting sqlite ledger: %w", err)
	}
	return nil
}
