package app

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nhle/outreach/internal/theme"
)

// BackupCreate snapshots the ledger and contact files.
func (a *App) BackupCreate() error {
	if !a.backups.Enabled() {
		fmt.Fprintln(a.out, "backups are disabled (backup.enabled: false)")
		return nil
	}
	b, err := a.backups.Create()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "created %s (%d file(s))\n", b.Name, len(b.Files))
	return nil
}

// BackupList prints the available backups, newest first.
func (a *App) BackupList() error {
	backups, err := a.backups.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Fprintln(a.out, theme.HelpStyle.Render("no backups found"))
		return nil
	}
	for _, b := range backups {
		fmt.Fprintf(a.out, "%s  %s  %d file(s)\n", b.Name, b.CreatedAt.Format("2006-01-02 15:04:05"), len(b.Files))
	}
	return nil
}

// BackupRestore replaces the live files with those in the named backup.
// The ledger is closed first and reopened on next use.
func (a *App) BackupRestore(name string) error {
	if err := a.resetLedger(); err != nil {
		return fmt.Errorf("closing ledger before restore: %w", err)
	}

	restored, err := a.backups.Restore(name)
	if err != nil {
		return err
	}

	if a.cfg.Ledger.Backend == "sqlite" {
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(a.cfg.Ledger.SQLitePath + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
				a.log.Warn("removing stale sqlite file", zap.String("suffix", suffix), zap.Error(err))
			}
		}
	}

	fmt.Fprintf(a.out, "restored %d file(s) from %s\n", len(restored), name)
	return nil
}

// ConfigShow prints the effective configuration with secrets masked.
func (a *App) ConfigShow() error {
	data, err := yaml.Marshal(a.cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = a.out.Write(data)
	return err
}
