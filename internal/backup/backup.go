// Package backup snapshots the ledger and contact files and restores them.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/model"
)

const (
	namePrefix = "backup_"
	timeLayout = "20060102_150405"
)

// ErrNotFound is returned by Restore for an unknown backup name.
var ErrNotFound = errors.New("backup not found")

// Backup is one snapshot directory.
type Backup struct {
	Name      string
	Path      string
	CreatedAt time.Time
	Files     []string
}

// Manager creates, lists, prunes and restores backups of a fixed set of
// files.
type Manager struct {
	dir      string
	keepLast int
	enabled  bool
	files    []string
	log      *zap.Logger
	now      func() time.Time

	snapshots map[string]func(dst string) error
}

// NewManager returns a manager for files, storing snapshots under
// cfg.Dir.
func NewManager(cfg model.BackupConfig, files []string, log *zap.Logger) *Manager {
	return &Manager{
		dir:      cfg.Dir,
		keepLast: cfg.KeepLast,
		enabled:  cfg.Enabled,
		files:    files,
		log:      log,
		now:      time.Now,

		snapshots: make(map[string]func(dst string) error),
	}
}

// Snapshot registers fn to produce the backup copy of path instead of a
// plain file copy. Databases that are open during the backup need this.
func (m *Manager) Snapshot(path string, fn func(dst string) error) {
	m.snapshots[path] = fn
}

// Files returns the files a backup covers for cfg: the contact list,
// the CSV ledgers and the SQLite database when that backend is used.
func Files(cfg *model.AppConfig) []string {
	files := []string{cfg.Files.Contacts}
	for _, kind := range model.LedgerKinds {
		files = append(files, cfg.Files.LedgerPath(kind))
	}
	if cfg.Ledger.Backend == "sqlite" {
		files = append(files, cfg.Ledger.SQLitePath)
	}
	return files
}

// Enabled reports whether backups are turned on.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Create copies every existing file into a new timestamped directory
// and prunes old backups. It returns nil when backups are disabled.
func (m *Manager) Create() (*Backup, error) {
	if !m.enabled {
		return nil, nil
	}

	created := m.now()
	name := namePrefix + created.Format(timeLayout)
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err == nil {
		name += "_" + uuid.NewString()[:8]
		path = filepath.Join(m.dir, name)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	b := &Backup{Name: name, Path: path, CreatedAt: created}
	seen := make(map[string]string)
	for _, src := range m.files {
		if src == "" {
			continue
		}
		base := filepath.Base(src)
		if other, ok := seen[base]; ok && other != src {
			return nil, fmt.Errorf("backup: %s and %s share the name %s", other, src, base)
		}
		seen[base] = src

		dst := filepath.Join(path, base)
		var err error
		if snap, ok := m.snapshots[src]; ok {
			err = snap(dst)
		} else {
			err = copyFile(src, dst)
		}
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("backing up %s: %w", src, err)
		}
		b.Files = append(b.Files, base)
	}

	m.log.Info("backup created", zap.String("name", name), zap.Strings("files", b.Files))

	if err := m.prune(); err != nil {
		m.log.Warn("pruning backups", zap.Error(err))
	}
	return b, nil
}

// List returns the backups in the backup directory, newest first.
func (m *Manager) List() ([]Backup, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Backup
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), namePrefix) {
			continue
		}
		stamp := strings.TrimPrefix(e.Name(), namePrefix)
		if len(stamp) < len(timeLayout) {
			continue
		}
		created, err := time.ParseInLocation(timeLayout, stamp[:len(timeLayout)], time.Local)
		if err != nil {
			continue
		}

		b := Backup{Name: e.Name(), Path: filepath.Join(m.dir, e.Name()), CreatedAt: created}
		if files, err := os.ReadDir(b.Path); err == nil {
			for _, f := range files {
				if !f.IsDir() {
					b.Files = append(b.Files, f.Name())
				}
			}
		}
		out = append(out, b)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// Restore copies the files of the named backup over the live files.
// Files the backup does not contain are left alone.
func (m *Manager) Restore(name string) ([]string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid backup name %q", name)
	}
	path := filepath.Join(m.dir, name)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	var restored []string
	for _, dst := range m.files {
		if dst == "" {
			continue
		}
		src := filepath.Join(path, filepath.Base(dst))
		err := copyFile(src, dst)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("restoring %s: %w", dst, err)
		}
		restored = append(restored, dst)
	}

	m.log.Info("backup restored", zap.String("name", name), zap.Strings("files", restored))
	return restored, nil
}

func (m *Manager) prune() error {
	if m.keepLast <= 0 {
		return nil
	}
	backups, err := m.List()
	if err != nil {
		return err
	}
	for _, b := range backups[min(m.keepLast, len(backups)):] {
		if err := os.RemoveAll(b.Path); err != nil {
			return fmt.Errorf("removing %s: %w", b.Name, err)
		}
		m.log.Debug("backup pruned", zap.String("name", b.Name))
	}
	return nil
}

// copyFile writes src to a temporary file next to dst and renames it
// into place, so dst is never left half-written.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
