// Package app wires configuration, ledgers, transports and the mailbox
// into the operations behind each CLI command.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/backup"
	"github.com/nhle/outreach/internal/campaign"
	"github.com/nhle/outreach/internal/compose"
	"github.com/nhle/outreach/internal/credential"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/transport"
)

// Options are the global command-line settings.
type Options struct {
	ConfigPath string
	DryRun     bool
	TestMode   bool
	LogLevel   string
}

// PasswordSource looks up a stored account password.
type PasswordSource interface {
	Password(account string) (string, error)
}

// Deps overrides the collaborators App would otherwise build from the
// configuration. Zero fields are built on demand.
type Deps struct {
	Ledger      store.Ledger
	Transport   transport.Transport
	Dialer      mailbox.Dialer
	Sleeper     retry.Sleeper
	Jitter      campaign.Jitter
	Picker      compose.Picker
	Metrics     metrics.Recorder
	Credentials PasswordSource
	Now         func() time.Time
}

// App runs commands against one loaded configuration.
type App struct {
	cfg    *model.AppConfig
	log    *zap.Logger
	deps   Deps
	dryRun bool
	out    io.Writer

	ledger     store.Ledger
	ownsLedger bool
	backups    *backup.Manager
}

// LoadConfig reads the configuration named in opts and applies the
// command-line overrides.
func LoadConfig(opts Options) (*model.AppConfig, error) {
	path := opts.ConfigPath
	if path == "" {
		path = model.DefaultConfigPath()
	}

	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if opts.TestMode || cfg.TestMode.Enabled {
		cfg.ApplyTestMode()
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// New returns an App. Output meant for the operator, such as stats
// tables, is written to out.
func New(cfg *model.AppConfig, log *zap.Logger, deps Deps, dryRun bool, out io.Writer) *App {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if out == nil {
		out = os.Stdout
	}

	a := &App{
		cfg:    cfg,
		log:    log,
		deps:   deps,
		dryRun: dryRun,
		out:    out,
	}
	a.backups = backup.NewManager(cfg.Backup, backup.Files(cfg), log)
	a.resolvePassword()
	return a
}

// Config returns the loaded configuration.
func (a *App) Config() *model.AppConfig {
	return a.cfg
}

// resolvePassword falls back to the credential store when neither the
// config file nor the environment supplies a password.
func (a *App) resolvePassword() {
	acct := strings.TrimSpace(a.cfg.Account.Address)
	if a.cfg.Account.Password != "" || acct == "" || a.deps.Credentials == nil {
		return
	}

	pw, err := a.deps.Credentials.Password(acct)
	switch {
	case err == nil:
		a.cfg.Account.Password = pw
		a.log.Debug("password loaded from keyring", zap.String("account", acct))
	case errors.Is(err, credential.ErrNotFound):
	default:
		a.log.Warn("reading keyring", zap.Error(err))
	}
}

// Ledger opens the configured ledger on first use.
func (a *App) Ledger(ctx context.Context) (store.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	if a.deps.Ledger != nil {
		a.ledger = a.deps.Ledger
		return a.ledger, nil
	}

	l, err := store.Open(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s ledger: %w", a.cfg.Ledger.Backend, err)
	}
	if sl, ok := l.(*store.SQLiteLedger); ok {
		a.backups.Snapshot(a.cfg.Ledger.SQLitePath, func(dst string) error {
			return sl.Snapshot(context.Background(), dst)
		})
	}
	a.ledger = l
	a.ownsLedger = true
	return l, nil
}

func (a *App) transport(ctx context.Context) (transport.Transport, error) {
	if a.deps.Transport != nil {
		return a.deps.Transport, nil
	}
	t, err := transport.New(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	a.deps.Transport = t
	return t, nil
}

func (a *App) dialer() mailbox.Dialer {
	if a.deps.Dialer != nil {
		return a.deps.Dialer
	}
	return &mailbox.IMAPDialer{
		Host:     a.cfg.IMAP.Host,
		Port:     a.cfg.IMAP.Port,
		Username: a.cfg.Account.Address,
		Password: a.cfg.Account.Password,
		TLS:      a.cfg.IMAP.TLS,
	}
}

// resetLedger drops cached ledger state after the files underneath it
// were replaced.
func (a *App) resetLedger() error {
	if a.ledger == nil {
		return nil
	}
	if !a.ownsLedger {
		if inv, ok := a.ledger.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	a.ownsLedger = false
	return err
}

// Close releases the ledger if App opened it.
func (a *App) Close() error {
	if a.ledger == nil || !a.ownsLedger {
		return nil
	}
	err := a.ledger.Close()
	a.ledger = nil
	return err
}
