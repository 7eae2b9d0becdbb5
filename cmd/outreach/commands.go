package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/app"
	"github.com/nhle/outreach/internal/credential"
	"github.com/nhle/outreach/internal/logging"
	"github.com/nhle/outreach/internal/model"
)

// CLI is the command-line grammar. Global flags apply to every command.
type CLI struct {
	Config   string           `short:"c" env:"OUTREACH_CONFIG" help:"Configuration file path (default: config.yaml)" type:"path"`
	DryRun   bool             `name:"dry-run" help:"Report what would happen without sending mail or writing ledgers"`
	TestMode bool             `name:"test-mode" help:"Use the test contact list, ledgers and limits"`
	LogLevel string           `name:"log-level" help:"Override the configured log level (debug, info, warn, error)"`
	Version  kong.VersionFlag `name:"version" help:"Show version and exit"`

	Send       SendCmd       `cmd:"" help:"Send first-contact messages to contacts that have not been emailed"`
	Followup   FollowupCmd   `cmd:"" help:"Send follow-ups to contacts that have not replied, bounced or been followed up"`
	Bounces    BouncesCmd    `cmd:"" help:"Scan the bounce folders and record delivery failures"`
	Replies    RepliesCmd    `cmd:"" help:"Scan the reply folder and record replies"`
	Stats      StatsCmd      `cmd:"" help:"Show campaign statistics"`
	Backup     BackupCmd     `cmd:"" help:"Manage ledger backups"`
	ConfigCmd  ConfigCmd     `cmd:"" name:"config" help:"Inspect the effective configuration"`
	Daemon     DaemonCmd     `cmd:"" help:"Run every stage on its cron schedule and serve metrics"`
	Credential CredentialCmd `cmd:"" help:"Store or remove the account password in the system keyring"`
}

func (c *CLI) options() app.Options {
	return app.Options{
		ConfigPath: c.Config,
		DryRun:     c.DryRun,
		TestMode:   c.TestMode,
		LogLevel:   c.LogLevel,
	}
}

// Runtime builds the App on first use and releases it when the command
// returns.
type Runtime struct {
	ctx     context.Context
	cli     *CLI
	command string
	out     io.Writer

	app      *app.App
	log      *zap.Logger
	closeLog func()
}

// App loads the configuration, sets up logging and returns the App.
func (r *Runtime) App() (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}

	cfg, err := app.LoadConfig(r.cli.options())
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	r.log = logging.WithRun(log, r.command)
	r.closeLog = closeLog

	deps := app.Deps{}
	if creds, err := credential.Open(); err != nil {
		r.log.Debug("keyring unavailable", zap.Error(err))
	} else {
		deps.Credentials = creds
	}

	r.log.Debug("configuration loaded",
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("transport", cfg.Transport.Provider),
		zap.Bool("test_mode", cfg.TestMode.Enabled),
		zap.Bool("dry_run", r.cli.DryRun))

	r.app = app.New(cfg, r.log, deps, r.cli.DryRun, r.out)
	return r.app, nil
}

// Close releases the App and flushes the logger. It is safe to call
// more than once.
func (r *Runtime) Close() {
	if r.app != nil {
		if err := r.app.Close(); err != nil {
			r.log.Warn("closing ledger", zap.Error(err))
		}
		r.app = nil
	}
	if r.closeLog != nil {
		r.closeLog()
		r.closeLog = nil
	}
}

func (r *Runtime) with(fn func(*app.App) error) error {
	a, err := r.App()
	if err != nil {
		return err
	}
	return fn(a)
}

type SendCmd struct{}

func (c *SendCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.Send(rt.ctx) })
}

type FollowupCmd struct{}

func (c *FollowupCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.Followup(rt.ctx) })
}

type BouncesCmd struct{}

func (c *BouncesCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.ScanBounces(rt.ctx) })
}

type RepliesCmd struct{}

func (c *RepliesCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.ScanReplies(rt.ctx) })
}

type StatsCmd struct{}

func (c *StatsCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.Stats(rt.ctx) })
}

type DaemonCmd struct{}

func (c *DaemonCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.Daemon(rt.ctx) })
}

type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Snapshot the contacts and ledgers"`
	List    BackupListCmd    `cmd:"" help:"List backups, newest first"`
	Restore BackupRestoreCmd `cmd:"" help:"Replace the live files with a backup"`
}

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.BackupCreate() })
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.BackupList() })
}

type BackupRestoreCmd struct {
	Name string `arg:"" help:"Backup name as shown by 'backup list'"`
}

func (c *BackupRestoreCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.BackupRestore(c.Name) })
}

type ConfigCmd struct {
	Show ConfigShowCmd `cmd:"" help:"Print the effective configuration with secrets masked"`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run(rt *Runtime) error {
	return rt.with(func(a *app.App) error { return a.ConfigShow() })
}

type CredentialCmd struct {
	Set    CredentialSetCmd    `cmd:"" help:"Store the account password (read from --password or stdin)"`
	Delete CredentialDeleteCmd `cmd:"" help:"Remove the stored account password"`
}

type CredentialSetCmd struct {
	Account  string `help:"Account address (default: account.address from the configuration)"`
	Password string `help:"Password to store; read from stdin when empty"`
}

func (c *CredentialSetCmd) Run(rt *Runtime) error {
	account, err := rt.account(c.Account)
	if err != nil {
		return err
	}

	password := c.Password
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		if password, err = readLine(os.Stdin); err != nil {
			return err
		}
	}
	if password == "" {
		return &model.ConfigError{Field: "password", Message: "must not be empty"}
	}

	creds, err := credential.Open()
	if err != nil {
		return err
	}
	if err := creds.SetPassword(account, password); err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "stored password for %s\n", account)
	return nil
}

type CredentialDeleteCmd struct {
	Account string `help:"Account address (default: account.address from the configuration)"`
}

func (c *CredentialDeleteCmd) Run(rt *Runtime) error {
	account, err := rt.account(c.Account)
	if err != nil {
		return err
	}

	creds, err := credential.Open()
	if err != nil {
		return err
	}
	err = creds.DeletePassword(account)
	if errors.Is(err, credential.ErrNotFound) {
		fmt.Fprintf(rt.out, "no stored password for %s\n", account)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.out, "removed password for %s\n", account)
	return nil
}

// account returns flag, or the configured address when flag is empty.
func (r *Runtime) account(flag string) (string, error) {
	if acct := strings.TrimSpace(flag); acct != "" {
		return acct, nil
	}
	a, err := r.App()
	if err != nil {
		return "", err
	}
	acct := strings.TrimSpace(a.Config().Account.Address)
	if acct == "" {
		return "", &model.ConfigError{Field: "account.address", Message: "is required (set EMAIL_ADDRESS or pass --account)"}
	}
	return acct, nil
}

func readLine(in io.Reader) (string, error) {
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return "", nil
	}
	return strings.TrimRight(sc.Text(), "\r\n"), nil
}
