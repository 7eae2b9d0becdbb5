package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AccountConfig holds the mailbox identity used for both sending and
// scanning.
type AccountConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
}

// IMAPConfig holds the inbound mailbox server settings.
type IMAPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`
}

// SMTPConfig holds the outbound relay settings.
type SMTPConfig struct {
	Host    string        `mapstructure:"host" yaml:"host"`
	Port    string        `mapstructure:"port" yaml:"port"`
	TLS     bool          `mapstructure:"tls" yaml:"tls"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TransportConfig selects the delivery backend.
type TransportConfig struct {
	// Provider is "smtp" or "ses".
	Provider string `mapstructure:"provider" yaml:"provider"`
}

// SESConfig holds AWS SES v2 settings for the ses provider.
type SESConfig struct {
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// StageConfig holds the per-run cap and jitter bounds of one campaign stage.
type StageConfig struct {
	Limit    int           `mapstructure:"limit" yaml:"limit"`
	MinDelay time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// CampaignConfig groups the two sending stages.
type CampaignConfig struct {
	Initial  StageConfig `mapstructure:"initial" yaml:"initial"`
	Followup StageConfig `mapstructure:"followup" yaml:"followup"`
}

// RetryConfig controls SendWithRetry.
type RetryConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// ClassifyConfig controls the mailbox scans.
type ClassifyConfig struct {
	DaysBack      int      `mapstructure:"days_back" yaml:"days_back"`
	BounceFolders []string `mapstructure:"bounce_folders" yaml:"bounce_folders"`
	ReplyFolder   string   `mapstructure:"reply_folder" yaml:"reply_folder"`

	// RefreshBeforeFollowup runs a reply scan before each follow-up run.
	RefreshBeforeFollowup bool `mapstructure:"refresh_before_followup" yaml:"refresh_before_followup"`
}

// FilesConfig holds the contact list, ledger and attachment paths.
type FilesConfig struct {
	Contacts     string `mapstructure:"contacts" yaml:"contacts"`
	SentLog      string `mapstructure:"sent_log" yaml:"sent_log"`
	FollowupSent string `mapstructure:"followup_sent" yaml:"followup_sent"`
	Replied      string `mapstructure:"replied" yaml:"replied"`
	Bounced      string `mapstructure:"bounced" yaml:"bounced"`
	Attachment   string `mapstructure:"attachment" yaml:"attachment"`
}

// LedgerPath returns the configured file for a ledger kind.
func (f FilesConfig) LedgerPath(kind LedgerKind) string {
	switch kind {
	case LedgerSent:
		return f.SentLog
	case LedgerReplied:
		return f.Replied
	case LedgerBounced:
		return f.Bounced
	case LedgerFollowedUp:
		return f.FollowupSent
	default:
		return ""
	}
}

// LedgerConfig selects the ledger storage backend.
type LedgerConfig struct {
	// Backend is "csv", "sqlite" or "redis".
	Backend       string `mapstructure:"backend" yaml:"backend"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

// TestModeConfig holds the isolated fixture paths swapped in by --test-mode.
type TestModeConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Contacts     string        `mapstructure:"contacts" yaml:"contacts"`
	SentLog      string        `mapstructure:"sent_log" yaml:"sent_log"`
	FollowupSent string        `mapstructure:"followup_sent" yaml:"followup_sent"`
	Replied      string        `mapstructure:"replied" yaml:"replied"`
	Bounced      string        `mapstructure:"bounced" yaml:"bounced"`
	SQLitePath   string        `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	Limit        int           `mapstructure:"limit" yaml:"limit"`
	MinDelay     time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// BackupConfig controls ledger snapshots.
type BackupConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	BeforeRun bool   `mapstructure:"before_run" yaml:"before_run"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	KeepLast  int    `mapstructure:"keep_last" yaml:"keep_last"`
}

// AutomationConfig decides which stages may run from a scheduled CI event.
type AutomationConfig struct {
	Outreach    bool `mapstructure:"outreach" yaml:"outreach"`
	Followup    bool `mapstructure:"followup" yaml:"followup"`
	BounceCheck bool `mapstructure:"bounce_check" yaml:"bounce_check"`
	ReplyCheck  bool `mapstructure:"reply_check" yaml:"reply_check"`
}

// LoggingConfig holds log output preferences.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// TemplatePool holds the interchangeable fragments a message is built from.
type TemplatePool struct {
	Subjects   []string `mapstructure:"subjects" yaml:"subjects"`
	Openings   []string `mapstructure:"openings" yaml:"openings"`
	Bodies     []string `mapstructure:"bodies" yaml:"bodies"`
	Signatures []string `mapstructure:"signatures" yaml:"signatures"`
	Links      string   `mapstructure:"links" yaml:"links"`
}

// TemplatesConfig holds one pool per stage.
type TemplatesConfig struct {
	Initial  TemplatePool `mapstructure:"initial" yaml:"initial"`
	Followup TemplatePool `mapstructure:"followup" yaml:"followup"`
}

// DaemonConfig holds cron expressions for the long-running scheduler.
// An empty expression disables that stage.
type DaemonConfig struct {
	SendCron      string `mapstructure:"send_cron" yaml:"send_cron"`
	FollowupCron  string `mapstructure:"followup_cron" yaml:"followup_cron"`
	BounceCron    string `mapstructure:"bounce_cron" yaml:"bounce_cron"`
	ReplyCron     string `mapstructure:"reply_cron" yaml:"reply_cron"`
	MetricsListen string `mapstructure:"metrics_listen" yaml:"metrics_listen"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Account    AccountConfig    `mapstructure:"account" yaml:"account"`
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	SMTP       SMTPConfig       `mapstructure:"smtp" yaml:"smtp"`
	Transport  TransportConfig  `mapstructure:"transport" yaml:"transport"`
	SES        SESConfig        `mapstructure:"ses" yaml:"ses"`
	Campaign   CampaignConfig   `mapstructure:"campaign" yaml:"campaign"`
	Retry      RetryConfig      `mapstructure:"retry" yaml:"retry"`
	Classify   ClassifyConfig   `mapstructure:"classify" yaml:"classify"`
	Files      FilesConfig      `mapstructure:"files" yaml:"files"`
	Ledger     LedgerConfig     `mapstructure:"ledger" yaml:"ledger"`
	TestMode   TestModeConfig   `mapstructure:"test_mode" yaml:"test_mode"`
	Backup     BackupConfig     `mapstructure:"backup" yaml:"backup"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Templates  TemplatesConfig  `mapstructure:"templates" yaml:"templates"`
	Daemon     DaemonConfig     `mapstructure:"daemon" yaml:"daemon"`
}

// ConfigError reports a configuration problem that must abort a run
// before any message is sent or any mailbox is opened.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err (or any error in its chain) is a
// ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// DefaultConfigPath returns config.yaml in the working directory.
func DefaultConfigPath() string {
	return "config.yaml"
}

// setDefaults registers every known key so that environment overrides
// resolve even when the YAML file omits them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("account.address", "")
	v.SetDefault("account.password", "")

	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.tls", true)

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.tls", false)
	v.SetDefault("smtp.timeout", "60s")

	v.SetDefault("transport.provider", "smtp")
	v.SetDefault("ses.region", "")
	v.SetDefault("ses.access_key_id", "")
	v.SetDefault("ses.secret_access_key", "")

	v.SetDefault("campaign.initial.limit", 100)
	v.SetDefault("campaign.initial.min_delay", "60s")
	v.SetDefault("campaign.initial.max_delay", "250s")
	v.SetDefault("campaign.followup.limit", 40)
	v.SetDefault("campaign.followup.min_delay", "40s")
	v.SetDefault("campaign.followup.max_delay", "60s")

	v.SetDefault("retry.enabled", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "5s")
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_delay", "5m")

	v.SetDefault("classify.days_back", 20)
	v.SetDefault("classify.bounce_folders", []string{"[Gmail]/All Mail"})
	v.SetDefault("classify.reply_folder", "INBOX")
	v.SetDefault("classify.refresh_before_followup", false)

	v.SetDefault("files.contacts", "emails.csv")
	v.SetDefault("files.sent_log", "sent_log.csv")
	v.SetDefault("files.followup_sent", "followup_sent.csv")
	v.SetDefault("files.replied", "replied.csv")
	v.SetDefault("files.bounced", "bounced_emails.csv")
	v.SetDefault("files.attachment", "")

	v.SetDefault("ledger.backend", "csv")
	v.SetDefault("ledger.sqlite_path", "outreach.db")
	v.SetDefault("ledger.redis_addr", "localhost:6379")
	v.SetDefault("ledger.redis_password", "")
	v.SetDefault("ledger.redis_db", 0)
	v.SetDefault("ledger.redis_prefix", "outreach")

	v.SetDefault("test_mode.enabled", false)
	v.SetDefault("test_mode.contacts", "test_emails.csv")
	v.SetDefault("test_mode.sent_log", "test_sent_log.csv")
	v.SetDefault("test_mode.followup_sent", "test_followup_sent.csv")
	v.SetDefault("test_mode.replied", "test_replied.csv")
	v.SetDefault("test_mode.bounced", "test_bounced_emails.csv")
	v.SetDefault("test_mode.sqlite_path", "outreach_test.db")
	v.SetDefault("test_mode.limit", 5)
	v.SetDefault("test_mode.min_delay", "5s")
	v.SetDefault("test_mode.max_delay", "10s")

	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.before_run", true)
	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.keep_last", 10)

	v.SetDefault("automation.outreach", true)
	v.SetDefault("automation.followup", false)
	v.SetDefault("automation.bounce_check", false)
	v.SetDefault("automation.reply_check", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")

	v.SetDefault("daemon.send_cron", "")
	v.SetDefault("daemon.followup_cron", "")
	v.SetDefault("daemon.bounce_cron", "")
	v.SetDefault("daemon.reply_cron", "")
	v.SetDefault("daemon.metrics_listen", "")
}

// fillPool replaces every empty fragment list in p with the default one.
func fillPool(p *TemplatePool, def TemplatePool) {
	if len(p.Subjects) == 0 {
		p.Subjects = def.Subjects
	}
	if len(p.Openings) == 0 {
		p.Openings = def.Openings
	}
	if len(p.Bodies) == 0 {
		p.Bodies = def.Bodies
	}
	if len(p.Signatures) == 0 {
		p.Signatures = def.Signatures
	}
	if p.Links == "" {
		p.Links = def.Links
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper. A .env file in the same directory is loaded into the process
// environment first. A missing config file yields the defaults.
func LoadConfig(path string) (*AppConfig, error) {
	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", envFile, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	// The credentials keep their historical variable names.
	_ = v.BindEnv("account.address", "EMAIL_ADDRESS", "OUTREACH_ACCOUNT_ADDRESS")
	_ = v.BindEnv("account.password", "EMAIL_PASSWORD", "OUTREACH_ACCOUNT_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	fillPool(&cfg.Templates.Initial, defaultInitialPool())
	fillPool(&cfg.Templates.Followup, defaultFollowupPool())

	return cfg, nil
}

// ApplyTestMode swaps every contact/ledger path and the initial stage
// limits for the isolated test fixtures.
func (c *AppConfig) ApplyTestMode() {
	t := c.TestMode
	c.Files.Contacts = t.Contacts
	c.Files.SentLog = t.SentLog
	c.Files.FollowupSent = t.FollowupSent
	c.Files.Replied = t.Replied
	c.Files.Bounced = t.Bounced
	c.Ledger.SQLitePath = t.SQLitePath
	c.Ledger.RedisPrefix = c.Ledger.RedisPrefix + ":test"

	stage := StageConfig{Limit: t.Limit, MinDelay: t.MinDelay, MaxDelay: t.MaxDelay}
	c.Campaign.Initial = stage
	c.Campaign.Followup = stage
	c.TestMode.Enabled = true
}

// Validate checks the settings every command depends on.
func (c *AppConfig) Validate() error {
	for name, st := range map[string]StageConfig{
		"campaign.initial":  c.Campaign.Initial,
		"campaign.followup": c.Campaign.Followup,
	} {
		if st.Limit < 0 {
			return &ConfigError{Field: name + ".limit", Message: "must not be negative"}
		}
		if st.MinDelay < 0 || st.MaxDelay < st.MinDelay {
			return &ConfigError{Field: name, Message: "delay bounds must satisfy 0 <= min_delay <= max_delay"}
		}
	}

	if c.Retry.Enabled && c.Retry.MaxAttempts < 1 {
		return &ConfigError{Field: "retry.max_attempts", Message: "must be at least 1"}
	}
	if c.Classify.DaysBack < 0 {
		return &ConfigError{Field: "classify.days_back", Message: "must not be negative"}
	}

	switch c.Ledger.Backend {
	case "csv", "sqlite", "redis":
	default:
		return &ConfigError{Field: "ledger.backend", Message: fmt.Sprintf("unknown backend %q", c.Ledger.Backend)}
	}

	switch c.Transport.Provider {
	case "smtp":
	case "ses":
		if c.SES.Region == "" {
			return &ConfigError{Field: "ses.region", Message: "required for the ses provider"}
		}
	default:
		return &ConfigError{Field: "transport.provider", Message: fmt.Sprintf("unknown provider %q", c.Transport.Provider)}
	}

	return nil
}

// RequireCredentials fails unless both the account address and password
// are known.
func (c *AppConfig) RequireCredentials() error {
	if strings.TrimSpace(c.Account.Address) == "" {
		return &ConfigError{Field: "account.address", Message: "EMAIL_ADDRESS must be set"}
	}
	if c.Account.Password == "" {
		return &ConfigError{Field: "account.password", Message: "EMAIL_PASSWORD must be set"}
	}
	return nil
}

// RequireSender fails unless the configured transport can send. SES
// authenticates with AWS credentials, so only the address is needed.
func (c *AppConfig) RequireSender() error {
	if c.Transport.Provider == "ses" {
		if strings.TrimSpace(c.Account.Address) == "" {
			return &ConfigError{Field: "account.address", Message: "EMAIL_ADDRESS must be set"}
		}
		return nil
	}
	return c.RequireCredentials()
}

// Redacted returns a copy with every secret masked.
func (c AppConfig) Redacted() AppConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Account.Password = mask(c.Account.Password)
	c.SES.SecretAccessKey = mask(c.SES.SecretAccessKey)
	c.Ledger.RedisPassword = mask(c.Ledger.RedisPassword)
	return c
}
