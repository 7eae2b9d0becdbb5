package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearCredentials unsets the account variables for the test and
// restores them afterwards.
func clearCredentials(t *testing.T) {
	t.Helper()
	for _, name := range []string{"EMAIL_ADDRESS", "EMAIL_PASSWORD"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearCredentials(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.Campaign.Initial.Limit)
	assert.Equal(t, 60*time.Second, cfg.Campaign.Initial.MinDelay)
	assert.Equal(t, 250*time.Second, cfg.Campaign.Initial.MaxDelay)
	assert.Equal(t, 40, cfg.Campaign.Followup.Limit)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.InitialDelay)
	assert.InDelta(t, 2.0, cfg.Retry.BackoffMultiplier, 1e-9)
	assert.Equal(t, 20, cfg.Classify.DaysBack)
	assert.Equal(t, []string{"[Gmail]/All Mail"}, cfg.Classify.BounceFolders)
	assert.Equal(t, "INBOX", cfg.Classify.ReplyFolder)
	assert.Equal(t, "csv", cfg.Ledger.Backend)
	assert.Equal(t, "smtp", cfg.Transport.Provider)
	assert.Equal(t, defaultInitialPool(), cfg.Templates.Initial)
	assert.Equal(t, defaultFollowupPool(), cfg.Templates.Followup)
	assert.Empty(t, cfg.Account.Address)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	clearCredentials(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
campaign:
  initial:
    limit: 7
    min_delay: 1s
    max_delay: 2s
ledger:
  backend: sqlite
classify:
  bounce_folders: ["Bounces", "Spam"]
templates:
  initial:
    subjects: ["Only subject"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, StageConfig{Limit: 7, MinDelay: time.Second, MaxDelay: 2 * time.Second}, cfg.Campaign.Initial)
	assert.Equal(t, 40, cfg.Campaign.Followup.Limit)
	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, []string{"Bounces", "Spam"}, cfg.Classify.BounceFolders)

	assert.Equal(t, []string{"Only subject"}, cfg.Templates.Initial.Subjects)
	assert.Equal(t, defaultInitialPool().Openings, cfg.Templates.Initial.Openings, "unset fragments fall back to defaults")
	assert.Equal(t, defaultFollowupPool(), cfg.Templates.Followup)
}

func TestLoadConfig_Environment(t *testing.T) {
	clearCredentials(t)
	t.Setenv("EMAIL_ADDRESS", "me@x.com")
	t.Setenv("EMAIL_PASSWORD", "pw")
	t.Setenv("OUTREACH_CAMPAIGN_INITIAL_LIMIT", "3")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "me@x.com", cfg.Account.Address)
	assert.Equal(t, "pw", cfg.Account.Password)
	assert.Equal(t, 3, cfg.Campaign.Initial.Limit)
	require.NoError(t, cfg.RequireCredentials())
}

func TestLoadConfig_DotEnv(t *testing.T) {
	clearCredentials(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EMAIL_ADDRESS=dot@x.com\nEMAIL_PASSWORD=dotpw\n"), 0o600))

	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "dot@x.com", cfg.Account.Address)
	assert.Equal(t, "dotpw", cfg.Account.Password)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	clearCredentials(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("campaign: [unclosed\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func validConfig(t *testing.T) *AppConfig {
	t.Helper()
	clearCredentials(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*AppConfig)
		field string
	}{
		{"negative limit", func(c *AppConfig) { c.Campaign.Initial.Limit = -1 }, "campaign.initial.limit"},
		{"inverted delays", func(c *AppConfig) { c.Campaign.Followup.MinDelay = time.Hour }, "campaign.followup"},
		{"zero attempts", func(c *AppConfig) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"negative window", func(c *AppConfig) { c.Classify.DaysBack = -1 }, "classify.days_back"},
		{"unknown backend", func(c *AppConfig) { c.Ledger.Backend = "mongo" }, "ledger.backend"},
		{"unknown provider", func(c *AppConfig) { c.Transport.Provider = "pigeon" }, "transport.provider"},
		{"ses without region", func(c *AppConfig) { c.Transport.Provider = "ses" }, "ses.region"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.edit(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidate_DisabledRetryIgnoresAttempts(t *testing.T) {
	cfg := validConfig(t)
	cfg.Retry.Enabled = false
	cfg.Retry.MaxAttempts = 0
	assert.NoError(t, cfg.Validate())
}

func TestRequireSender(t *testing.T) {
	cfg := validConfig(t)
	assert.True(t, IsConfigError(cfg.RequireSender()))

	cfg.Account.Address = "me@x.com"
	assert.True(t, IsConfigError(cfg.RequireSender()), "smtp needs a password")

	cfg.Transport.Provider = "ses"
	assert.NoError(t, cfg.RequireSender())
}

func TestApplyTestMode(t *testing.T) {
	cfg := validConfig(t)
	cfg.ApplyTestMode()

	assert.True(t, cfg.TestMode.Enabled)
	assert.Equal(t, "test_emails.csv", cfg.Files.Contacts)
	assert.Equal(t, "test_sent_log.csv", cfg.Files.LedgerPath(LedgerSent))
	assert.Equal(t, "test_followup_sent.csv", cfg.Files.LedgerPath(LedgerFollowedUp))
	assert.Equal(t, "test_replied.csv", cfg.Files.LedgerPath(LedgerReplied))
	assert.Equal(t, "test_bounced_emails.csv", cfg.Files.LedgerPath(LedgerBounced))
	assert.Equal(t, "outreach_test.db", cfg.Ledger.SQLitePath)
	assert.Equal(t, "outreach:test", cfg.Ledger.RedisPrefix)
	assert.Equal(t, StageConfig{Limit: 5, MinDelay: 5 * time.Second, MaxDelay: 10 * time.Second}, cfg.Campaign.Initial)
	assert.Equal(t, cfg.Campaign.Initial, cfg.Campaign.Followup)
}

func TestRedacted(t *testing.T) {
	cfg := validConfig(t)
	cfg.Account.Password = "pw"
	cfg.SES.SecretAccessKey = "key"

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Account.Password)
	assert.Equal(t, "********", red.SES.SecretAccessKey)
	assert.Empty(t, red.Ledger.RedisPassword, "empty secrets stay empty")
	assert.Equal(t, "pw", cfg.Account.Password, "original is untouched")
}
