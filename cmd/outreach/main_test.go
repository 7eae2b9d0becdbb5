package main

import (
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, kctx
}

func TestCLI_Commands(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"send"}, "send"},
		{[]string{"followup"}, "followup"},
		{[]string{"bounces"}, "bounces"},
		{[]string{"replies"}, "replies"},
		{[]string{"stats"}, "stats"},
		{[]string{"backup", "create"}, "backup create"},
		{[]string{"backup", "list"}, "backup list"},
		{[]string{"backup", "restore", "backup_20250101_000000"}, "backup restore <name>"},
		{[]string{"config", "show"}, "config show"},
		{[]string{"daemon"}, "daemon"},
		{[]string{"credential", "delete"}, "credential delete"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, kctx := parse(t, tt.args...)
			assert.Equal(t, tt.want, kctx.Command())
		})
	}
}

func TestCLI_GlobalFlags(t *testing.T) {
	cli, _ := parse(t, "--dry-run", "--test-mode", "--log-level", "debug", "-c", "/tmp/outreach.yaml", "send")

	opts := cli.options()
	assert.True(t, opts.DryRun)
	assert.True(t, opts.TestMode)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.Equal(t, "/tmp/outreach.yaml", opts.ConfigPath)
}

func TestCLI_RestoreRequiresName(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)
	_, err = parser.Parse([]string{"backup", "restore"})
	assert.Error(t, err)
}

func TestReadLine(t *testing.T) {
	got, err := readLine(strings.NewReader("s3cret\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	got, err = readLine(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)
}
