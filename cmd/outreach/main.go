package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

var version = "dev"

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("outreach"),
		kong.Description("Send outreach email and reconcile bounces and replies against the campaign ledgers."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt := &Runtime{ctx: ctx, cli: &cli, command: kctx.Command(), out: os.Stdout}

	err := kctx.Run(rt)
	rt.Close()
	kctx.FatalIfErrorf(err)
}
