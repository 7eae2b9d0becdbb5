package app

import (
	"context"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/nhle/outreach/internal/daemon"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/model"
)

// Daemon runs every stage with a configured cron schedule until ctx is
// cancelled.
func (a *App) Daemon(ctx context.Context) error {
	var handler http.Handler
	if a.cfg.Daemon.MetricsListen != "" {
		reg := prom.NewRegistry()
		a.deps.Metrics = metrics.NewPrometheusRecorder(reg)
		handler = metrics.HTTPHandler(reg)
	}

	d, err := daemon.New(a.log, a.deps.Metrics)
	if err != nil {
		return err
	}

	jobs := []daemon.Job{
		{Name: "send", Cron: a.cfg.Daemon.SendCron, Run: a.Send},
		{Name: "followup", Cron: a.cfg.Daemon.FollowupCron, Run: a.Followup},
		{Name: "bounces", Cron: a.cfg.Daemon.BounceCron, Run: a.ScanBounces},
		{Name: "replies", Cron: a.cfg.Daemon.ReplyCron, Run: a.ScanReplies},
	}
	for _, job := range jobs {
		job.Run = a.fresh(job.Run)
		if _, err := d.Add(job); err != nil {
			_ = d.Close()
			return &model.ConfigError{Field: "daemon", Message: err.Error()}
		}
	}
	if d.Jobs() == 0 {
		_ = d.Close()
		return &model.ConfigError{Field: "daemon", Message: "no job has a cron schedule"}
	}

	return d.Run(ctx, a.cfg.Daemon.MetricsListen, handler)
}

// fresh makes run see ledger changes made outside this process since the
// previous job.
func (a *App) fresh(run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if inv, ok := a.ledger.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
		return run(ctx)
	}
}
