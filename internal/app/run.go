package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/campaign"
	"github.com/nhle/outreach/internal/classify"
	"github.com/nhle/outreach/internal/compose"
	"github.com/nhle/outreach/internal/contacts"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
	"github.com/nhle/outreach/internal/stats"
	"github.com/nhle/outreach/internal/transport"
)

// githubEventEnv names the variable GitHub Actions sets to the event that
// triggered a workflow.
const githubEventEnv = "GITHUB_EVENT_NAME"

// ShouldRun reports whether a stage may run. Scheduled workflow runs
// honor the stage's automation flag; manual and local runs always go
// ahead.
func ShouldRun(enabled bool) bool {
	if os.Getenv(githubEventEnv) == "schedule" {
		return enabled
	}
	return true
}

// Send runs the initial outreach stage.
func (a *App) Send(ctx context.Context) error {
	return a.runStage(ctx, campaign.StageInitial, a.cfg.Automation.Outreach, a.send)
}

// Followup runs the follow-up stage, refreshing replies first when
// configured to.
func (a *App) Followup(ctx context.Context) error {
	return a.runStage(ctx, campaign.StageFollowup, a.cfg.Automation.Followup, a.followup)
}

// ScanBounces classifies delivery failures in the bounce folders.
func (a *App) ScanBounces(ctx context.Context) error {
	return a.runStage(ctx, "bounces", a.cfg.Automation.BounceCheck, a.scanBounces)
}

// ScanReplies classifies replies in the reply folder.
func (a *App) ScanReplies(ctx context.Context) error {
	return a.runStage(ctx, "replies", a.cfg.Automation.ReplyCheck, a.scanReplies)
}

func (a *App) runStage(ctx context.Context, name string, enabled bool, fn func(context.Context) error) error {
	if !ShouldRun(enabled) {
		a.log.Info("automation disabled for scheduled runs, skipping", zap.String("stage", name))
		a.deps.Metrics.IncRunOutcome(name, "skipped")
		return nil
	}

	if err := fn(ctx); err != nil {
		a.deps.Metrics.IncRunOutcome(name, "failed")
		return err
	}
	a.deps.Metrics.IncRunOutcome(name, "success")
	return nil
}

func (a *App) send(ctx context.Context) error {
	if !a.dryRun {
		if err := a.cfg.RequireSender(); err != nil {
			return err
		}
	}

	recipients, err := contacts.Load(a.cfg.Files.Contacts, a.log)
	if err != nil {
		return err
	}
	composer, err := compose.NewInitial(a.cfg.Templates.Initial, a.deps.Picker)
	if err != nil {
		return err
	}

	opts := []campaign.Option{}
	if a.cfg.Files.Attachment != "" {
		att, err := transport.LoadAttachment(a.cfg.Files.Attachment)
		if err != nil {
			return err
		}
		opts = append(opts, campaign.WithAttachment(att))
	}

	sched, err := a.scheduler(ctx, opts...)
	if err != nil {
		return err
	}

	a.backupBeforeRun()

	stage := campaign.NewStage(campaign.StageInitial, a.cfg.Campaign.Initial)
	report, err := sched.RunInitialCampaign(ctx, stage, recipients, composer)
	a.printReport(report)
	return err
}

func (a *App) followup(ctx context.Context) error {
	if !a.dryRun {
		if err := a.cfg.RequireSender(); err != nil {
			return err
		}
	}

	recipients, err := contacts.Load(a.cfg.Files.Contacts, a.log)
	if err != nil {
		return err
	}
	composer, err := compose.NewFollowup(a.cfg.Templates.Followup, a.deps.Picker)
	if err != nil {
		return err
	}

	if a.cfg.Classify.RefreshBeforeFollowup {
		if err := a.scanReplies(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			a.log.Warn("reply refresh failed, continuing with the recorded replies", zap.Error(err))
		}
	}

	sched, err := a.scheduler(ctx)
	if err != nil {
		return err
	}

	a.backupBeforeRun()

	stage := campaign.NewStage(campaign.StageFollowup, a.cfg.Campaign.Followup)
	report, err := sched.RunFollowupCampaign(ctx, stage, recipients, composer)
	a.printReport(report)
	return err
}

func (a *App) scheduler(ctx context.Context, extra ...campaign.Option) (*campaign.Scheduler, error) {
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return nil, err
	}

	var tr transport.Transport
	if !a.dryRun {
		if tr, err = a.transport(ctx); err != nil {
			return nil, err
		}
	}

	opts := []campaign.Option{
		campaign.WithPolicy(retry.NewPolicy(a.cfg.Retry)),
		campaign.WithSender(a.cfg.Account.Address),
		campaign.WithMetrics(a.deps.Metrics),
		campaign.WithClock(a.deps.Now),
		campaign.WithDryRun(a.dryRun),
	}
	if a.deps.Sleeper != nil {
		opts = append(opts, campaign.WithSleeper(a.deps.Sleeper))
	}
	if a.deps.Jitter != nil {
		opts = append(opts, campaign.WithJitter(a.deps.Jitter))
	}
	opts = append(opts, extra...)

	return campaign.New(ledger, tr, a.log, opts...), nil
}

func (a *App) classifier(ctx context.Context) (*classify.Classifier, error) {
	if err := a.cfg.RequireCredentials(); err != nil && a.deps.Dialer == nil {
		return nil, err
	}
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	return classify.New(ledger, a.log,
		classify.WithMetrics(a.deps.Metrics),
		classify.WithClock(a.deps.Now),
		classify.WithDryRun(a.dryRun),
	), nil
}

func (a *App) scanBounces(ctx context.Context) error {
	c, err := a.classifier(ctx)
	if err != nil {
		return err
	}

	start := a.deps.Now()
	found, err := c.ScanBounces(ctx, a.dialer(), a.cfg.Classify.BounceFolders, a.cfg.Classify.DaysBack)
	a.deps.Metrics.ObserveRunDuration("bounces", a.deps.Now().Sub(start))
	if err != nil {
		return fmt.Errorf("scanning bounces: %w", err)
	}

	counts := make(map[model.BounceKind]int)
	for _, b := range found {
		counts[b.BounceKind]++
	}
	a.log.Info("bounce scan finished",
		zap.Int("new", len(found)),
		zap.Int("hard", counts[model.BounceHard]),
		zap.Int("soft", counts[model.BounceSoft]),
		zap.Int("unknown", counts[model.BounceUnknown]),
		zap.Bool("dry_run", a.dryRun))
	fmt.Fprintf(a.out, "%d new bounce(s) (hard %d, soft %d, unknown %d)\n",
		len(found), counts[model.BounceHard], counts[model.BounceSoft], counts[model.BounceUnknown])
	return nil
}

func (a *App) scanReplies(ctx context.Context) error {
	c, err := a.classifier(ctx)
	if err != nil {
		return err
	}

	start := a.deps.Now()
	found, err := c.ScanReplies(ctx, a.dialer(), a.cfg.Classify.ReplyFolder, a.cfg.Classify.DaysBack)
	a.deps.Metrics.ObserveRunDuration("replies", a.deps.Now().Sub(start))
	if err != nil {
		return fmt.Errorf("scanning replies: %w", err)
	}

	a.log.Info("reply scan finished", zap.Int("new", len(found)), zap.Bool("dry_run", a.dryRun))
	fmt.Fprintf(a.out, "%d new reply(ies)\n", len(found))
	return nil
}

// Stats prints aggregate counts for the campaign.
func (a *App) Stats(ctx context.Context) error {
	ledger, err := a.Ledger(ctx)
	if err != nil {
		return err
	}
	recipients, err := contacts.Load(a.cfg.Files.Contacts, a.log)
	if err != nil {
		return err
	}

	s, err := stats.Compute(ctx, ledger, recipients)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, stats.Render(s))
	return nil
}

func (a *App) backupBeforeRun() {
	if a.dryRun || !a.cfg.Backup.BeforeRun || !a.backups.Enabled() {
		return
	}
	if _, err := a.backups.Create(); err != nil {
		a.log.Warn("pre-run backup failed", zap.Error(err))
	}
}

func (a *App) printReport(r *campaign.Report) {
	if r == nil {
		return
	}
	verb := "sent"
	if r.DryRun {
		verb = "would send"
	}
	fmt.Fprintf(a.out, "%s: %s %d of %d pending, %d failed, %d remaining\n",
		r.Stage, verb, len(r.Sent), r.Pending, len(r.Failed), r.Remaining())
}

