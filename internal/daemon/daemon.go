// Package daemon runs the campaign stages on cron schedules inside one
// long-lived process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/campaign"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/store"
)

// Job is one scheduled stage. An empty Cron disables it.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Daemon owns a gocron scheduler. Jobs never overlap: each job runs in
// singleton mode and all of them share one lock, since every stage
// reads and writes the same ledgers.
//
// A job error that leaves the ledgers inconsistent halts the daemon: no
// further job starts and Run returns that error.
type Daemon struct {
	scheduler gocron.Scheduler
	log       *zap.Logger
	metrics   metrics.Recorder

	mu     sync.Mutex
	ctx    context.Context
	halted error
	fatal  chan error
}

// New creates a daemon with an empty schedule.
func New(log *zap.Logger, rec metrics.Recorder) (*Daemon, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Daemon{
		scheduler: s,
		log:       log,
		metrics:   rec,
		ctx:       context.Background(),
		fatal:     make(chan error, 1),
	}, nil
}

// Add schedules job. It reports false when the job has no schedule.
func (d *Daemon) Add(job Job) (bool, error) {
	if job.Cron == "" {
		return false, nil
	}

	_, err := d.scheduler.NewJob(
		gocron.CronJob(job.Cron, false),
		gocron.NewTask(d.execute, job),
		gocron.WithName(job.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return false, fmt.Errorf("scheduling %s (%q): %w", job.Name, job.Cron, err)
	}

	d.log.Info("job scheduled", zap.String("job", job.Name), zap.String("cron", job.Cron))
	return true, nil
}

// Jobs returns the number of scheduled jobs.
func (d *Daemon) Jobs() int {
	return len(d.scheduler.Jobs())
}

func (d *Daemon) execute(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil || d.halted != nil {
		return
	}

	start := time.Now()
	log := d.log.With(zap.String("job", job.Name))
	log.Info("job started")

	err := job.Run(d.ctx)
	d.metrics.ObserveRunDuration(job.Name, time.Since(start))
	if err != nil {
		d.metrics.IncRunOutcome(job.Name, "failed")
		if halts(err) {
			d.halted = fmt.Errorf("%s: %w", job.Name, err)
			log.Error("ledgers may be inconsistent, halting daemon", zap.Error(err))
			d.fatal <- d.halted
			return
		}
		log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	d.metrics.IncRunOutcome(job.Name, "success")
	log.Info("job finished", zap.Duration("took", time.Since(start)))
}

// halts reports whether err means the ledgers can no longer be trusted.
func halts(err error) bool {
	return campaign.IsInconsistency(err) || store.IsWriteError(err)
}

// Close releases a daemon that will not be run.
func (d *Daemon) Close() error {
	return d.scheduler.Shutdown()
}

// Run starts the scheduler and, when listen is set, an HTTP server for
// handler on /metrics. It blocks until ctx is done or a job halts the
// daemon, and waits for a running job to finish.
func (d *Daemon) Run(ctx context.Context, listen string, handler http.Handler) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	var srv *http.Server
	errc := make(chan error, 1)
	if listen != "" && handler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv = &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			d.log.Info("metrics server listening", zap.String("addr", listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	d.scheduler.Start()
	d.log.Info("daemon started", zap.Int("jobs", d.Jobs()))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	case runErr = <-d.fatal:
	}

	d.log.Info("daemon stopping")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := d.scheduler.Shutdown(); err != nil && runErr == nil {
		runErr = fmt.Errorf("stopping scheduler: %w", err)
	}
	return runErr
}
