// Package campaign selects pending recipients from the ledgers and sends
// to them one at a time with retry and jitter.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/compose"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/transport"
)

// Stage names.
const (
	StageInitial  = "initial"
	StageFollowup = "followup"
)

// Stage is the per-run cap and pacing of one campaign stage.
type Stage struct {
	Name     string
	Limit    int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// NewStage builds a stage from its configuration.
func NewStage(name string, cfg model.StageConfig) Stage {
	return Stage{Name: name, Limit: cfg.Limit, MinDelay: cfg.MinDelay, MaxDelay: cfg.MaxDelay}
}

// Jitter chooses the pause between two sends.
type Jitter interface {
	Delay(min, max time.Duration) time.Duration
}

// RandomJitter draws uniformly from [min, max].
type RandomJitter struct{}

func (RandomJitter) Delay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// Composer renders the message for a recipient.
type Composer interface {
	Compose(r model.Recipient) (compose.Content, error)
}

// InconsistencyError means a message was accepted by the transport but
// the ledger write that records it failed. A run stops at the first
// one.
type InconsistencyError struct {
	Stage string
	Email string
	Err   error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s message to %s was sent but not recorded: %v", e.Stage, e.Email, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// IsInconsistency reports whether err (or any error in its chain) is an
// InconsistencyError.
func IsInconsistency(err error) bool {
	var ie *InconsistencyError
	return errors.As(err, &ie)
}

// Report summarizes one run.
type Report struct {
	Stage     string
	Pending   int
	Attempted int
	Sent      []string
	Failed    []string
	DryRun    bool
}

// Remaining is the number of pending recipients left for a later run.
func (r *Report) Remaining() int {
	return r.Pending - len(r.Sent)
}

// Scheduler drives the send loop for both campaign stages.
type Scheduler struct {
	ledger     store.Ledger
	transport  transport.Transport
	log        *zap.Logger
	policy     retry.Policy
	sleeper    retry.Sleeper
	jitter     Jitter
	metrics    metrics.Recorder
	now        func() time.Time
	from       string
	attachment *transport.Attachment
	dryRun     bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPolicy sets the retry policy for each send.
func WithPolicy(p retry.Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithSleeper replaces the wall-clock sleeper used for backoff and jitter.
func WithSleeper(sl retry.Sleeper) Option {
	return func(s *Scheduler) { s.sleeper = sl }
}

// WithJitter replaces the random inter-send delay.
func WithJitter(j Jitter) Option {
	return func(s *Scheduler) { s.jitter = j }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.metrics = r }
}

// WithClock overrides the time source for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSender sets the From address of outgoing messages.
func WithSender(from string) Option {
	return func(s *Scheduler) { s.from = from }
}

// WithAttachment attaches a to every initial message.
func WithAttachment(a *transport.Attachment) Option {
	return func(s *Scheduler) { s.attachment = a }
}

// WithDryRun selects recipients and renders messages but neither sends
// nor records them.
func WithDryRun(dryRun bool) Option {
	return func(s *Scheduler) { s.dryRun = dryRun }
}

// New returns a Scheduler sending through tr and recording to ledger.
func New(ledger store.Ledger, tr transport.Transport, log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger:    ledger,
		transport: tr,
		log:       log,
		policy:    retry.DefaultPolicy(),
		sleeper:   retry.ClockSleeper{},
		jitter:    RandomJitter{},
		metrics:   metrics.NoopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PendingInitial returns the contacts not yet in sent, in contact order.
func PendingInitial(contacts []model.Recipient, sent model.AddressSet) []model.Recipient {
	var out []model.Recipient
	for _, c := range contacts {
		if !sent.Has(c.Email) {
			out = append(out, c)
		}
	}
	return out
}

// PendingFollowup returns the sent recipients not in excluded, in the
// order they were first contacted. First names come from contacts when
// the address is still listed there.
func PendingFollowup(sent []model.Record, contacts []model.Recipient, excluded model.AddressSet) []model.Recipient {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		names[model.NormalizeEmail(c.Email)] = c.FirstName
	}

	var out []model.Recipient
	for _, rec := range sent {
		addr := model.NormalizeEmail(rec.Address())
		if excluded.Has(addr) {
			continue
		}
		out = append(out, model.Recipient{Email: addr, FirstName: names[addr]})
	}
	return out
}

// RunInitialCampaign sends first-contact messages to contacts that are
// not yet in the sent ledger.
func (s *Scheduler) RunInitialCampaign(ctx context.Context, stage Stage, contacts []model.Recipient, c Composer) (*Report, error) {
	sent, err := s.ledger.Addresses(ctx, model.LedgerSent)
	if err != nil {
		return nil, fmt.Errorf("loading sent ledger: %w", err)
	}

	pending := PendingInitial(contacts, sent)
	return s.run(ctx, stage, pending, c, model.LedgerSent)
}

// RunFollowupCampaign sends follow-ups to sent recipients that have not
// replied, bounced or already been followed up.
func (s *Scheduler) RunFollowupCampaign(ctx context.Context, stage Stage, contacts []model.Recipient, c Composer) (*Report, error) {
	sent, err := s.ledger.Records(ctx, model.LedgerSent)
	if err != nil {
		return nil, fmt.Errorf("loading sent ledger: %w", err)
	}

	excluded := model.NewAddressSet()
	for _, kind := range []model.LedgerKind{model.LedgerReplied, model.LedgerBounced, model.LedgerFollowedUp} {
		set, err := s.ledger.Addresses(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("loading %s ledger: %w", kind, err)
		}
		excluded = excluded.Union(set)
	}

	pending := PendingFollowup(sent, contacts, excluded)
	return s.run(ctx, stage, pending, c, model.LedgerFollowedUp)
}

func (s *Scheduler) run(
	ctx context.Context,
	stage Stage,
	pending []model.Recipient,
	c Composer,
	ledger model.LedgerKind,
) (*Report, error) {
	start := s.now()
	report := &Report{Stage: stage.Name, Pending: len(pending), DryRun: s.dryRun}
	log := s.log.With(zap.String("stage", stage.Name), zap.Bool("dry_run", s.dryRun))

	s.metrics.SetPending(stage.Name, len(pending))
	log.Info("starting campaign", zap.Int("pending", len(pending)), zap.Int("limit", stage.Limit))

	defer func() {
		s.metrics.ObserveRunDuration(stage.Name, s.now().Sub(start))
	}()

	for i, r := range pending {
		if report.Attempted >= stage.Limit {
			log.Info("limit reached", zap.Int("limit", stage.Limit))
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		content, err := c.Compose(r)
		if err != nil {
			log.Error("composing message", zap.String("email", r.Email), zap.Error(err))
			report.Failed = append(report.Failed, r.Email)
			continue
		}

		msg := &transport.Message{
			From:    s.from,
			To:      r.Email,
			Subject: content.Subject,
			Body:    content.Body,
		}
		if ledger == model.LedgerSent {
			msg.Attachment = s.attachment
		}

		report.Attempted++

		if s.dryRun {
			log.Info("would send", zap.String("email", r.Email), zap.String("subject", msg.Subject))
			s.metrics.IncSend(stage.Name, metrics.ResultDryRun)
			report.Sent = append(report.Sent, r.Email)
			continue
		}

		sendStart := s.now()
		err = s.SendWithRetry(ctx, stage.Name, msg)
		s.metrics.ObserveSendDuration(stage.Name, s.now().Sub(sendStart))

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			log.Error("send failed", zap.String("email", r.Email), zap.Error(err))
			s.metrics.IncSend(stage.Name, metrics.ResultFailed)
			report.Failed = append(report.Failed, r.Email)
		} else {
			if err := s.record(ctx, ledger, r.Email); err != nil {
				log.Error("sent message could not be recorded", zap.String("email", r.Email), zap.Error(err))
				s.metrics.IncSend(stage.Name, metrics.ResultFailed)
				return report, &InconsistencyError{Stage: stage.Name, Email: r.Email, Err: err}
			}
			log.Info("sent", zap.String("email", r.Email), zap.Int("count", len(report.Sent)+1))
			s.metrics.IncSend(stage.Name, metrics.ResultSuccess)
			report.Sent = append(report.Sent, r.Email)
		}

		if i == len(pending)-1 || report.Attempted >= stage.Limit {
			continue
		}
		delay := s.jitter.Delay(stage.MinDelay, stage.MaxDelay)
		log.Debug("pausing", zap.Duration("delay", delay))
		if err := s.sleeper.Sleep(ctx, delay); err != nil {
			return report, err
		}
	}

	log.Info("campaign finished",
		zap.Int("sent", len(report.Sent)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("remaining", report.Remaining()))
	return report, nil
}

// SendWithRetry sends msg, retrying transient failures per the policy.
func (s *Scheduler) SendWithRetry(ctx context.Context, stage string, msg *transport.Message) error {
	attempts, err := retry.Do(ctx, s.policy, s.sleeper,
		func(int) error {
			return s.transport.Send(ctx, msg)
		},
		func(attempt int, err error, delay time.Duration) {
			s.log.Warn("send attempt failed, retrying",
				zap.String("email", msg.To),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.policy.MaxAttempts),
				zap.Duration("backoff", delay),
				zap.Error(err))
			s.metrics.IncRetry(stage)
		},
	)
	if err != nil {
		return fmt.Errorf("sending to %s via %s after %d attempt(s): %w", msg.To, s.transport.Name(), attempts, err)
	}
	return nil
}

// record writes the ledger entry for a confirmed send. The write is not
// tied to ctx so that a cancellation arriving just after the transport
// accepted the message cannot drop it.
func (s *Scheduler) record(ctx context.Context, kind model.LedgerKind, addr string) error {
	var rec model.Record
	switch kind {
	case model.LedgerFollowedUp:
		rec = model.FollowupRecord{Email: addr, SentAt: s.now()}
	default:
		rec = model.SentRecord{Email: addr, SentAt: s.now()}
	}
	_, err := s.ledger.Append(context.WithoutCancel(ctx), rec)
	return err
}
