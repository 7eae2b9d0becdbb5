// Package classify turns inbound mailbox traffic into bounce and reply
// ledger records.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/bounce"
	"github.com/nhle/outreach/internal/mailbox"
	"github.com/nhle/outreach/internal/metrics"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

// Classifier scans mailbox folders and records what it finds. Every
// accepted event is written to the ledger before the next message is
// looked at.
type Classifier struct {
	ledger  store.Ledger
	log     *zap.Logger
	metrics metrics.Recorder
	now     func() time.Time
	dryRun  bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMetrics sets the recorder for detections and folder failures.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Classifier) { c.metrics = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithDryRun reports detections without writing them.
func WithDryRun(dryRun bool) Option {
	return func(c *Classifier) { c.dryRun = dryRun }
}

// New returns a Classifier writing to ledger.
func New(ledger store.Ledger, log *zap.Logger, opts ...Option) *Classifier {
	c := &Classifier{
		ledger:  ledger,
		log:     log,
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Since returns the start of the lookback window.
func (c *Classifier) Since(daysBack int) time.Time {
	return c.now().AddDate(0, 0, -daysBack)
}

// ScanBounces opens a session and classifies bounces in folders over the
// last daysBack days.
func (c *Classifier) ScanBounces(ctx context.Context, d mailbox.Dialer, folders []string, daysBack int) ([]model.BounceRecord, error) {
	sent, err := c.sentAddresses(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := c.ledger.Addresses(ctx, model.LedgerBounced)
	if err != nil {
		return nil, err
	}

	var found []model.BounceRecord
	err = mailbox.WithSession(ctx, d, func(sess mailbox.Session) error {
		var err error
		found, err = c.ClassifyBounces(ctx, sess, folders, c.Since(daysBack), sent, existing)
		return err
	})
	return found, err
}

// ScanReplies opens a session and classifies replies in folder over the
// last daysBack days.
func (c *Classifier) ScanReplies(ctx context.Context, d mailbox.Dialer, folder string, daysBack int) ([]model.ReplyRecord, error) {
	sent, err := c.sentAddresses(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := c.ledger.Addresses(ctx, model.LedgerReplied)
	if err != nil {
		return nil, err
	}

	var found []model.ReplyRecord
	err = mailbox.WithSession(ctx, d, func(sess mailbox.Session) error {
		var err error
		found, err = c.ClassifyReplies(ctx, sess, folder, c.Since(daysBack), sent, existing)
		return err
	})
	return found, err
}

// sentAddresses loads the sent ledger. A sent ledger that was never
// written is an error: nothing could match it, and a wrong path would
// otherwise pass as a quiet run.
func (c *Classifier) sentAddresses(ctx context.Context) (model.AddressSet, error) {
	if err := store.RequireExisting(c.ledger, model.LedgerSent); err != nil {
		return nil, fmt.Errorf("loading sent addresses: %w", err)
	}
	return c.ledger.Addresses(ctx, model.LedgerSent)
}

// ClassifyBounces scans each folder for delivery failures to addresses
// in sent that are not yet in existing. A folder that cannot be selected
// or searched is logged and skipped. The returned error is non-nil only
// when a ledger write fails or ctx is cancelled.
func (c *Classifier) ClassifyBounces(
	ctx context.Context,
	sess mailbox.Session,
	folders []string,
	since time.Time,
	sent, existing model.AddressSet,
) ([]model.BounceRecord, error) {
	seen := existing.Union()
	var found []model.BounceRecord

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		log := c.log.With(zap.String("folder", folder))
		uids, err := c.openFolder(ctx, sess, folder, since)
		if err != nil {
			log.Warn("skipping folder", zap.Error(err))
			c.metrics.IncFolderError(folder)
			continue
		}
		log.Debug("scanning for bounces", zap.Int("messages", len(uids)))

		for _, uid := range uids {
			if err := ctx.Err(); err != nil {
				return found, err
			}

			msg, err := sess.Fetch(ctx, uid)
			if err != nil {
				log.Warn("fetching message", zap.Uint32("uid", uid), zap.Error(err))
				continue
			}

			rec, ok := c.bounceFor(msg)
			if !ok || !sent.Has(rec.Email) || seen.Has(rec.Email) {
				continue
			}

			added, err := c.record(ctx, rec)
			if err != nil {
				return found, err
			}
			seen.Add(rec.Email)
			if !added {
				continue
			}

			log.Info("bounce detected",
				zap.String("email", rec.Email),
				zap.String("bounce_type", string(rec.BounceKind)),
				zap.Bool("dry_run", c.dryRun))
			c.metrics.IncDetection(string(model.LedgerBounced), string(rec.BounceKind))
			found = append(found, rec)
		}
	}

	return found, nil
}

// ClassifyReplies records any message in folder from an address in sent
// that is not yet in existing. A folder failure here is returned, since
// there is nothing else to scan.
func (c *Classifier) ClassifyReplies(
	ctx context.Context,
	sess mailbox.Session,
	folder string,
	since time.Time,
	sent, existing model.AddressSet,
) ([]model.ReplyRecord, error) {
	uids, err := c.openFolder(ctx, sess, folder, since)
	if err != nil {
		c.metrics.IncFolderError(folder)
		return nil, err
	}

	log := c.log.With(zap.String("folder", folder))
	log.Debug("scanning for replies", zap.Int("messages", len(uids)))

	seen := existing.Union()
	var found []model.ReplyRecord

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return found, err
		}

		msg, err := sess.Fetch(ctx, uid)
		if err != nil {
			log.Warn("fetching message", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}

		from := SenderAddress(msg.From)
		if from == "" || !sent.Has(from) || seen.Has(from) {
			continue
		}

		rec := model.ReplyRecord{
			Email:     from,
			ReplyDate: msg.Date,
			Subject:   strings.TrimSpace(msg.Subject),
		}
		if rec.ReplyDate.IsZero() {
			rec.ReplyDate = c.now()
		}

		added, err := c.record(ctx, rec)
		if err != nil {
			return found, err
		}
		seen.Add(from)
		if !added {
			continue
		}

		log.Info("reply detected", zap.String("email", from), zap.Bool("dry_run", c.dryRun))
		c.metrics.IncDetection(string(model.LedgerReplied), "reply")
		found = append(found, rec)
	}

	return found, nil
}

func (c *Classifier) openFolder(ctx context.Context, sess mailbox.Session, folder string, since time.Time) ([]uint32, error) {
	if err := sess.Select(ctx, folder); err != nil {
		return nil, fmt.Errorf("selecting %s: %w", folder, err)
	}
	uids, err := sess.SearchSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}
	return uids, nil
}

func (c *Classifier) bounceFor(msg *mailbox.Message) (model.BounceRecord, bool) {
	h := bounce.Headers{From: msg.From, Subject: msg.Subject, ContentType: msg.ContentType}
	if !bounce.IsBounce(h) {
		return model.BounceRecord{}, false
	}
	addr, ok := bounce.ExtractFailedAddress(msg.Text)
	if !ok {
		c.log.Debug("bounce without a recognizable recipient",
			zap.Uint32("uid", msg.UID), zap.String("subject", msg.Subject))
		return model.BounceRecord{}, false
	}
	return model.BounceRecord{
		Email:      addr,
		BounceKind: bounce.ClassifySeverity(msg.Text),
		DetectedOn: c.now(),
	}, true
}

// record appends rec unless this is a dry run. In a dry run every new
// address counts as added.
func (c *Classifier) record(ctx context.Context, rec model.Record) (bool, error) {
	if c.dryRun {
		return true, nil
	}
	added, err := c.ledger.Append(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrLedgerWrite) {
			c.log.Error("ledger write failed", zap.String("email", rec.Address()), zap.Error(err))
		}
		return false, fmt.Errorf("recording %s for %s: %w", rec.Kind(), rec.Address(), err)
	}
	return added, nil
}

// SenderAddress extracts the normalized address from a From header in
// either bare or "Name <address>" form.
func SenderAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return model.NormalizeEmail(addr.Address)
	}

	// Fall back to the last angle-bracketed part for headers the strict
	// parser rejects.
	if i := strings.LastIndex(from, "<"); i >= 0 {
		if j := strings.Index(from[i:], ">"); j > 0 {
			from = from[i+1 : i+j]
		}
	}
	addr := model.NormalizeEmail(strings.Trim(from, " \t\"'<>"))
	if !model.ValidEmail(addr) {
		return ""
	}
	return addr
}
