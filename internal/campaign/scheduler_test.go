package campaign

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/outreach/internal/compose"
	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/testutil"
	"github.com/nhle/outreach/internal/transport"
	"github.com/nhle/outreach/internal/transport/transporttest"
)

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// fixedJitter always returns the lower bound.
type fixedJitter struct{}

func (fixedJitter) Delay(min, _ time.Duration) time.Duration { return min }

type stubComposer struct {
	fail map[string]bool
}

func (c stubComposer) Compose(r model.Recipient) (compose.Content, error) {
	if c.fail[r.Email] {
		return compose.Content{}, errors.New("template error")
	}
	return compose.Content{Subject: "Hello " + r.Greeting(), Body: "body for " + r.Email}, nil
}

func recipients(addrs ...string) []model.Recipient {
	out := make([]model.Recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.Recipient{Email: a})
	}
	return out
}

func stage(limit int) Stage {
	return Stage{Name: StageInitial, Limit: limit, MinDelay: 30 * time.Second, MaxDelay: 60 * time.Second}
}

type fixture struct {
	ledger    store.Ledger
	transport *transporttest.Recorder
	sleeper   *testutil.Sleeper
	sched     *Scheduler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    testutil.NewTestLedger(t),
		transport: transporttest.NewRecorder(),
		sleeper:   &testutil.Sleeper{},
	}
	base := []Option{
		WithPolicy(retry.Policy{MaxAttempts: 3, Initial: 5 * time.Second, Multiplier: 2}),
		WithSleeper(f.sleeper),
		WithJitter(fixedJitter{}),
		WithClock(func() time.Time { return fixedNow }),
		WithSender("me@x.com"),
	}
	f.sched = New(f.ledger, f.transport, zap.NewNop(), append(base, opts...)...)
	return f
}

func TestRunInitialCampaign_StopsAtLimit(t *testing.T) {
	f := newFixture(t)
	contacts := recipients("a@x.com", "b@x.com")

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(1), contacts, stubComposer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a@x.com"}, report.Sent)
	assert.Equal(t, 2, report.Pending)
	assert.Equal(t, 1, report.Remaining())
	assert.Equal(t, []string{"a@x.com"}, testutil.Addresses(t, f.ledger, model.LedgerSent))

	sent, err := f.ledger.Addresses(context.Background(), model.LedgerSent)
	require.NoError(t, err)
	assert.Equal(t, recipients("b@x.com"), PendingInitial(contacts, sent))

	require.Len(t, f.transport.Sent, 1)
	assert.Equal(t, "me@x.com", f.transport.Sent[0].From)
	assert.Equal(t, "Hello there", f.transport.Sent[0].Subject)
	assert.Empty(t, f.sleeper.Durations(), "no pause after the last send")
}

func TestRunInitialCampaign_SkipsAlreadySent(t *testing.T) {
	f := newFixture(t)
	testutil.Seed(t, f.ledger, model.SentRecord{Email: "A@x.com", SentAt: fixedNow})

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com", "b@x.com"), stubComposer{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, []string{"b@x.com"}, f.transport.Recipients())
}

func TestRunInitialCampaign_JitterBetweenSends(t *testing.T) {
	f := newFixture(t)

	_, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com", "b@x.com", "c@x.com"), stubComposer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, f.transport.Recipients())
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, f.sleeper.Durations())
}

func TestRunInitialCampaign_RetryExhaustion(t *testing.T) {
	f := newFixture(t)
	f.transport.FailTimes["a@x.com"] = -1
	contacts := recipients("a@x.com")

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(10), contacts, stubComposer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a@x.com"}, report.Failed)
	assert.Empty(t, report.Sent)
	assert.Equal(t, 3, f.transport.Attempts["a@x.com"])
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, f.sleeper.Durations())
	assert.Empty(t, testutil.Addresses(t, f.ledger, model.LedgerSent))

	// Still pending on the next run.
	f.transport.FailTimes = map[string]int{}
	report, err = f.sched.RunInitialCampaign(context.Background(), stage(10), contacts, stubComposer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, report.Sent)
}

func TestRunInitialCampaign_RetryThenSuccess(t *testing.T) {
	f := newFixture(t)
	f.transport.FailTimes["a@x.com"] = 2

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com"), stubComposer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, report.Sent)
	assert.Equal(t, 3, f.transport.Attempts["a@x.com"])
}

func TestRunInitialCampaign_NoRetryWhenDisabled(t *testing.T) {
	f := newFixture(t, WithPolicy(retry.NewPolicy(model.RetryConfig{Enabled: false})))
	f.transport.FailTimes["a@x.com"] = -1

	_, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com"), stubComposer{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.transport.Attempts["a@x.com"])
}

func TestRunInitialCampaign_LimitCountsFailedAttempts(t *testing.T) {
	f := newFixture(t)
	f.transport.FailTimes["a@x.com"] = -1

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(2), recipients("a@x.com", "b@x.com", "c@x.com"), stubComposer{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, []string{"b@x.com"}, report.Sent)
	assert.Zero(t, f.transport.Attempts["c@x.com"])
}

func TestRunInitialCampaign_ComposeFailureSkipsRecipient(t *testing.T) {
	f := newFixture(t)

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com", "b@x.com"),
		stubComposer{fail: map[string]bool{"a@x.com": true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com"}, report.Failed)
	assert.Equal(t, []string{"b@x.com"}, report.Sent)
}

func TestRunInitialCampaign_DryRun(t *testing.T) {
	f := newFixture(t, WithDryRun(true))

	report, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com", "b@x.com"), stubComposer{})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, report.Sent)
	assert.Zero(t, f.transport.TotalAttempts())
	assert.Empty(t, f.sleeper.Durations())
	assert.Empty(t, testutil.Addresses(t, f.ledger, model.LedgerSent))
}

func TestRunInitialCampaign_AttachmentOnlyOnInitial(t *testing.T) {
	att := &transport.Attachment{Filename: "cv.pdf", ContentType: "application/pdf", Data: []byte("%PDF")}
	f := newFixture(t, WithAttachment(att))
	testutil.Seed(t, f.ledger, model.SentRecord{Email: "old@x.com", SentAt: fixedNow})

	_, err := f.sched.RunInitialCampaign(context.Background(), stage(10), recipients("new@x.com"), stubComposer{})
	require.NoError(t, err)
	_, err = f.sched.RunFollowupCampaign(context.Background(), stage(10), nil, stubComposer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"new@x.com", "old@x.com", "new@x.com"}, f.transport.Recipients())
	assert.NotNil(t, f.transport.Sent[0].Attachment)
	assert.Nil(t, f.transport.Sent[1].Attachment)
	assert.Nil(t, f.transport.Sent[2].Attachment)
}

type brokenLedger struct {
	store.Ledger
}

func (brokenLedger) Append(context.Context, model.Record) (bool, error) {
	return false, fmt.Errorf("%w: read-only file system", store.ErrLedgerWrite)
}

func TestRunInitialCampaign_UnrecordedSendIsFatal(t *testing.T) {
	tr := transporttest.NewRecorder()
	sched := New(brokenLedger{Ledger: testutil.NewTestLedger(t)}, tr, zap.NewNop(),
		WithSleeper(&testutil.Sleeper{}), WithJitter(fixedJitter{}))

	report, err := sched.RunInitialCampaign(context.Background(), stage(10), recipients("a@x.com", "b@x.com"), stubComposer{})
	require.Error(t, err)
	assert.True(t, IsInconsistency(err))
	assert.True(t, store.IsWriteError(err))
	assert.Equal(t, []string{"a@x.com"}, tr.Recipients(), "no further sends after an unrecorded one")
	assert.Empty(t, report.Sent)
}

func TestRunInitialCampaign_CancelDuringPause(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t)
	f.sleeper.Cancel = cancel

	report, err := f.sched.RunInitialCampaign(ctx, stage(10), recipients("a@x.com", "b@x.com"), stubComposer{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a@x.com"}, report.Sent)
	assert.Equal(t, []string{"a@x.com"}, testutil.Addresses(t, f.ledger, model.LedgerSent))
}

type permanentTransport struct {
	attempts int
}

func (p *permanentTransport) Name() string { return "permanent" }

func (p *permanentTransport) Send(context.Context, *transport.Message) error {
	p.attempts++
	return retry.Permanent(errors.New("550 mailbox unavailable"))
}

func TestSendWithRetry_PermanentErrorIsNotRetried(t *testing.T) {
	tr := &permanentTransport{}
	sched := New(testutil.NewTestLedger(t), tr, zap.NewNop(), WithSleeper(&testutil.Sleeper{}))

	err := sched.SendWithRetry(context.Background(), StageInitial, &transport.Message{To: "a@x.com"})
	require.Error(t, err)
	assert.Equal(t, 1, tr.attempts)
	assert.ErrorContains(t, err, "after 1 attempt(s)")
}

func TestRunFollowupCampaign_ExcludesReplied(t *testing.T) {
	f := newFixture(t)
	testutil.Seed(t, f.ledger,
		model.SentRecord{Email: "a@x.com", SentAt: fixedNow},
		model.ReplyRecord{Email: "a@x.com", ReplyDate: fixedNow},
	)

	report, err := f.sched.RunFollowupCampaign(context.Background(), stage(10), recipients("a@x.com"), stubComposer{})
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
	assert.Zero(t, f.transport.TotalAttempts())
}

func TestRunFollowupCampaign_SelectsAndRecords(t *testing.T) {
	f := newFixture(t)
	testutil.Seed(t, f.ledger,
		model.SentRecord{Email: "d@x.com", SentAt: fixedNow},
		model.SentRecord{Email: "a@x.com", SentAt: fixedNow},
		model.SentRecord{Email: "b@x.com", SentAt: fixedNow},
		model.SentRecord{Email: "c@x.com", SentAt: fixedNow},
		model.SentRecord{Email: "e@x.com", SentAt: fixedNow},
		model.BounceRecord{Email: "b@x.com", BounceKind: model.BounceHard, DetectedOn: fixedNow},
		model.FollowupRecord{Email: "c@x.com", SentAt: fixedNow},
	)
	contacts := []model.Recipient{{Email: "a@x.com", FirstName: "Ann"}}

	report, err := f.sched.RunFollowupCampaign(context.Background(), stage(10), contacts, stubComposer{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Pending)
	assert.Equal(t, []string{"d@x.com", "a@x.com", "e@x.com"}, f.transport.Recipients())
	assert.Equal(t, "Hello Ann", f.transport.Sent[1].Subject)
	assert.Equal(t, []string{"a@x.com", "c@x.com", "d@x.com", "e@x.com"},
		testutil.Addresses(t, f.ledger, model.LedgerFollowedUp))

	again, err := f.sched.RunFollowupCampaign(context.Background(), stage(10), contacts, stubComposer{})
	require.NoError(t, err)
	assert.Zero(t, again.Pending)
}

func TestPendingFollowup(t *testing.T) {
	sent := []model.Record{
		model.SentRecord{Email: "a@x.com"},
		model.SentRecord{Email: "b@x.com"},
	}
	got := PendingFollowup(sent, nil, model.NewAddressSet("a@x.com"))
	assert.Equal(t, []model.Recipient{{Email: "b@x.com"}}, got)
}

func TestRandomJitter(t *testing.T) {
	var j RandomJitter
	for i := 0; i < 50; i++ {
		d := j.Delay(time.Second, 2*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
	assert.Equal(t, time.Second, j.Delay(time.Second, time.Second))
}

func TestNewStage(t *testing.T) {
	s := NewStage(StageFollowup, model.StageConfig{Limit: 40, MinDelay: time.Second, MaxDelay: 2 * time.Second})
	assert.Equal(t, Stage{Name: StageFollowup, Limit: 40, MinDelay: time.Second, MaxDelay: 2 * time.Second}, s)
}
