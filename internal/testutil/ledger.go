// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
)

// NewTestLedger creates an in-memory SQLiteLedger with all migrations
// applied. It automatically closes the ledger when the test completes.
func NewTestLedger(t *testing.T) *store.SQLiteLedger {
	t.Helper()

	l, err := store.NewSQLiteLedger(":memory:")
	if err != nil {
		t.Fatalf("creating test ledger: %v", err)
	}

	t.Cleanup(func() {
		if err := l.Close(); err != nil {
			t.Errorf("closing test ledger: %v", err)
		}
	})

	return l
}

// Seed appends records to l, failing the test on any error.
func Seed(t *testing.T, l store.Ledger, recs ...model.Record) {
	t.Helper()
	for _, rec := range recs {
		if _, err := l.Append(context.Background(), rec); err != nil {
			t.Fatalf("seeding %s for %s: %v", rec.Kind(), rec.Address(), err)
		}
	}
}

// Addresses returns the sorted addresses in one ledger.
func Addresses(t *testing.T, l store.Ledger, kind model.LedgerKind) []string {
	t.Helper()
	set, err := l.Addresses(context.Background(), kind)
	if err != nil {
		t.Fatalf("reading %s ledger: %v", kind, err)
	}
	return set.Sorted()
}

// Sleeper records requested pauses without sleeping.
type Sleeper struct {
	mu     sync.Mutex
	Slept  []time.Duration
	Cancel context.CancelFunc // if set, called on the first Sleep
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.Slept = append(s.Slept, d)
	cancel := s.Cancel
	s.Cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return ctx.Err()
}

// Durations returns a copy of the recorded pauses.
func (s *Sleeper) Durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.Slept...)
}
