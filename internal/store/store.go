package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/outreach/internal/model"
)

// ErrLedgerWrite marks a failure to durably record a ledger entry. It is
// always wrapped together with the underlying I/O error.
var ErrLedgerWrite = errors.New("ledger write failed")

// ErrNoLedger means a ledger a stage depends on has never been written.
var ErrNoLedger = errors.New("ledger does not exist")

// Ledger is the durable, append-only recipient state store. Each of the
// four ledger kinds is an independent set of addresses; a record's
// address is its identity within its ledger.
type Ledger interface {
	// Addresses returns the normalized address set of a ledger. A ledger
	// that has never been written is an empty set.
	Addresses(ctx context.Context, kind model.LedgerKind) (model.AddressSet, error)

	// Records returns every record of a ledger in write order.
	Records(ctx context.Context, kind model.LedgerKind) ([]model.Record, error)

	// Contains reports whether addr is already recorded in the ledger.
	Contains(ctx context.Context, kind model.LedgerKind, addr string) (bool, error)

	// Append durably records rec. It reports false without writing when
	// the address is already present. Write failures wrap ErrLedgerWrite.
	Append(ctx context.Context, rec model.Record) (bool, error)

	Close() error
}

// IsWriteError reports whether err came from a failed ledger write.
func IsWriteError(err error) bool {
	return errors.Is(err, ErrLedgerWrite)
}

// RequireExisting returns ErrNoLedger when l can tell that the ledger for
// kind was never written. Backends that cannot tell a missing ledger from
// an empty one always pass.
func RequireExisting(l Ledger, kind model.LedgerKind) error {
	ex, ok := l.(interface {
		Exists(kind model.LedgerKind) (bool, error)
	})
	if !ok {
		return nil
	}
	found, err := ex.Exists(kind)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoLedger, kind)
	}
	return nil
}
