package model

import (
	"fmt"
	"strings"
	"time"
)

// LedgerKind identifies one of the four recipient ledgers.
type LedgerKind string

const (
	LedgerSent       LedgerKind = "sent"
	LedgerReplied    LedgerKind = "replied"
	LedgerBounced    LedgerKind = "bounced"
	LedgerFollowedUp LedgerKind = "followed_up"
)

// LedgerKinds lists every ledger in a stable order.
var LedgerKinds = []LedgerKind{
	LedgerSent, LedgerReplied, LedgerBounced, LedgerFollowedUp,
}

// ParseLedgerKind converts a user supplied name into a LedgerKind.
func ParseLedgerKind(s string) (LedgerKind, error) {
	k := LedgerKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range LedgerKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown ledger kind %q", s)
}

// BounceKind is the severity of a delivery failure.
type BounceKind string

const (
	BounceHard    BounceKind = "hard"
	BounceSoft    BounceKind = "soft"
	BounceUnknown BounceKind = "unknown"
)

// ParseBounceKind maps a stored value back to a BounceKind. Anything
// unrecognized is treated as unknown.
func ParseBounceKind(s string) BounceKind {
	switch BounceKind(strings.ToLower(strings.TrimSpace(s))) {
	case BounceHard:
		return BounceHard
	case BounceSoft:
		return BounceSoft
	default:
		return BounceUnknown
	}
}

// Record is a single ledger entry. Every ledger is keyed by Address.
type Record interface {
	Kind() LedgerKind
	Address() string
}

// SentRecord marks an initial message confirmed by the transport.
type SentRecord struct {
	Email  string
	SentAt time.Time
}

func (r SentRecord) Kind() LedgerKind { return LedgerSent }
func (r SentRecord) Address() string  { return r.Email }

// ReplyRecord marks an inbound message from a contacted address.
type ReplyRecord struct {
	Email     string
	ReplyDate time.Time
	Subject   string
}

func (r ReplyRecord) Kind() LedgerKind { return LedgerReplied }
func (r ReplyRecord) Address() string  { return r.Email }

// BounceRecord marks a delivery failure notification for a contacted
// address.
type BounceRecord struct {
	Email      string
	BounceKind BounceKind
	DetectedOn time.Time
}

func (r BounceRecord) Kind() LedgerKind { return LedgerBounced }
func (r BounceRecord) Address() string  { return r.Email }

// FollowupRecord marks a confirmed follow-up message.
type FollowupRecord struct {
	Email  string
	SentAt time.Time
}

func (r FollowupRecord) Kind() LedgerKind { return LedgerFollowedUp }
func (r FollowupRecord) Address() string  { return r.Email }
