package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/nhle/outreach/internal/model"
)

// entry is the flat form shared by the database backends. Detail holds
// the subject of a reply or the severity of a bounce.
type entry struct {
	Kind   model.LedgerKind `db:"kind" json:"kind"`
	Email  string           `db:"email" json:"email"`
	At     string           `db:"occurred_at" json:"at"`
	Detail string           `db:"detail" json:"detail,omitempty"`
}

// timeLayouts are accepted when reading timestamps back. The second and
// third match ledgers written by older tooling.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toEntry(rec model.Record) (entry, error) {
	e := entry{Kind: rec.Kind(), Email: model.NormalizeEmail(rec.Address())}
	if e.Email == "" {
		return entry{}, fmt.Errorf("%s record has an empty address", rec.Kind())
	}

	switch r := rec.(type) {
	case model.SentRecord:
		e.At = formatTime(r.SentAt)
	case model.FollowupRecord:
		e.At = formatTime(r.SentAt)
	case model.ReplyRecord:
		e.At = formatTime(r.ReplyDate)
		e.Detail = r.Subject
	case model.BounceRecord:
		e.At = formatTime(r.DetectedOn)
		kind := r.BounceKind
		if kind == "" {
			kind = model.BounceUnknown
		}
		e.Detail = string(kind)
	default:
		return entry{}, fmt.Errorf("unsupported record type %T", rec)
	}
	return e, nil
}

func (e entry) record() model.Record {
	at := parseTime(e.At)
	switch e.Kind {
	case model.LedgerReplied:
		return model.ReplyRecord{Email: e.Email, ReplyDate: at, Subject: e.Detail}
	case model.LedgerBounced:
		return model.BounceRecord{Email: e.Email, BounceKind: model.ParseBounceKind(e.Detail), DetectedOn: at}
	case model.LedgerFollowedUp:
		return model.FollowupRecord{Email: e.Email, SentAt: at}
	default:
		return model.SentRecord{Email: e.Email, SentAt: at}
	}
}
