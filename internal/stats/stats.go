// Package stats computes aggregate campaign counts from the ledgers.
package stats

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/store"
	"github.com/nhle/outreach/internal/theme"
)

// Stats is a snapshot of the campaign.
type Stats struct {
	Contacts        int
	Sent            int
	PendingOutreach int
	FollowedUp      int
	PendingFollowup int
	Replied         int
	Bounced         int
	BouncesByKind   map[model.BounceKind]int

	// Rates are percentages of Sent rounded to two decimals.
	ReplyRate  float64
	BounceRate float64
}

// Compute reads every ledger and derives the counts for contacts.
func Compute(ctx context.Context, ledger store.Ledger, contacts []model.Recipient) (*Stats, error) {
	sets := make(map[model.LedgerKind]model.AddressSet, len(model.LedgerKinds))
	for _, kind := range model.LedgerKinds {
		set, err := ledger.Addresses(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("loading %s ledger: %w", kind, err)
		}
		sets[kind] = set
	}

	bounces, err := ledger.Records(ctx, model.LedgerBounced)
	if err != nil {
		return nil, fmt.Errorf("loading bounced ledger: %w", err)
	}

	sent := sets[model.LedgerSent]
	s := &Stats{
		Contacts:      len(contacts),
		Sent:          sent.Len(),
		FollowedUp:    sets[model.LedgerFollowedUp].Len(),
		Replied:       sets[model.LedgerReplied].Len(),
		Bounced:       sets[model.LedgerBounced].Len(),
		BouncesByKind: make(map[model.BounceKind]int),
	}

	for _, c := range contacts {
		if !sent.Has(c.Email) {
			s.PendingOutreach++
		}
	}

	done := sets[model.LedgerReplied].Union(sets[model.LedgerBounced], sets[model.LedgerFollowedUp])
	for addr := range sent {
		if !done.Has(addr) {
			s.PendingFollowup++
		}
	}

	for _, rec := range bounces {
		if b, ok := rec.(model.BounceRecord); ok {
			s.BouncesByKind[b.BounceKind]++
		}
	}

	s.ReplyRate = rate(s.Replied, s.Sent)
	s.BounceRate = rate(s.Bounced, s.Sent)
	return s, nil
}

func rate(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(of)*10000) / 100
}

// Render formats s as a bordered two-column table.
func Render(s *Stats) string {
	rows := [][]string{
		{"Contacts", strconv.Itoa(s.Contacts)},
		{"Sent", strconv.Itoa(s.Sent)},
		{"Pending outreach", strconv.Itoa(s.PendingOutreach)},
		{"Followed up", strconv.Itoa(s.FollowedUp)},
		{"Pending follow-up", strconv.Itoa(s.PendingFollowup)},
		{"Replied", strconv.Itoa(s.Replied)},
		{"Bounced", strconv.Itoa(s.Bounced)},
		{"  hard", strconv.Itoa(s.BouncesByKind[model.BounceHard])},
		{"  soft", strconv.Itoa(s.BouncesByKind[model.BounceSoft])},
		{"  unknown", strconv.Itoa(s.BouncesByKind[model.BounceUnknown])},
		{"Reply rate", fmt.Sprintf("%.2f%%", s.ReplyRate)},
		{"Bounce rate", fmt.Sprintf("%.2f%%", s.BounceRate)},
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.BorderStyle).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 || row < 0 || row >= len(rows) {
				return theme.LabelStyle
			}
			label := strings.TrimSpace(rows[row][0])
			return theme.ValueStyle.Inherit(theme.LedgerStyle(ledgerLabel(label)))
		})

	return lipgloss.JoinVertical(lipgloss.Left,
		theme.HeaderStyle.Render("Campaign statistics"),
		t.Render(),
	)
}

func ledgerLabel(label string) string {
	switch label {
	case "Sent":
		return string(model.LedgerSent)
	case "Followed up":
		return string(model.LedgerFollowedUp)
	case "Replied", "Reply rate":
		return string(model.LedgerReplied)
	case "Bounced", "Bounce rate":
		return string(model.LedgerBounced)
	default:
		return label
	}
}
