// Package bounce recognizes delivery failure notifications and extracts
// the recipient that failed.
package bounce

import (
	"regexp"
	"strings"

	"github.com/nhle/outreach/internal/model"
)

// Headers are the fields of a message the bounce predicate looks at.
type Headers struct {
	From        string
	Subject     string
	ContentType string
}

var bounceSubjects = []string{
	"delivery status notification",
	"undelivered",
	"mail delivery failed",
}

// IsBounce reports whether a message looks like a delivery failure
// notification. Each condition is sufficient on its own.
func IsBounce(h Headers) bool {
	if strings.Contains(strings.ToLower(h.From), "mailer-daemon") {
		return true
	}
	subject := strings.ToLower(h.Subject)
	for _, s := range bounceSubjects {
		if strings.Contains(subject, s) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(h.ContentType), "multipart/report")
}

// addressPatterns are tried in order; the first one that yields an
// address wins.
var addressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Final-Recipient:[ \t]*rfc822[ \t]*;[ \t]*([^\r\n]+)`),
	regexp.MustCompile(`(?i)Original-Recipient:[ \t]*rfc822[ \t]*;[ \t]*([^\r\n]+)`),
	regexp.MustCompile(`(?i)wasn'?t delivered to\s+(\S+@\S+)`),
	regexp.MustCompile(`(?im)^To:[ \t]*([^\r\n]+)$`),
}

// ExtractFailedAddress returns the originally intended recipient named in
// a bounce body, lowercased.
func ExtractFailedAddress(text string) (string, bool) {
	for _, re := range addressPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if addr := cleanAddress(m[1]); addr != "" {
			return addr, true
		}
	}
	return "", false
}

// cleanAddress strips the decoration mail servers put around addresses
// ("<a@x.com>", "a@x.com.", "\"Name\" <a@x.com>").
func cleanAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.Index(s[i:], ">"); j > 0 {
			s = s[i+1 : i+j]
		}
	}
	s = strings.Trim(s, " \t<>\"'().,;:")
	addr := model.NormalizeEmail(s)
	if !model.ValidEmail(addr) {
		return ""
	}
	return addr
}

var (
	// Enhanced status codes (RFC 3463). A bare "5.x.x" would also fire
	// inside longer dotted numbers, so a code must stand alone: it may not
	// follow a digit or dot, nor be followed by a digit or by a dot that
	// continues the number. "Status: 5.1.1" and "failed (5.1.1)." match,
	// while "Postfix 3.5.10.2" and the address "10.4.2.1" do not.
	hardCode = regexp.MustCompile(`(?:^|[^\d.])5\.\d{1,3}\.\d{1,3}(?:$|[^\d.]|\.(?:$|\D))`)
	softCode = regexp.MustCompile(`(?:^|[^\d.])4\.\d{1,3}\.\d{1,3}(?:$|[^\d.]|\.(?:$|\D))`)

	hardPhrases = []string{"address not found", "user unknown", "no such user"}
	softPhrases = []string{"mailbox full", "temporarily", "try again later"}
)

// ClassifySeverity grades a bounce body. Permanent failure markers are
// checked before transient ones, so a body with both is hard.
func ClassifySeverity(text string) model.BounceKind {
	lower := strings.ToLower(text)
	if hardCode.MatchString(lower) || containsAny(lower, hardPhrases) {
		return model.BounceHard
	}
	if softCode.MatchString(lower) || containsAny(lower, softPhrases) {
		return model.BounceSoft
	}
	return model.BounceUnknown
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
