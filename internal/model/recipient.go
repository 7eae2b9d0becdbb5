package model

import (
	"sort"
	"strings"
)

// FillerName is used in greetings when a contact has no first name.
const FillerName = "there"

// Recipient is a single contact from the outreach list.
type Recipient struct {
	// Email is the normalized (trimmed, lowercase) address.
	Email string

	// FirstName is optional; Greeting falls back to FillerName.
	FirstName string
}

// Greeting returns the name used to address the recipient.
func (r Recipient) Greeting() string {
	if name := strings.TrimSpace(r.FirstName); name != "" {
		return name
	}
	return FillerName
}

// NormalizeEmail trims and lowercases an address so it can be used as a
// ledger key.
func NormalizeEmail(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ValidEmail reports whether a normalized address looks deliverable
// enough to attempt a send.
func ValidEmail(addr string) bool {
	at := strings.LastIndex(addr, "@")
	return at > 0 && at < len(addr)-1 && !strings.ContainsAny(addr, " \t\r\n")
}

// AddressSet is a set of normalized email addresses.
type AddressSet map[string]struct{}

// NewAddressSet builds a set from the given addresses, normalizing each.
func NewAddressSet(addrs ...string) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts addr (normalized). Empty addresses are ignored.
func (s AddressSet) Add(addr string) {
	if n := NormalizeEmail(addr); n != "" {
		s[n] = struct{}{}
	}
}

// Has reports whether addr (normalized) is in the set.
func (s AddressSet) Has(addr string) bool {
	_, ok := s[NormalizeEmail(addr)]
	return ok
}

// Len returns the number of addresses.
func (s AddressSet) Len() int {
	return len(s)
}

// Union returns a new set holding every address of s and others.
func (s AddressSet) Union(others ...AddressSet) AddressSet {
	out := make(AddressSet, len(s))
	for a := range s {
		out[a] = struct{}{}
	}
	for _, o := range others {
		for a := range o {
			out[a] = struct{}{}
		}
	}
	return out
}

// Sorted returns the addresses in lexical order.
func (s AddressSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
