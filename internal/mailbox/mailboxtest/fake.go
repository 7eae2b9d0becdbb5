// Package mailboxtest provides an in-memory mailbox for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/outreach/internal/mailbox"
)

// Session is an in-memory mailbox.Session. Messages are keyed by folder;
// a message's UID is its 1-based index within its folder.
type Session struct {
	mu sync.Mutex

	Folders map[string][]*mailbox.Message

	// SelectErr and SearchErr fail the given folder; FetchErr fails the
	// given UID in every folder.
	SelectErr map[string]error
	SearchErr map[string]error
	FetchErr  map[uint32]error

	LoggedOut bool
	Fetched   int

	selected string
}

// NewSession returns an empty fake session.
func NewSession() *Session {
	return &Session{
		Folders:   make(map[string][]*mailbox.Message),
		SelectErr: make(map[string]error),
		SearchErr: make(map[string]error),
		FetchErr:  make(map[uint32]error),
	}
}

// Add creates folder if needed, appends messages to it and assigns
// their UIDs.
func (s *Session) Add(folder string, msgs ...*mailbox.Message) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Folders[folder]; !ok {
		s.Folders[folder] = nil
	}
	for _, m := range msgs {
		s.Folders[folder] = append(s.Folders[folder], m)
		m.UID = uint32(len(s.Folders[folder]))
	}
	return s
}

func (s *Session) Select(_ context.Context, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.SelectErr[folder]; err != nil {
		return err
	}
	if _, ok := s.Folders[folder]; !ok {
		return fmt.Errorf("folder %q does not exist", folder)
	}
	s.selected = folder
	return nil
}

func (s *Session) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.SearchErr[s.selected]; err != nil {
		return nil, err
	}
	day := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, since.Location())
	var uids []uint32
	for _, m := range s.Folders[s.selected] {
		if m.Date.IsZero() || !m.Date.Before(day) {
			uids = append(uids, m.UID)
		}
	}
	return uids, nil
}

func (s *Session) Fetch(_ context.Context, uid uint32) (*mailbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.FetchErr[uid]; err != nil {
		return nil, err
	}
	msgs := s.Folders[s.selected]
	if uid == 0 || int(uid) > len(msgs) {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	s.Fetched++
	m := *msgs[uid-1]
	return &m, nil
}

func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoggedOut = true
	return nil
}

// Dialer hands out a fixed session, or fails with Err.
type Dialer struct {
	Session *Session
	Err     error
	Dials   int
}

func (d *Dialer) Dial(context.Context) (mailbox.Session, error) {
	d.Dials++
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Session, nil
}
