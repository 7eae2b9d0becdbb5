package mailbox

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// IMAPDialer connects to an IMAP server with go-imap v2.
type IMAPDialer struct {
	Host     string
	Port     string
	Username string
	Password string

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool
}

// Dial establishes a connection to the IMAP server and authenticates.
// The caller is responsible for calling Logout on the returned session.
func (d *IMAPDialer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := d.Host + ":" + d.Port

	var client *imapclient.Client
	var err error

	if d.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(d.Username, d.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Username: d.Username,
			Message:  fmt.Sprintf("login to %s failed: %v", addr, err),
		}
	}

	return &imapSession{client: client}, nil
}

type imapSession struct {
	client *imapclient.Client
	folder string
}

func (s *imapSession) Select(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Read-only so scanning never changes \Seen flags.
	if _, err := s.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	s.folder = folder
	return nil
}

func (s *imapSession) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{Since: since}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", s.folder, err)
	}

	uids := searchData.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

func (s *imapSession) Fetch(ctx context.Context, uid uint32) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), fetchOpts)
	defer fetchCmd.Close()

	data := fetchCmd.Next()
	if data == nil {
		return nil, fmt.Errorf("message UID %d not found in %s", uid, s.folder)
	}

	buf, err := data.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message UID %d: %w", uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body", uid)
	}

	msg := ParseMessage(raw)
	msg.UID = uid
	if msg.Date.IsZero() {
		msg.Date = buf.InternalDate
	}

	if err := fetchCmd.Close(); err != nil {
		return msg, fmt.Errorf("closing fetch: %w", err)
	}

	return msg, nil
}

func (s *imapSession) Logout() error {
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}
