// Package mailbox is the inbound mail collaborator: a scoped session that
// can select a folder, search it by date and fetch parsed messages.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a fetched inbound message reduced to what classification
// needs.
type Message struct {
	UID uint32

	// From is the decoded From header, e.g. `"Alice" <alice@x.com>`.
	From        string
	Subject     string
	ContentType string
	Date        time.Time

	// Text is the message body used for pattern matching: the decoded
	// text and message/* parts, or the raw body if it could not be
	// parsed as MIME.
	Text string
}

// Session is a connected, authenticated mailbox.
type Session interface {
	Select(ctx context.Context, folder string) error

	// SearchSince returns the UIDs of messages in the selected folder
	// received on or after since's calendar day.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)

	Fetch(ctx context.Context, uid uint32) (*Message, error)
	Logout() error
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// WithSession dials a session, runs fn and logs out regardless of what
// fn returns.
func WithSession(ctx context.Context, d Dialer, fn func(Session) error) error {
	sess, err := d.Dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Logout() }()

	return fn(sess)
}

// AuthError indicates the mailbox rejected the configured credentials.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("mailbox auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
