// Package transport delivers composed messages through an outbound mail
// service.
package transport

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/outreach/internal/retry"
)

// Transport sends one message. A nil error means the service accepted it.
type Transport interface {
	Send(ctx context.Context, msg *Message) error

	// Name returns the human-readable name of this transport.
	Name() string
}

// Message is a single outbound message to one recipient.
type Message struct {
	From       string
	To         string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Attachment is a file sent along with the message body.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// LoadAttachment reads the file at path. The content type is derived
// from the extension.
func LoadAttachment(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %s: %w", path, err)
	}

	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		ct = "application/octet-stream"
	}

	return &Attachment{
		Filename:    filepath.Base(path),
		ContentType: ct,
		Data:        data,
	}, nil
}

type timeoutTransport struct {
	next    Transport
	timeout time.Duration
}

// WithTimeout bounds every Send of next by timeout.
//
// A send that outlives its deadline is still waited for, so at most one
// send per message is ever in flight. If it then fails, the outcome at the
// relay is unknown and the error is marked permanent: the message may have
// been accepted, and sending it again could deliver it twice. Transports
// must honor ctx (SMTP closes its connection) for Send to return promptly.
func WithTimeout(next Transport, timeout time.Duration) Transport {
	if timeout <= 0 {
		return next
	}
	return &timeoutTransport{next: next, timeout: timeout}
}

func (t *timeoutTransport) Name() string {
	return t.next.Name()
}

func (t *timeoutTransport) Send(ctx context.Context, msg *Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	err := t.next.Send(sendCtx, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		return retry.Permanent(fmt.Errorf("%s send to %s timed out after %s: %w",
			t.next.Name(), msg.To, t.timeout, errors.Join(err, sendCtx.Err())))
	}
	return err
}
