package mailbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dsn = "From: Mail Delivery Subsystem <mailer-daemon@googlemail.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Delivery Status Notification (Failure)\r\n" +
	"Date: Tue, 04 Mar 2025 10:15:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/report; report-type=delivery-status; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=UTF-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Address not found. Your message wasn't delivered to alice@x.com because the addr=\r\n" +
	"ess couldn't be found.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: message/delivery-status\r\n" +
	"\r\n" +
	"Reporting-MTA: dns; googlemail.com\r\n" +
	"\r\n" +
	"Final-Recipient: rfc822; alice@x.com\r\n" +
	"Action: failed\r\n" +
	"Status: 5.1.1\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8=\r\n" +
	"--BOUNDARY--\r\n"

func TestParseMessage_DeliveryReport(t *testing.T) {
	msg := ParseMessage([]byte(dsn))

	assert.Contains(t, msg.From, "mailer-daemon@googlemail.com")
	assert.Equal(t, "Delivery Status Notification (Failure)", msg.Subject)
	assert.Contains(t, msg.ContentType, "multipart/report")
	assert.Equal(t, time.Date(2025, 3, 4, 10, 15, 0, 0, time.UTC), msg.Date.UTC())

	assert.Contains(t, msg.Text, "wasn't delivered to alice@x.com because the address")
	assert.Contains(t, msg.Text, "Final-Recipient: rfc822; alice@x.com")
	assert.NotContains(t, msg.Text, "aGVsbG8=")
	assert.NotContains(t, msg.Text, "Subject:", "top-level headers are not part of the text")
}

func TestParseMessage_EncodedHeaders(t *testing.T) {
	raw := "From: =?UTF-8?Q?Jos=C3=A9?= <jose@x.com>\r\n" +
		"Subject: =?UTF-8?B?UmU6IGhlbGxv?=\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"thanks!\r\n"

	msg := ParseMessage([]byte(raw))
	assert.Equal(t, "José <jose@x.com>", msg.From)
	assert.Equal(t, "Re: hello", msg.Subject)
	assert.Equal(t, "thanks!", strings.TrimSpace(msg.Text))
	assert.True(t, msg.Date.IsZero())
}

func TestParseMessage_NotMIME(t *testing.T) {
	msg := ParseMessage([]byte("this is not a message"))
	assert.Equal(t, "this is not a message", strings.TrimSpace(msg.Text))
}

type stubDialer struct {
	sess *stubSession
	err  error
}

func (d stubDialer) Dial(context.Context) (Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}

type stubSession struct {
	Session
	loggedOut bool
}

func (s *stubSession) Logout() error {
	s.loggedOut = true
	return nil
}

func TestWithSession_AlwaysLogsOut(t *testing.T) {
	sess := &stubSession{}
	boom := errors.New("boom")

	err := WithSession(context.Background(), stubDialer{sess: sess}, func(Session) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, sess.loggedOut)
}

func TestWithSession_DialFailure(t *testing.T) {
	authErr := &AuthError{Username: "me@example.com", Message: "bad password"}
	called := false

	err := WithSession(context.Background(), stubDialer{err: authErr}, func(Session) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.False(t, called)
}
