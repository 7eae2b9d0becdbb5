package transport

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
)

type received struct {
	from string
	to   []string
	data string
}

type testBackend struct {
	mu   sync.Mutex
	msgs []received
}

func (b *testBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b}, nil
}

type testSession struct {
	backend *testBackend
	cur     received
}

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if strings.HasPrefix(to, "reject") {
		return &smtp.SMTPError{Code: 550, EnhancedCode: smtp.EnhancedCode{5, 1, 1}, Message: "No such user"}
	}
	if strings.HasPrefix(to, "busy") {
		return &smtp.SMTPError{Code: 451, EnhancedCode: smtp.EnhancedCode{4, 3, 0}, Message: "Try again later"}
	}
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = string(b)
	s.backend.mu.Lock()
	s.backend.msgs = append(s.backend.msgs, s.cur)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.cur = received{} }
func (s *testSession) Logout() error { return nil }

func startServer(t *testing.T) (*testBackend, string, string) {
	t.Helper()

	be := &testBackend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return be, host, port
}

func newPlainSMTP(host, port string) *SMTP {
	s := NewSMTP(model.SMTPConfig{Host: host, Port: port}, model.AccountConfig{Address: "me@example.com"})
	// The test server has no TLS and no auth.
	s.username = ""
	s.handshake = func(conn net.Conn) (*smtp.Client, error) { return smtp.NewClient(conn), nil }
	s.now = func() time.Time { return testDate }
	return s
}

func TestSMTP_Send(t *testing.T) {
	be, host, port := startServer(t)
	s := newPlainSMTP(host, port)

	err := s.Send(context.Background(), &Message{
		From:    "me@example.com",
		To:      "alice@x.com",
		Subject: "Hello",
		Body:    "Hi Alice",
	})
	require.NoError(t, err)

	be.mu.Lock()
	defer be.mu.Unlock()
	require.Len(t, be.msgs, 1)
	assert.Equal(t, "me@example.com", be.msgs[0].from)
	assert.Equal(t, []string{"alice@x.com"}, be.msgs[0].to)
	assert.Contains(t, be.msgs[0].data, "Subject: Hello")
}

func TestSMTP_SendRejected(t *testing.T) {
	_, host, port := startServer(t)
	s := newPlainSMTP(host, port)

	err := s.Send(context.Background(), &Message{From: "me@example.com", To: "reject@x.com", Body: "x"})
	require.Error(t, err)
	assert.True(t, retry.IsPermanent(err), "5xx is permanent: %v", err)

	err = s.Send(context.Background(), &Message{From: "me@example.com", To: "busy@x.com", Body: "x"})
	require.Error(t, err)
	assert.False(t, retry.IsPermanent(err), "4xx is transient: %v", err)
}

func TestSMTP_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, _ := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, ln.Close())

	s := newPlainSMTP(host, port)
	err = s.Send(context.Background(), &Message{From: "me@example.com", To: "a@x.com"})
	require.Error(t, err)
	assert.True(t, retry.Retryable(err))
}

func TestSMTP_SendAbortsWhenContextEnds(t *testing.T) {
	// Accepts the connection but never greets.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	t.Cleanup(func() {
		select {
		case conn := <-accepted:
			_ = conn.Close()
		default:
		}
	})

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	s := newPlainSMTP(host, port)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = s.Send(ctx, &Message{From: "me@example.com", To: "a@x.com", Body: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTP_Name(t *testing.T) {
	assert.Equal(t, "smtp", NewSMTP(model.SMTPConfig{}, model.AccountConfig{}).Name())
}
