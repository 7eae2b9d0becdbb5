package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/outreach/internal/model"
	"github.com/nhle/outreach/internal/retry"
)

const dialTimeout = 30 * time.Second

// SMTP sends mail through an authenticated SMTP relay with go-smtp.
type SMTP struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	timeout  time.Duration

	dial      func(ctx context.Context, addr string) (net.Conn, error)
	handshake func(conn net.Conn) (*smtp.Client, error)
	now       func() time.Time
}

// NewSMTP creates an SMTP transport for the configured relay and account.
func NewSMTP(cfg model.SMTPConfig, account model.AccountConfig) *SMTP {
	s := &SMTP{
		host:     cfg.Host,
		port:     cfg.Port,
		username: account.Address,
		password: account.Password,
		tls:      cfg.TLS,
		timeout:  cfg.Timeout,
		now:      time.Now,
	}
	s.dial = s.dialConn
	s.handshake = s.startSession
	return s
}

// Name returns the transport name.
func (s *SMTP) Name() string {
	return "smtp"
}

func (s *SMTP) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: s.host}
}

func (s *SMTP) dialConn(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	if s.tls {
		td := &tls.Dialer{NetDialer: d, Config: s.tlsConfig()}
		return td.DialContext(ctx, "tcp", addr)
	}
	return d.DialContext(ctx, "tcp", addr)
}

func (s *SMTP) startSession(conn net.Conn) (*smtp.Client, error) {
	if s.tls {
		return smtp.NewClient(conn), nil
	}
	return smtp.NewClientStartTLS(conn, s.tlsConfig())
}

// Send delivers msg over a fresh connection. Permanent (5xx) replies are
// marked with retry.Permanent.
//
// The connection is closed as soon as ctx ends, so an expired deadline
// aborts whatever SMTP exchange is in flight instead of leaving it running.
func (s *SMTP) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := BuildMessage(msg, s.now())
	if err != nil {
		return retry.Permanent(err)
	}

	addr := s.host + ":" + s.port
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connecting to SMTP %s: %w", addr, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := s.handshake(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("connecting to SMTP %s: %w", addr, errors.Join(err, ctx.Err()))
	}
	defer client.Close()
	if s.timeout > 0 {
		client.CommandTimeout = s.timeout
		client.SubmissionTimeout = s.timeout
	}

	if s.username != "" {
		auth := sasl.NewPlainClient("", s.username, s.password)
		if err := client.Auth(auth); err != nil {
			return classifySMTPError(fmt.Errorf("SMTP auth: %w", errors.Join(err, ctx.Err())))
		}
	}

	if err := client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return classifySMTPError(fmt.Errorf("sending to %s: %w", msg.To, errors.Join(err, ctx.Err())))
	}

	// The message is accepted once DATA completes; a failed QUIT does
	// not un-send it.
	_ = client.Quit()
	return nil
}

func classifySMTPError(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Code >= 500 {
		return retry.Permanent(err)
	}
	return err
}
