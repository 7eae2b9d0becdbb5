package transport

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// BuildMessage renders msg as an RFC 5322 message. A message with an
// attachment becomes multipart/mixed; otherwise it is a single
// text/plain part.
func BuildMessage(msg *Message, date time.Time) ([]byte, error) {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return nil, fmt.Errorf("parsing sender %q: %w", msg.From, err)
	}
	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient %q: %w", msg.To, err)
	}

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer

	if msg.Attachment == nil {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := mail.CreateSingleInlineWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("creating message writer: %w", err)
		}
		if _, err := io.WriteString(w, msg.Body); err != nil {
			return nil, fmt.Errorf("writing body: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing body: %w", err)
		}
		return buf.Bytes(), nil
	}

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return nil, fmt.Errorf("creating body part: %w", err)
	}
	if _, err := io.WriteString(tw, msg.Body); err != nil {
		return nil, fmt.Errorf("writing body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing body: %w", err)
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(msg.Attachment.ContentType, nil)
	ah.SetFilename(msg.Attachment.Filename)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, fmt.Errorf("creating attachment part: %w", err)
	}
	if _, err := aw.Write(msg.Attachment.Data); err != nil {
		return nil, fmt.Errorf("writing attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, fmt.Errorf("closing attachment: %w", err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}
